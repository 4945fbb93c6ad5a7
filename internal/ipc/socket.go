package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning matches any RunningError.
var ErrAlreadyRunning = errors.New("posvoice daemon already running")

// RunningError carries the status reported by the daemon that owns the socket.
type RunningError struct {
	Status Response
}

func (e *RunningError) Error() string { return ErrAlreadyRunning.Error() }

func (e *RunningError) Is(target error) bool { return target == ErrAlreadyRunning }

// RuntimeSocketPath returns the daemon socket under XDG_RUNTIME_DIR.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, "posvoice.sock"), nil
}

// Acquire claims path for a new daemon. A socket file nothing listens on
// is unlinked and claimed; a live owner yields a *RunningError.
func Acquire(ctx context.Context, path string, statusTimeout time.Duration) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	// Two rounds: the second covers a peer that raced us to the unlinked path.
	var err error
	for range 2 {
		var listener net.Listener
		listener, err = listen(path)
		if err == nil || !errors.Is(err, syscall.EADDRINUSE) {
			return listener, err
		}

		status, statusErr := OwnerStatus(ctx, path, statusTimeout)
		if statusErr != nil {
			return nil, fmt.Errorf("query socket owner %s: %w", path, statusErr)
		}
		if status != nil {
			return nil, &RunningError{Status: *status}
		}

		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, removeErr)
		}
	}
	return nil, err
}

func listen(path string) (net.Listener, error) {
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("restrict socket %s: %w", path, err)
	}
	return listener, nil
}
