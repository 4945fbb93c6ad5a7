package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rbright/posvoice/internal/audio"
	"github.com/rbright/posvoice/internal/bridge"
	"github.com/rbright/posvoice/internal/config"
	"github.com/rbright/posvoice/internal/feed"
	"github.com/rbright/posvoice/internal/indicator"
	"github.com/rbright/posvoice/internal/interpret"
	"github.com/rbright/posvoice/internal/ipc"
	"github.com/rbright/posvoice/internal/metrics"
	"github.com/rbright/posvoice/internal/realtime"
)

func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond)
	if err != nil {
		var running *ipc.RunningError
		if errors.As(err, &running) {
			fmt.Fprintf(r.Stderr, "error: posvoice daemon already running (%s)\n", formatStatus(running.Status))
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	m := metrics.New()
	hub := feed.NewHub(logger)
	defer hub.Close()

	client := bridge.New(cfg.Bridge.BaseURL, millis(cfg.Bridge.TimeoutMS), logger)

	planner, err := buildPlanner(cfg.Planner, client)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: select audio device: %v\n", err)
		return 1
	}
	if selection.Warning != "" {
		fmt.Fprintf(r.Stderr, "warning: %s\n", selection.Warning)
		logger.Warn("audio device fallback", "warning", selection.Warning)
	}
	logger.Info("audio device selected", "id", selection.Device.ID, "description", selection.Device.Description)

	var sink realtime.Sink
	speaker, err := audio.OpenSpeaker()
	if err != nil {
		logger.Warn("open speaker failed; spoken feedback muted", "error", err.Error())
	} else {
		sink = speaker
		defer speaker.Close()
	}

	// Cues share the assistant stream when one is open.
	cues := indicator.NewCues(cfg.Indicator, sink, logger)
	defer cues.Wait()

	// The engine is built after the session it drives; errors reach it late-bound.
	var engine *Engine
	voice := realtime.New(realtime.Options{
		Config: realtime.Config{
			TokenPath:    cfg.Realtime.TokenPath,
			SDPPath:      cfg.Realtime.SDPPath,
			Model:        cfg.Realtime.Model,
			Language:     cfg.Realtime.Language,
			Prompt:       config.TranscriptionPrompt(cfg),
			VADThreshold: cfg.Realtime.VADThreshold,
			Silence:      millis(cfg.Realtime.SilenceMS),
			OpenTimeout:  millis(cfg.Realtime.OpenTimeoutMS),
		},
		Signaler: client,
		Dial:     realtime.DialPion,
		OpenMic: func(ctx context.Context) (realtime.Microphone, error) {
			capture, err := audio.StartCapture(ctx, selection.Device)
			if err != nil {
				return nil, err
			}
			return capture, nil
		},
		Sink:    sink,
		Logger:  logger,
		Metrics: m,
		OnError: func(err error) {
			if engine != nil {
				engine.OnVoiceError(err)
			}
		},
	})
	defer func() { _ = voice.Close() }()

	engine, err = NewEngine(EngineOptions{
		Config:  cfg,
		Logger:  logger,
		Voice:   voice,
		Catalog: client,
		Planner: planner,
		Cues:    cues,
		Metrics: m,
		Feed:    hub,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if addr := strings.TrimSpace(cfg.Feed.Listen); addr != "" {
		server := feed.NewServer(hub, m.Handler(), func() error {
			if !voice.Connected() {
				return errors.New("realtime session disconnected")
			}
			return nil
		}, logger)
		go func() {
			if err := server.Serve(runCtx, addr); err != nil {
				logger.Error("feed server failed", "addr", addr, "error", err.Error())
			}
		}()
	}

	if err := voice.Connect(runCtx); err != nil {
		fmt.Fprintf(r.Stderr, "warning: realtime session not connected yet: %v\n", err)
		logger.Warn("initial realtime connect failed", "error", err.Error())
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(runCtx, listener, engine, logger)
	}()

	logger.Info("daemon ready", "socket", socketPath, "bridge", client.BaseURL())
	fmt.Fprintf(r.Stdout, "posvoice listening on %s\n", socketPath)

	_ = engine.Run(runCtx)
	cancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logger.Info("daemon stopped")
	return 0
}

func buildPlanner(cfg config.PlannerConfig, client *bridge.Client) (interpret.Planner, error) {
	switch cfg.Backend {
	case "openai":
		key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, errors.New("planner backend openai requires OPENAI_API_KEY")
		}
		return interpret.NewOpenAIPlanner(key, cfg.Model, os.Getenv("OPENAI_BASE_URL")), nil
	case "none":
		return interpret.NoPlanner(), nil
	default:
		return interpret.BridgePlanner{Client: client, Path: cfg.Path}, nil
	}
}
