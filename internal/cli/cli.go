// Package cli parses posvoice command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandPress   Command = "press"
	CommandRelease Command = "release"
	CommandLatch   Command = "latch"
	CommandCancel  Command = "cancel"
	CommandStatus  Command = "status"
	CommandType    Command = "type"
	CommandSay     Command = "say"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRun:     {},
	CommandPress:   {},
	CommandRelease: {},
	CommandLatch:   {},
	CommandCancel:  {},
	CommandStatus:  {},
	CommandType:    {},
	CommandSay:     {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

// textCommands take the rest of the command line as free text.
var textCommands = map[Command]struct{}{
	CommandType: {},
	CommandSay:  {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
	// Text is the joined argument of type and say.
	Text string
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp

			if _, ok := textCommands[cmd]; ok {
				text := strings.TrimSpace(strings.Join(args[i+1:], " "))
				if text == "" {
					return Parsed{}, fmt.Errorf("%s requires text", arg)
				}
				parsed.Text = text
				return parsed, nil
			}
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command>

Commands:
  run        Start the voice POS daemon
  press      Start listening (push-to-talk down)
  release    Stop listening (push-to-talk up)
  latch      Toggle hands-free listening
  cancel     Cancel the current turn and discard its transcript
  status     Print listening, connection and cart state
  type TEXT  Run typed text through the command pipeline
  say TEXT   Speak text through the realtime session
  devices    List available input devices
  doctor     Run configuration and environment checks
  version    Print version information
  help       Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/posvoice/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
