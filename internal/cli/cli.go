package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandJoin    Command = "join"
	CommandRecord  Command = "record"
	CommandStop    Command = "stop"
	CommandSubmit  Command = "submit"
	CommandEnd     Command = "end"
	CommandReplay  Command = "replay"
	CommandAnswer  Command = "answer"
	CommandRefresh Command = "refresh"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandConfig  Command = "config"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandJoin:    {},
	CommandRecord:  {},
	CommandStop:    {},
	CommandSubmit:  {},
	CommandEnd:     {},
	CommandReplay:  {},
	CommandAnswer:  {},
	CommandRefresh: {},
	CommandStatus:  {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandConfig:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

// Parsed is the result of parsing argv.
type Parsed struct {
	Command     Command
	ConfigPath  string
	InterviewID string
	Name        string
	Email       string
	ReportPath  string
	// Text is the answer body for the answer command.
	Text     string
	ShowHelp bool
}

// Remote reports whether the command is forwarded to a running session.
func (p Parsed) Remote() bool {
	switch p.Command {
	case CommandRecord, CommandStop, CommandSubmit, CommandEnd, CommandReplay, CommandAnswer, CommandRefresh:
		return true
	}
	return false
}

var valueFlags = map[string]func(*Parsed, string){
	"--config":    func(p *Parsed, v string) { p.ConfigPath = v },
	"--interview": func(p *Parsed, v string) { p.InterviewID = v },
	"--name":      func(p *Parsed, v string) { p.Name = v },
	"--email":     func(p *Parsed, v string) { p.Email = v },
	"--report":    func(p *Parsed, v string) { p.ReportPath = v },
}

var flagMeta = map[string]string{
	"--config":    "a path",
	"--interview": "an id",
	"--name":      "a value",
	"--email":     "a value",
	"--report":    "a path",
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}
	seenCommand := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if set, ok := valueFlags[arg]; ok {
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return Parsed{}, fmt.Errorf("%s requires %s", arg, flagMeta[arg])
			}
			set(&parsed, args[i])
			continue
		}

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
			continue
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
			continue
		}

		if strings.HasPrefix(arg, "-") {
			return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
		}
		if seenCommand {
			return Parsed{}, fmt.Errorf("unexpected arguments after command %q", parsed.Command)
		}

		cmd := Command(arg)
		if _, ok := validCommands[cmd]; !ok {
			return Parsed{}, fmt.Errorf("unknown command: %s", arg)
		}
		seenCommand = true
		parsed.Command = cmd
		parsed.ShowHelp = cmd == CommandHelp

		if cmd == CommandAnswer {
			parsed.Text = strings.TrimSpace(strings.Join(args[i+1:], " "))
			if parsed.Text == "" {
				return Parsed{}, errors.New("answer requires text")
			}
			break
		}
	}

	if parsed.ReportPath != "" && parsed.Command != CommandJoin {
		return Parsed{}, errors.New("--report is only valid with join")
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [flags] <command>

Commands:
  join          Join an interview and run the session in this terminal
  record        Start recording, or stop when already recording
  stop          Stop recording and send the clip for transcription
  submit        Submit the current answer
  end           End the interview now
  replay        Play the question audio again
  answer TEXT   Replace the current answer with TEXT
  refresh       Load the current question again
  status        Print the running session state
  devices       List available input devices
  doctor        Run configuration and environment checks
  config        Print the effective configuration as YAML
  version       Print version information
  help          Show this help

Flags:
  --config PATH     Config file path (default: $XDG_CONFIG_HOME/intervue/config.jsonc)
  --interview ID    Interview to join
  --name NAME       Candidate name
  --email EMAIL     Candidate email
  --report PATH     Write a YAML session report when join finishes
  -h, --help        Show help
  --version         Show version
`, binaryName)
}
