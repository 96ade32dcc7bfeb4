package navigation

import "fmt"

// Command is one symbol of the actuator alphabet.
type Command byte

const (
	CommandMove     Command = 'c'
	CommandReset    Command = 'r'
	CommandStop     Command = 's'
	CommandLongBeep Command = 'l'
)

func (c Command) String() string {
	switch c {
	case CommandMove:
		return "MOVE"
	case CommandReset:
		return "RESET"
	case CommandStop:
		return "STOP"
	case CommandLongBeep:
		return "LONG_BEEP"
	default:
		return fmt.Sprintf("Command(%q)", byte(c))
	}
}

// Describe returns the operator-facing meaning of the command.
func (c Command) Describe() string {
	switch c {
	case CommandMove:
		return "Bot starts moving"
	case CommandReset:
		return "Striking mechanism reset"
	case CommandStop:
		return "Bot stops to strike"
	case CommandLongBeep:
		return "Bot reached capital"
	default:
		return "unknown command"
	}
}

// ParseCommand maps a wire symbol back to a Command.
func ParseCommand(b byte) (Command, error) {
	switch c := Command(b); c {
	case CommandMove, CommandReset, CommandStop, CommandLongBeep:
		return c, nil
	default:
		return 0, fmt.Errorf("unknown command %q", b)
	}
}
