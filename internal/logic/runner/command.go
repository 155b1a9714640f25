package runner

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is an operator command understood by the runner.
type Op int

const (
	OpToggle Op = iota
	OpClimbStart
	OpClimbStop
	OpStopAll
	OpSeek
)

func (o Op) String() string {
	switch o {
	case OpToggle:
		return "toggle"
	case OpClimbStart:
		return "climb_start"
	case OpClimbStop:
		return "climb_stop"
	case OpStopAll:
		return "stop"
	case OpSeek:
		return "seek"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Command is an operator request. Index is only used by OpSeek.
type Command struct {
	Op    Op
	Index int
}

var (
	CmdToggle     = Command{Op: OpToggle}
	CmdClimbStart = Command{Op: OpClimbStart}
	CmdClimbStop  = Command{Op: OpClimbStop}
	CmdStopAll    = Command{Op: OpStopAll}
)

// CmdSeek selects the maneuver the next toggle starts from.
func CmdSeek(index int) Command {
	return Command{Op: OpSeek, Index: index}
}

func (c Command) String() string {
	if c.Op == OpSeek {
		return fmt.Sprintf("seek %d", c.Index)
	}
	return c.Op.String()
}

// ParseCommand parses the text form used by the console and the WebSocket:
// "toggle", "climb_start", "climb_stop", "stop" or "seek <index>".
func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	switch fields[0] {
	case "toggle":
		return CmdToggle, nil
	case "climb_start":
		return CmdClimbStart, nil
	case "climb_stop":
		return CmdClimbStop, nil
	case "stop":
		return CmdStopAll, nil
	case "seek":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("usage: seek <index>")
		}
		i, err := strconv.Atoi(fields[1])
		if err != nil {
			return Command{}, fmt.Errorf("invalid maneuver index %q: %w", fields[1], err)
		}
		return CmdSeek(i), nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
}
