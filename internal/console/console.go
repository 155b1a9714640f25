// Package console is the operator shell on the robot's terminal.
package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/abiosoft/ishell/v2"

	"github.com/cjeanneret/ClimbGo/internal/logic/maneuver"
	"github.com/cjeanneret/ClimbGo/internal/logic/runner"
)

// Controller is the part of the runner the console drives.
type Controller interface {
	Submit(cmd runner.Command) error
	Snapshot() runner.Snapshot
}

// Console maps shell commands onto runner commands.
type Console struct {
	ctrl  Controller
	plan  maneuver.Plan
	shell *ishell.Shell
}

type command struct {
	name string
	help string
}

var commands = []command{
	{"toggle", "toggle: start the current maneuver, or stop and rewind the plan"},
	{"climb", "climb start|stop"},
	{"stop", "stop: stop the drive and the climb"},
	{"seek", "seek <index>: select the maneuver the next toggle starts from (1-based)"},
	{"status", "status: show both state machines"},
	{"plan", "plan: list the maneuvers"},
}

func newConsole(ctrl Controller, plan maneuver.Plan) *Console {
	return &Console{ctrl: ctrl, plan: plan}
}

// New creates the interactive shell.
func New(ctrl Controller, plan maneuver.Plan) *Console {
	c := newConsole(ctrl, plan)

	shell := ishell.New()
	shell.Println("ClimbGo console. Type 'help' for commands.")
	for _, cmd := range commands {
		name := cmd.name
		shell.AddCmd(&ishell.Cmd{
			Name: name,
			Help: cmd.help,
			Func: func(ctx *ishell.Context) {
				out, err := c.Exec(strings.Join(append([]string{name}, ctx.Args...), " "))
				if err != nil {
					ctx.Println("error:", err)
					return
				}
				if out != "" {
					ctx.Println(out)
				}
			},
		})
	}
	c.shell = shell
	return c
}

// Run serves the shell until the operator exits or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.shell.Run()
		close(done)
	}()

	select {
	case <-ctx.Done():
		c.shell.Close()
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Exec runs one command line and returns what to print.
func (c *Console) Exec(line string) (string, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return "", nil
	}

	switch fields[0] {
	case "toggle":
		return c.submit(runner.CmdToggle)
	case "stop":
		return c.submit(runner.CmdStopAll)
	case "climb":
		if len(fields) != 2 {
			return "", fmt.Errorf("usage: climb start|stop")
		}
		switch fields[1] {
		case "start":
			return c.submit(runner.CmdClimbStart)
		case "stop":
			return c.submit(runner.CmdClimbStop)
		default:
			return "", fmt.Errorf("usage: climb start|stop")
		}
	case "seek":
		cmd, err := runner.ParseCommand(line)
		if err != nil {
			return "", err
		}
		// operators count maneuvers from 1
		if cmd.Index < 1 || cmd.Index > c.plan.Len() {
			return "", fmt.Errorf("seek: maneuver %d out of range 1..%d", cmd.Index, c.plan.Len())
		}
		cmd.Index--
		return c.submit(cmd)
	case "status":
		return c.status(), nil
	case "plan":
		return c.listPlan(), nil
	default:
		return "", fmt.Errorf("unknown command %q", fields[0])
	}
}

func (c *Console) submit(cmd runner.Command) (string, error) {
	if err := c.ctrl.Submit(cmd); err != nil {
		return "", err
	}
	return "ok: " + cmd.String(), nil
}

func (c *Console) status() string {
	s := c.ctrl.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "t=%d ms\n", s.At)
	fmt.Fprintf(&b, "drive: %s maneuver %d/%d target %d ticks, odometry %d/%d, power %d/%d\n",
		s.Drive.State, s.Drive.ManeuverIndex+1, s.PlanLength, s.Drive.Target,
		s.Drive.LeftTicks, s.Drive.RightTicks, s.Drive.LeftPower, s.Drive.RightPower)
	fmt.Fprintf(&b, "climb: %s current %d power %d", s.Climb.State, s.Climb.Current, s.Climb.Power)
	return b.String()
}

func (c *Console) listPlan() string {
	var b strings.Builder
	for i, m := range c.plan.Maneuvers() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, m)
	}
	return b.String()
}
