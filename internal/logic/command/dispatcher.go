package command

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/SpectGo/internal/debug"
	"github.com/cjeanneret/SpectGo/internal/hw/endswitch"
	"github.com/cjeanneret/SpectGo/internal/logic/mailbox"
	"github.com/cjeanneret/SpectGo/internal/logic/motion"
)

// Engine is the part of the stepping engine the dispatcher drives.
type Engine interface {
	AxisNames() []string
	SetSpeed(n int) bool
	Speed() int
	EndSwitches() (endswitch.Mask, error)
	Move(axis string, dir motion.Direction, target int) error
	StopAll() error
	GoToCenter() error
}

// Lamps is the lamp bank.
type Lamps interface {
	Toggle(n int) (uint8, error)
	Mask() uint8
	AllOff() error
}

// Admin performs host administration.
type Admin interface {
	NetConfig() string
	ChangeNet(ctx context.Context, params string) error
	Reboot() error
}

// Sink receives outbound lines. *queue.Queue satisfies it.
type Sink interface {
	Push(line string) bool
}

// Dispatcher applies commands taken from the mailbox. Query results and
// confirmations go to the broadcast sink; rejections go to the requester.
type Dispatcher struct {
	engine    Engine
	lamps     Lamps
	admin     Admin
	broadcast Sink
	mailbox   *mailbox.Mailbox
	poll      time.Duration
	axes      []string
}

// NewDispatcher creates a dispatcher. admin may be nil, in which case the
// administrative commands only answer with an error line.
func NewDispatcher(engine Engine, lamps Lamps, admin Admin, broadcast Sink, mb *mailbox.Mailbox, poll time.Duration) *Dispatcher {
	if poll <= 0 {
		poll = 100 * time.Microsecond
	}
	return &Dispatcher{
		engine:    engine,
		lamps:     lamps,
		admin:     admin,
		broadcast: broadcast,
		mailbox:   mb,
		poll:      poll,
		axes:      engine.AxisNames(),
	}
}

// Run is the control loop: it drains the mailbox once per poll period
// until ctx is done. A hardware fault while applying a command is returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	debug.Verbose("Control loop started (poll %v)", d.poll)
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			debug.Verbose("Control loop stopped")
			return nil
		case <-ticker.C:
			cmd, ok := d.mailbox.TryTake()
			if !ok {
				continue
			}
			if err := d.Dispatch(ctx, cmd); err != nil {
				return err
			}
		}
	}
}

// Dispatch applies one command. Only hardware faults are returned; every
// other outcome is reported as a text line.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd mailbox.Command) error {
	debug.Command(cmd.Text)
	act, err := Parse(cmd.Text, d.axes)
	if err != nil {
		var rej *RejectedError
		if errors.As(err, &rej) && rej.Reason != "" && cmd.Reply != nil {
			cmd.Reply.Push(rej.Reason)
		}
		debug.Verbose("Rejected %q: %v", cmd.Text, err)
		return nil
	}

	switch act.Kind {
	case SetSpeed:
		d.engine.SetSpeed(act.Speed)
	case QuerySpeed:
		d.say("curspd=%d", d.engine.Speed())
	case QuerySwitches:
		mask, err := d.engine.EndSwitches()
		if err != nil {
			return errors.Wrap(err, "query end-switches")
		}
		d.say("esw=%d", mask)
	case QueryLamps:
		d.say("lamps=%d", d.lamps.Mask())
	case Move:
		return d.move(act)
	case Stop:
		if err := d.engine.Move(act.Axis, motion.Idle, 0); err != nil {
			return errors.Wrapf(err, "stop axis %s", act.Axis)
		}
		d.say("stop motor %s", act.Axis)
	case AllOff:
		if err := d.engine.StopAll(); err != nil {
			return errors.Wrap(err, "stop all")
		}
		if err := d.lamps.AllOff(); err != nil {
			return errors.Wrap(err, "lamps off")
		}
		d.say("All off")
	case ToggleLamp:
		mask, err := d.lamps.Toggle(act.Lamp)
		if err != nil {
			return errors.Wrapf(err, "toggle lamp %d", act.Lamp)
		}
		d.say("lamp %d switched, state: %d", act.Lamp, mask)
	case Center:
		if err := d.engine.GoToCenter(); err != nil {
			return errors.Wrap(err, "go to center")
		}
		d.say("Go to center")
	case GetNet:
		if d.admin == nil {
			d.say("net=ERR")
			return nil
		}
		d.say("net=%s", d.admin.NetConfig())
	case ChangeNet:
		if d.admin == nil {
			d.say("Error! Can't change network settings")
			return nil
		}
		if err := d.admin.ChangeNet(ctx, act.Params); err != nil {
			debug.Error(err)
			d.say("Error! Can't change network settings")
		}
	case Reboot:
		d.say("REBOOT!")
		if d.admin == nil {
			return nil
		}
		if err := d.admin.Reboot(); err != nil {
			debug.Error(err)
		}
	}
	return nil
}

func (d *Dispatcher) move(act Action) error {
	err := d.engine.Move(act.Axis, act.Dir, 0)
	switch {
	case err == nil:
		d.say("move motor %s to %s", act.Axis, act.Dir)
	case errors.Is(err, motion.ErrAtLimit):
		// the engine already told everyone
	case errors.Is(err, motion.ErrUnknownAxis):
		debug.Verbose("%v", err)
	default:
		return errors.Wrapf(err, "move axis %s", act.Axis)
	}
	return nil
}

func (d *Dispatcher) say(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if !d.broadcast.Push(line) {
		debug.Verbose("Broadcast queue full, dropped %q", line)
	}
}
