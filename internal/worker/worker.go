// Package worker assembles the controller and runs its loops.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/cjeanneret/SpectGo/internal/config"
	"github.com/cjeanneret/SpectGo/internal/debug"
	"github.com/cjeanneret/SpectGo/internal/hw/endswitch"
	"github.com/cjeanneret/SpectGo/internal/hw/gpio"
	"github.com/cjeanneret/SpectGo/internal/hw/host"
	"github.com/cjeanneret/SpectGo/internal/hw/lamp"
	"github.com/cjeanneret/SpectGo/internal/hw/stepper"
	"github.com/cjeanneret/SpectGo/internal/logic/command"
	"github.com/cjeanneret/SpectGo/internal/logic/mailbox"
	"github.com/cjeanneret/SpectGo/internal/logic/motion"
	"github.com/cjeanneret/SpectGo/internal/logic/queue"
	"github.com/cjeanneret/SpectGo/internal/web"
)

// Rig owns everything one worker process needs. Nothing in it is global.
type Rig struct {
	Driver     gpio.Driver
	Engine     *motion.Engine
	Lamps      *lamp.Bank
	Host       *host.Host
	Mailbox    *mailbox.Mailbox
	Broadcast  *queue.Queue
	Dispatcher *command.Dispatcher
	Viewers    *web.StatusBroadcaster
	Hub        *web.Hub
	Server     *web.Server
}

// Run opens the configured GPIO driver, builds the rig and runs it until ctx
// is done or a hardware fault occurs.
func Run(ctx context.Context, cfg *config.Config) error {
	debug.Summary(fmt.Sprintf("SpectGo worker, pid %d", os.Getpid()))
	debug.Step(1, "Initializing GPIO driver")
	debug.Value("Driver", cfg.Defaults.Driver)
	drv, err := gpio.NewDriver(cfg.Defaults.Driver, cfg.Defaults.GPIOChip)
	if err != nil {
		return errors.Wrap(err, "init GPIO")
	}

	rig, err := NewRig(cfg, drv)
	if err != nil {
		return multierr.Append(err, drv.Close())
	}
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(rig.Viewers)))
	defer debug.SetOutput(os.Stdout)
	return rig.Run(ctx)
}

// NewRig wires the controller over drv. On error, drv is left open.
func NewRig(cfg *config.Config, drv gpio.Driver) (*Rig, error) {
	r := &Rig{Driver: drv}
	readback := cfg.ReadbackTimeout()

	debug.Step(2, "Initializing motors and sensors")
	axes := make([]motion.Axis, 0, len(cfg.Axes))
	for _, a := range cfg.Axes {
		motor, err := stepper.New(drv, stepper.FromAxis(a, cfg.HalfStepping(), readback))
		if err != nil {
			return nil, errors.Wrapf(err, "axis %s", a.Name)
		}
		debug.PrintStruct("Axis "+a.Name, a)
		axes = append(axes, motion.Axis{
			Name:          a.Name,
			Motor:         motor,
			NegativeLimit: a.NegativeLimit,
			PositiveLimit: a.PositiveLimit,
			ZeroSteps:     a.ZeroSteps,
			CenterSteps:   a.CenterSteps,
		})
	}
	switches, err := endswitch.NewReader(drv, cfg.EndSwitches.Pins, cfg.EndSwitches.ActiveLow)
	if err != nil {
		return nil, err
	}
	r.Lamps, err = lamp.NewBank(drv, cfg.Lamps.Pins, cfg.Lamps.ActiveLow, readback)
	if err != nil {
		return nil, err
	}

	debug.Step(3, "Initializing queues and control loop")
	r.Broadcast = queue.New(cfg.Server.QueueCapacity, cfg.Server.MessageLen)
	r.Mailbox = mailbox.New(cfg.MailboxTimeout(), cfg.Server.CommandLen)
	r.Engine, err = motion.NewEngine(axes, switches, r.Broadcast, motion.Options{
		Speed:            cfg.Motion.Speed,
		MaxSpeed:         cfg.Motion.MaxSpeed,
		CenteringSpeed:   cfg.Motion.CenteringSpeed,
		DebounceSteps:    cfg.EndSwitches.DebounceSteps,
		ReportEverySteps: cfg.Motion.ReportEverySteps,
		TickPoll:         cfg.TickPoll(),
	})
	if err != nil {
		return nil, err
	}
	r.Host = host.New(cfg.Host)
	r.Dispatcher = command.NewDispatcher(r.Engine, r.Lamps, r.Host, r.Broadcast, r.Mailbox, cfg.ControlPoll())

	debug.Step(4, "Initializing network adapter")
	r.Viewers = web.NewStatusBroadcaster()
	r.Hub = web.NewHub(r.Broadcast, r.Viewers, cfg.DrainInterval(), cfg.Server.ExclusiveClient)
	handlers := web.NewHandlers(r.Hub, r.Mailbox, r.Engine, infoFromConfig(cfg), web.Options{
		DrainInterval: cfg.DrainInterval(),
		QueueCapacity: cfg.Server.QueueCapacity,
		MessageLen:    cfg.Server.MessageLen,
	}, nil)
	r.Server, err = web.NewServer(cfg.Server.Addr, handlers)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func infoFromConfig(cfg *config.Config) web.Info {
	info := web.Info{
		MaxSpeed:  cfg.Motion.MaxSpeed,
		Protocol:  cfg.Server.Protocol,
		Exclusive: cfg.Server.ExclusiveClient,
	}
	for _, a := range cfg.Axes {
		info.Axes = append(info.Axes, web.AxisInfo{
			Name:          a.Name,
			Kind:          a.Kind,
			NegativeLimit: a.NegativeLimit,
			PositiveLimit: a.PositiveLimit,
		})
	}
	return info
}

// Run starts the stepping loop, the control loop and the network adapter.
// When ctx is done or a loop fails it stops the stepping side first, relaxes
// every axis, turns the lamps off, stops the network side and closes the
// driver. The first loop failure is returned along with any shutdown errors.
func (r *Rig) Run(ctx context.Context) error {
	motionCtx, stopMotion := context.WithCancel(ctx)
	defer stopMotion()
	netCtx, stopNet := context.WithCancel(context.Background())
	defer stopNet()

	failed := make(chan error, 4)
	var motionWG, netWG sync.WaitGroup
	start := func(ctx context.Context, wg *sync.WaitGroup, name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil {
				failed <- errors.Wrap(err, name)
			}
		}()
	}

	debug.Section("Running")
	start(netCtx, &netWG, "hub", r.Hub.Run)
	start(netCtx, &netWG, "web server", r.Server.Run)
	start(motionCtx, &motionWG, "stepping loop", r.Engine.Run)
	start(motionCtx, &motionWG, "control loop", r.Dispatcher.Run)

	var runErr error
	select {
	case <-ctx.Done():
		debug.Info("Shutting down")
	case runErr = <-failed:
		debug.Error(runErr)
	}

	stopMotion()
	motionWG.Wait()
	err := runErr
	err = multierr.Append(err, errors.Wrap(r.Engine.Relax(), "relax axes"))
	err = multierr.Append(err, errors.Wrap(r.Lamps.AllOff(), "lamps off"))
	stopNet()
	netWG.Wait()
	err = multierr.Append(err, errors.Wrap(r.Driver.Close(), "close GPIO driver"))

	close(failed)
	for e := range failed {
		if e != runErr {
			err = multierr.Append(err, e)
		}
	}
	return err
}
