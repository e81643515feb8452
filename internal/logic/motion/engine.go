package motion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/cjeanneret/SpectGo/internal/debug"
	"github.com/cjeanneret/SpectGo/internal/hw/endswitch"
	"github.com/cjeanneret/SpectGo/internal/hw/stepper"
)

// ErrUnknownAxis is returned for an axis name the engine does not drive.
var ErrUnknownAxis = errors.New("motion: unknown axis")

// ErrAtLimit is returned when a move is refused because the end-switch
// guarding that direction is already tripped.
var ErrAtLimit = errors.New("motion: end-switch already reached")

// Sink receives status lines. *queue.Queue satisfies it.
type Sink interface {
	Push(line string) bool
}

// SwitchReader samples the end-switches.
type SwitchReader interface {
	Read() (endswitch.Mask, error)
}

// Axis describes one motor driven by the engine.
type Axis struct {
	Name          string
	Motor         stepper.Stepper
	NegativeLimit int // end-switch stopping negative moves, 0 = none
	PositiveLimit int // end-switch stopping positive moves, 0 = none
	ZeroSteps     int // centering phase one length, 0 = until the negative limit
	CenterSteps   int // centering phase two length
}

// Options holds the clock and notification parameters.
type Options struct {
	Speed            int // initial steps per second
	MaxSpeed         int // exclusive upper bound for SetSpeed
	CenteringSpeed   int
	DebounceSteps    int // consecutive full steps a limit must read tripped
	ReportEverySteps int // nsteps=<n> period, 0 = off
	TickPoll         time.Duration
}

// AxisState is a snapshot of one axis.
type AxisState struct {
	Name      string
	Direction Direction
	Phase     int
	Steps     int
	Target    int
	Centering CenteringStage
}

type axis struct {
	Axis
	direction Direction
	phase     int
	steps     int
	target    int
	centering CenteringStage
	tripped   int // consecutive full steps with the guarding limit tripped
}

// Engine owns the per-axis motion state and the shared step clock.
// The stepping loop (Run) and the command dispatcher both call into it;
// every exported method is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	axes     []*axis
	byName   map[string]*axis
	switches SwitchReader
	sink     Sink
	opts     Options
	phases   int // ticks per full step, shared by every axis

	speed     int  // user speed
	centering bool // go-to-center maneuver in progress
	aborted   bool // maneuver cancelled by an operator move
}

// NewEngine builds an engine over the given axes. Every axis must use the
// same number of phases per step since they share one clock.
func NewEngine(axes []Axis, switches SwitchReader, sink Sink, opts Options) (*Engine, error) {
	if len(axes) == 0 {
		return nil, errors.New("motion: no axes")
	}
	if opts.Speed <= 0 || opts.Speed >= opts.MaxSpeed {
		return nil, errors.Errorf("motion: speed %d outside (0, %d)", opts.Speed, opts.MaxSpeed)
	}
	if opts.CenteringSpeed <= 0 {
		opts.CenteringSpeed = opts.MaxSpeed - 1
	}
	if opts.TickPoll <= 0 {
		opts.TickPoll = 10 * time.Microsecond
	}

	e := &Engine{
		byName:   make(map[string]*axis, len(axes)),
		switches: switches,
		sink:     sink,
		opts:     opts,
		speed:    opts.Speed,
		phases:   axes[0].Motor.Phases(),
	}
	for _, a := range axes {
		if a.Motor.Phases() != e.phases {
			return nil, errors.Errorf("motion: axis %s has %d phases, want %d", a.Name, a.Motor.Phases(), e.phases)
		}
		if _, dup := e.byName[a.Name]; dup {
			return nil, errors.Errorf("motion: duplicate axis %s", a.Name)
		}
		ax := &axis{Axis: a}
		e.axes = append(e.axes, ax)
		e.byName[a.Name] = ax
	}
	return e, nil
}

// AxisNames returns the axis letters in configuration order.
func (e *Engine) AxisNames() []string {
	names := make([]string, len(e.axes))
	for i, a := range e.axes {
		names[i] = a.Name
	}
	return names
}

// Move commands one axis. Idle stops it (and advances a pending centering
// stage); any other direction starts a move of target full steps, 0 meaning
// until stopped. An operator move cancels centering on that axis.
func (e *Engine) Move(name string, dir Direction, target int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.byName[name]
	if !ok {
		return errors.Wrapf(ErrUnknownAxis, "%q", name)
	}
	if dir != Idle && a.centering != None {
		debug.Info("Axis %s: centering cancelled by operator move", a.Name)
		a.centering = None
		e.aborted = true
		if err := e.finishCenteringLocked(); err != nil {
			return err
		}
	}
	return e.moveLocked(a, dir, target)
}

// GoToCenter starts the two-phase centering maneuver on every axis.
func (e *Engine) GoToCenter() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	debug.Info("Go to center (clock %d steps/s)", e.opts.CenteringSpeed)
	e.centering = true
	e.aborted = false
	// Every axis enters phase one before any moves, so one that finishes
	// at once does not end the maneuver for the others.
	for _, a := range e.axes {
		a.centering = PhaseOne
	}
	var err error
	for _, a := range e.axes {
		// An axis already on its zero limit goes straight to phase two.
		if merr := e.moveLocked(a, Negative, a.ZeroSteps); !errors.Is(merr, ErrAtLimit) {
			err = multierr.Append(err, merr)
		}
	}
	return err
}

// Tick advances every moving axis by one phase. It is called by Run once
// per step interval; tests call it directly.
func (e *Engine) Tick() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.movingLocked() {
		return nil
	}
	mask, err := e.switches.Read()
	if err != nil {
		return errors.Wrap(err, "read end-switches")
	}

	for _, a := range e.axes {
		if a.direction == Idle {
			continue
		}
		if err := a.Motor.Apply(a.phase); err != nil {
			return errors.Wrapf(err, "axis %s phase %d", a.Name, a.phase)
		}
		if !a.advance() {
			continue
		}
		a.steps++
		if n := e.opts.ReportEverySteps; n > 0 && a.steps%n == 0 {
			e.notify("nsteps=%d", a.steps)
		}

		if a.target > 0 && a.steps >= a.target {
			debug.Live("Axis %s: position %d steps reached", a.Name, a.steps)
			e.notify("position %d steps reached", a.steps)
			if err := e.moveLocked(a, Idle, 0); err != nil {
				return err
			}
			continue
		}

		if sw := a.limitFor(a.direction); sw > 0 && mask.Tripped(sw) {
			a.tripped++
			if a.tripped >= e.opts.DebounceSteps {
				debug.Info("Axis %s: end-switch %d reached at %d steps", a.Name, sw, a.steps)
				e.notify("esw=%d", mask)
				e.notify("end-switch %d reached at %d steps", sw, a.steps)
				if err := e.moveLocked(a, Idle, 0); err != nil {
					return err
				}
			}
		} else {
			a.tripped = 0
		}
	}
	return nil
}

// SetSpeed changes the user speed. Values outside (0, MaxSpeed) are ignored.
// The new interval applies from the next tick.
func (e *Engine) SetSpeed(n int) bool {
	if n <= 0 || n >= e.opts.MaxSpeed {
		debug.Verbose("Speed %d ignored (max %d)", n, e.opts.MaxSpeed)
		return false
	}
	e.mu.Lock()
	e.speed = n
	e.mu.Unlock()
	debug.Printf("Speed set to %d", n)
	e.notify("curspd=%d", n)
	return true
}

// Speed returns the user speed.
func (e *Engine) Speed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// Interval returns the time between two ticks at the current clock.
func (e *Engine) Interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.intervalLocked()
}

func (e *Engine) intervalLocked() time.Duration {
	speed := e.speed
	if e.centering {
		speed = e.opts.CenteringSpeed
	}
	return time.Second / time.Duration(speed*e.phases)
}

// EndSwitches reads the end-switch mask.
func (e *Engine) EndSwitches() (endswitch.Mask, error) {
	return e.switches.Read()
}

// Centering reports whether the go-to-center maneuver is in progress.
func (e *Engine) Centering() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.centering
}

// Moving reports whether any axis is moving.
func (e *Engine) Moving() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.movingLocked()
}

// State returns a snapshot of the named axis.
func (e *Engine) State(name string) (AxisState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.byName[name]
	if !ok {
		return AxisState{}, false
	}
	return AxisState{
		Name:      a.Name,
		Direction: a.direction,
		Phase:     a.phase,
		Steps:     a.steps,
		Target:    a.target,
		Centering: a.centering,
	}, true
}

// StopAll stops every axis and cancels centering.
func (e *Engine) StopAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	debug.Info("Stop all axes")
	if e.centering {
		e.centering = false
		e.aborted = true
	}
	var err error
	for _, a := range e.axes {
		a.centering = None
		err = multierr.Append(err, e.moveLocked(a, Idle, 0))
	}
	return err
}

// Relax de-energizes every motor. Used on shutdown.
func (e *Engine) Relax() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.centering = false
	var err error
	for _, a := range e.axes {
		a.direction = Idle
		a.centering = None
		err = multierr.Append(err, errors.Wrapf(a.Motor.Relax(), "relax axis %s", a.Name))
	}
	return err
}

// Run is the stepping loop. It polls every TickPoll and ticks once the
// current interval has elapsed. It returns nil when ctx is done and the
// tick error otherwise: a pin fault is fatal to the worker.
func (e *Engine) Run(ctx context.Context) error {
	debug.Verbose("Stepping loop started (poll %v, interval %v)", e.opts.TickPoll, e.Interval())
	ticker := time.NewTicker(e.opts.TickPoll)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			debug.Verbose("Stepping loop stopped")
			return nil
		case now := <-ticker.C:
			if !e.Moving() {
				continue
			}
			if now.Sub(last) < e.Interval() {
				continue
			}
			last = now
			if err := e.Tick(); err != nil {
				return err
			}
		}
	}
}

// moveLocked applies a direction change without touching the centering
// cancellation rules. e.mu must be held.
func (e *Engine) moveLocked(a *axis, dir Direction, target int) error {
	if dir == Idle {
		wasMoving := a.direction != Idle
		a.direction = Idle
		a.target = 0
		a.tripped = 0
		if wasMoving {
			debug.Move(a.Name, "stop", a.steps)
		}
		if err := a.Motor.Relax(); err != nil {
			return errors.Wrapf(err, "relax axis %s", a.Name)
		}
		return e.advanceCenteringLocked(a)
	}

	mask, err := e.switches.Read()
	if err != nil {
		return errors.Wrap(err, "read end-switches")
	}
	if sw := a.limitFor(dir); sw > 0 && mask.Tripped(sw) {
		debug.Info("Axis %s: already on end-switch %d, %s move refused", a.Name, sw, dir)
		e.notify("end-switch %d already reached", sw)
		if a.direction != Idle {
			a.direction = Idle
			a.target = 0
			if err := a.Motor.Relax(); err != nil {
				return errors.Wrapf(err, "relax axis %s", a.Name)
			}
		}
		if a.centering != None {
			// Nothing left to run in this stage.
			if err := e.advanceCenteringLocked(a); err != nil {
				return err
			}
		}
		return ErrAtLimit
	}

	if err := a.Motor.Energize(dir == Positive); err != nil {
		return errors.Wrapf(err, "energize axis %s", a.Name)
	}
	a.direction = dir
	a.steps = 0
	a.target = target
	a.tripped = 0
	if dir == Positive {
		a.phase = 0
	} else {
		a.phase = a.Motor.Phases() - 1
	}
	debug.Move(a.Name, dir.String(), target)
	return nil
}

// advanceCenteringLocked moves a stopped axis to its next centering stage.
func (e *Engine) advanceCenteringLocked(a *axis) error {
	switch a.centering {
	case PhaseOne:
		debug.Verbose("Axis %s: zero reached, %d steps to center", a.Name, a.CenterSteps)
		a.centering = PhaseTwo
		if a.CenterSteps == 0 {
			a.centering = None
			return e.finishCenteringLocked()
		}
		err := e.moveLocked(a, Positive, a.CenterSteps)
		if errors.Is(err, ErrAtLimit) {
			return nil
		}
		return err
	case PhaseTwo:
		debug.Verbose("Axis %s: centered", a.Name)
		a.centering = None
		return e.finishCenteringLocked()
	}
	return nil
}

// finishCenteringLocked ends the maneuver once no axis is centering.
func (e *Engine) finishCenteringLocked() error {
	if !e.centering {
		return nil
	}
	for _, a := range e.axes {
		if a.centering != None {
			return nil
		}
	}
	e.centering = false
	if e.aborted {
		debug.Info("Centering aborted, speed restored to %d", e.speed)
		return nil
	}
	debug.Info("Center reached, speed restored to %d", e.speed)
	e.notify("Center reached!")
	return nil
}

func (e *Engine) movingLocked() bool {
	for _, a := range e.axes {
		if a.direction != Idle {
			return true
		}
	}
	return false
}

func (e *Engine) notify(format string, args ...interface{}) {
	if e.sink == nil {
		return
	}
	e.sink.Push(fmt.Sprintf(format, args...))
}

// advance moves to the next phase in the current direction and reports
// whether a full step was completed.
func (a *axis) advance() bool {
	n := a.Motor.Phases()
	if a.direction == Positive {
		a.phase++
		if a.phase == n {
			a.phase = 0
			return true
		}
		return false
	}
	a.phase--
	if a.phase < 0 {
		a.phase = n - 1
		return true
	}
	return false
}

func (a *axis) limitFor(dir Direction) int {
	switch dir {
	case Positive:
		return a.PositiveLimit
	case Negative:
		return a.NegativeLimit
	}
	return 0
}
