package stepper

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/cjeanneret/SpectGo/internal/config"
	"github.com/cjeanneret/SpectGo/internal/hw/gpio"
)

// Stepper drives the pins of one motor. It knows nothing about timing or
// direction bookkeeping: the motion engine picks the phase, the stepper
// puts it on the wire.
type Stepper interface {
	// Phases is the number of ticks in one full step (8 for half-stepping
	// a 4-wire motor, 4 for full-stepping, 2 for a STEP/DIR driver).
	Phases() int
	// Energize prepares the driver for a move in the given direction.
	Energize(forward bool) error
	// Apply puts phase on the pins.
	Apply(phase int) error
	// Relax de-energizes the motor.
	Relax() error
}

// Config holds the hardware configuration for a stepper motor.
type Config struct {
	Kind            string
	Pins            []int // coils: 4 pins in table order
	StepPin         int
	DirPin          int
	EnablePin       int  // 0 = not used
	EnableActiveLow bool // A4988 ENABLE: LOW=enabled
	HalfStep        bool
	Readback        time.Duration // max wait for each written pin to read back, 0 = no check
}

// FromAxis builds a stepper Config from an axis configuration.
func FromAxis(a config.AxisConfig, halfStep bool, readback time.Duration) Config {
	return Config{
		Kind:            a.Kind,
		Pins:            a.Pins,
		StepPin:         a.StepPin,
		DirPin:          a.DirPin,
		EnablePin:       a.EnablePin,
		EnableActiveLow: a.EnableActiveLow,
		HalfStep:        halfStep,
		Readback:        readback,
	}
}

// New creates the stepper matching cfg.Kind.
func New(g gpio.Driver, cfg Config) (Stepper, error) {
	switch cfg.Kind {
	case config.KindCoils, "":
		return NewCoils(g, cfg)
	case config.KindStepDir:
		return NewStepDir(g, cfg)
	default:
		return nil, errors.Errorf("unsupported stepper kind %q", cfg.Kind)
	}
}

// write sets a pin and waits for the read-back.
func write(g gpio.Driver, pin int, level gpio.Level, readback time.Duration) error {
	return gpio.WriteVerified(g, pin, level, readback)
}

// relaxAll writes every (pin, level) pair, collecting all failures so that
// one stuck pin does not leave the others energized.
func relaxAll(g gpio.Driver, readback time.Duration, pins []int, levels []gpio.Level) error {
	var err error
	for i, pin := range pins {
		err = multierr.Append(err, write(g, pin, levels[i], readback))
	}
	return err
}
