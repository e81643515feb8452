package stepper

import (
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/SpectGo/internal/debug"
	"github.com/cjeanneret/SpectGo/internal/hw/gpio"
)

// StepDir drives a STEP/DIR/ENABLE driver board. One step is one pulse on
// the STEP pin: phase 0 raises it, phase 1 lowers it.
type StepDir struct {
	gpio     gpio.Driver
	cfg      Config
	readback time.Duration
}

// NewStepDir creates a STEP/DIR stepper and leaves it relaxed.
func NewStepDir(g gpio.Driver, cfg Config) (*StepDir, error) {
	if cfg.StepPin <= 0 || cfg.DirPin <= 0 {
		return nil, errors.New("stepdir stepper needs step and dir pins")
	}
	pins := []int{cfg.StepPin, cfg.DirPin}
	if cfg.EnablePin > 0 {
		pins = append(pins, cfg.EnablePin)
	}
	for _, pin := range pins {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, errors.Wrapf(err, "setup pin %d", pin)
		}
	}

	s := &StepDir{gpio: g, cfg: cfg, readback: cfg.Readback}
	if err := s.Relax(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StepDir) Phases() int {
	return 2
}

// Energize enables the driver and sets DIR (forward = LOW).
func (s *StepDir) Energize(forward bool) error {
	if err := s.setEnabled(true); err != nil {
		return err
	}
	dir := gpio.High
	if forward {
		dir = gpio.Low
	}
	return write(s.gpio, s.cfg.DirPin, dir, s.readback)
}

func (s *StepDir) Apply(phase int) error {
	switch phase {
	case 0:
		return write(s.gpio, s.cfg.StepPin, gpio.High, s.readback)
	case 1:
		return write(s.gpio, s.cfg.StepPin, gpio.Low, s.readback)
	default:
		return errors.Errorf("phase %d out of range [0,2)", phase)
	}
}

// Relax disables the driver (motor freewheels) and parks DIR and STEP high.
func (s *StepDir) Relax() error {
	debug.Trace("StepDir step=%d: relax", s.cfg.StepPin)
	pins := []int{s.cfg.DirPin, s.cfg.StepPin}
	levels := []gpio.Level{gpio.High, gpio.High}
	if s.cfg.EnablePin > 0 {
		pins = append([]int{s.cfg.EnablePin}, pins...)
		levels = append([]gpio.Level{s.enableLevel(false)}, levels...)
	}
	return relaxAll(s.gpio, s.readback, pins, levels)
}

func (s *StepDir) setEnabled(on bool) error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return write(s.gpio, s.cfg.EnablePin, s.enableLevel(on), s.readback)
}

// enableLevel returns the ENABLE pin level for the requested state.
func (s *StepDir) enableLevel(on bool) gpio.Level {
	if s.cfg.EnableActiveLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}
