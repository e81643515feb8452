package stepper

import (
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/SpectGo/internal/debug"
	"github.com/cjeanneret/SpectGo/internal/hw/gpio"
)

// Signal levels for {PIN1, PIN2, PIN3, PIN4} of an L298-wired 4-wire motor.
// Consecutive phases differ by exactly one pin.
var (
	halfStepTable = [8][4]gpio.Level{
		{gpio.High, gpio.Low, gpio.Low, gpio.High},
		{gpio.High, gpio.Low, gpio.High, gpio.High},
		{gpio.High, gpio.Low, gpio.High, gpio.Low},
		{gpio.High, gpio.High, gpio.High, gpio.Low},
		{gpio.Low, gpio.High, gpio.High, gpio.Low},
		{gpio.Low, gpio.High, gpio.High, gpio.High},
		{gpio.Low, gpio.High, gpio.Low, gpio.High},
		{gpio.High, gpio.High, gpio.Low, gpio.High},
	}

	fullStepTable = [4][4]gpio.Level{
		{gpio.High, gpio.Low, gpio.Low, gpio.High},
		{gpio.High, gpio.Low, gpio.High, gpio.Low},
		{gpio.Low, gpio.High, gpio.High, gpio.Low},
		{gpio.Low, gpio.High, gpio.Low, gpio.High},
	}
)

// Coils drives a 4-wire motor through a phase table.
type Coils struct {
	gpio     gpio.Driver
	pins     [4]int
	table    [][4]gpio.Level
	readback time.Duration

	// last pattern on the wire; only changed pins are written
	last  [4]gpio.Level
	valid bool
}

// NewCoils creates a 4-wire stepper and leaves it relaxed.
func NewCoils(g gpio.Driver, cfg Config) (*Coils, error) {
	if len(cfg.Pins) != 4 {
		return nil, errors.Errorf("coils stepper needs 4 pins, got %d", len(cfg.Pins))
	}
	c := &Coils{gpio: g, readback: cfg.Readback}
	copy(c.pins[:], cfg.Pins)
	if cfg.HalfStep {
		c.table = halfStepTable[:]
	} else {
		c.table = fullStepTable[:]
	}

	for _, pin := range c.pins {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, errors.Wrapf(err, "setup coil pin %d", pin)
		}
	}
	if err := c.Relax(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coils) Phases() int {
	return len(c.table)
}

// Energize is a no-op: a 4-wire motor is energized by the first Apply.
func (c *Coils) Energize(forward bool) error {
	return nil
}

func (c *Coils) Apply(phase int) error {
	if phase < 0 || phase >= len(c.table) {
		return errors.Errorf("phase %d out of range [0,%d)", phase, len(c.table))
	}
	pattern := c.table[phase]
	for i, pin := range c.pins {
		if c.valid && c.last[i] == pattern[i] {
			continue
		}
		if err := write(c.gpio, pin, pattern[i], c.readback); err != nil {
			c.valid = false
			return err
		}
		c.last[i] = pattern[i]
	}
	c.valid = true
	return nil
}

// Relax drives all four pins LOW.
func (c *Coils) Relax() error {
	debug.Trace("Coils %v: relax", c.pins)
	c.valid = false
	levels := []gpio.Level{gpio.Low, gpio.Low, gpio.Low, gpio.Low}
	if err := relaxAll(c.gpio, c.readback, c.pins[:], levels); err != nil {
		return err
	}
	c.last = [4]gpio.Level{}
	c.valid = true
	return nil
}
