package endswitch

import (
	"github.com/pkg/errors"

	"github.com/cjeanneret/SpectGo/internal/hw/gpio"
)

// Mask is the end-switch state: bit 0 is ESW1, bit 1 is ESW2. A set bit
// means the switch is tripped.
type Mask uint8

// Tripped reports whether switch n (1 or 2) is tripped.
func (m Mask) Tripped(n int) bool {
	if n < 1 || n > 2 {
		return false
	}
	return m&(1<<(n-1)) != 0
}

// Reader samples the two end-switch inputs.
type Reader struct {
	gpio      gpio.Driver
	pins      []int
	activeLow bool
}

// NewReader configures pins as pulled-up inputs. With no pins the reader
// always reports an empty mask.
func NewReader(g gpio.Driver, pins []int, activeLow bool) (*Reader, error) {
	if len(pins) != 0 && len(pins) != 2 {
		return nil, errors.Errorf("need 0 or 2 end-switch pins, got %d", len(pins))
	}
	mode := gpio.Input
	if activeLow {
		mode = gpio.InputPullUp
	}
	for _, pin := range pins {
		if err := g.SetupPin(pin, mode); err != nil {
			return nil, errors.Wrapf(err, "setup end-switch pin %d", pin)
		}
	}
	return &Reader{gpio: g, pins: pins, activeLow: activeLow}, nil
}

// Read samples both inputs.
func (r *Reader) Read() (Mask, error) {
	var m Mask
	for i, pin := range r.pins {
		level, err := r.gpio.ReadPin(pin)
		if err != nil {
			return 0, errors.Wrapf(err, "read end-switch pin %d", pin)
		}
		if bool(level) != r.activeLow {
			m |= 1 << i
		}
	}
	return m, nil
}
