package gpio

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/cjeanneret/SpectGo/internal/debug"
)

// rpioPin is a configured line of the memory-mapped GPIO block.
type rpioPin struct {
	pin  rpio.Pin
	mode PinMode
}

// RPiDriver drives BCM pins through go-rpio's /dev/gpiomem mapping.
// Pins must be configured with SetupPin before they are read or written.
type RPiDriver struct {
	mu   sync.Mutex
	pins map[int]rpioPin
}

// NewRPiRealDriver maps the GPIO registers. It needs /dev/gpiomem or root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")
	if err := rpio.Open(); err != nil {
		return nil, errors.Wrap(err, "map GPIO registers (not a Raspberry Pi?)")
	}
	debug.Verbose("GPIO memory mapped")
	return &RPiDriver{pins: make(map[int]rpioPin)}, nil
}

// SetupPin configures pin. Calling it again switches the mode.
func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	p := rpio.Pin(pin)

	r.mu.Lock()
	defer r.mu.Unlock()
	switch mode {
	case Input:
		p.Input()
		p.PullOff()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
		p.Low()
	default:
		return errors.Errorf("pin %d: unknown mode %d", pin, mode)
	}
	r.pins[pin] = rpioPin{pin: p, mode: mode}
	return nil
}

func (r *RPiDriver) lookup(pin int) (rpioPin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pins[pin]
	if !ok {
		return rpioPin{}, errors.Wrapf(ErrPinNotSetup, "pin %d", pin)
	}
	return p, nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	p, err := r.lookup(pin)
	if err != nil {
		return err
	}
	if p.mode != Output {
		return errors.Errorf("pin %d: write to an input", pin)
	}
	if level == High {
		p.pin.High()
	} else {
		p.pin.Low()
	}
	return nil
}

// ReadPin reads the level register, which also reflects driven outputs.
func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	p, err := r.lookup(pin)
	if err != nil {
		return Low, err
	}
	state := p.pin.Read()
	debug.GPIO("ReadPin", pin, state)
	return state == rpio.High, nil
}

// Close returns every configured pin to a floating input and unmaps the block.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (go-rpio)")

	r.mu.Lock()
	defer r.mu.Unlock()
	for n, p := range r.pins {
		debug.Verbose("Pin %d back to input", n)
		p.pin.Input()
		p.pin.PullOff()
		delete(r.pins, n)
	}
	return rpio.Close()
}
