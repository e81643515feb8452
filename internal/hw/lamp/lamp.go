package lamp

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/cjeanneret/SpectGo/internal/debug"
	"github.com/cjeanneret/SpectGo/internal/hw/gpio"
)

// Bank controls the two lamps.
//
// The lamp relays are wired active-low:
// - LOW on the pin: lamp on
// - HIGH on the pin: lamp off
//
// A bank built without pins accepts every call and keeps the state in
// memory only.
type Bank struct {
	mu        sync.Mutex
	gpio      gpio.Driver
	pins      []int
	activeLow bool
	readback  time.Duration
	state     uint8 // bit 0 = lamp 1 on
}

// NewBank configures the lamp pins as outputs and switches every lamp off.
func NewBank(g gpio.Driver, pins []int, activeLow bool, readback time.Duration) (*Bank, error) {
	if len(pins) != 0 && len(pins) != 2 {
		return nil, errors.Errorf("need 0 or 2 lamp pins, got %d", len(pins))
	}
	for _, pin := range pins {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, errors.Wrapf(err, "setup lamp pin %d", pin)
		}
	}
	b := &Bank{gpio: g, pins: pins, activeLow: activeLow, readback: readback}
	if err := b.AllOff(); err != nil {
		return nil, err
	}
	return b, nil
}

// Toggle flips lamp n (1 or 2) and returns the new state mask.
func (b *Bank) Toggle(n int) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 1 || n > 2 {
		return b.state, errors.Errorf("no lamp %d", n)
	}
	bit := uint8(1) << (n - 1)
	on := b.state&bit == 0
	if err := b.write(n, on); err != nil {
		return b.state, err
	}
	b.state ^= bit
	debug.Printf("Lamp %d switched %v, state %d", n, onOff(on), b.state)
	return b.state, nil
}

// Mask returns the current lamp state: bit 0 = lamp 1 on, bit 1 = lamp 2 on.
func (b *Bank) Mask() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// AllOff switches both lamps off, even if one of them fails.
func (b *Bank) AllOff() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	for n := 1; n <= 2; n++ {
		err = multierr.Append(err, b.write(n, false))
	}
	if err == nil {
		b.state = 0
	}
	return err
}

func (b *Bank) write(n int, on bool) error {
	if len(b.pins) == 0 {
		return nil
	}
	level := gpio.Level(on != b.activeLow)
	return gpio.WriteVerified(b.gpio, b.pins[n-1], level, b.readback)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
