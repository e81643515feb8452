package gpio

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/SpectGo/internal/config"
	"github.com/cjeanneret/SpectGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
	InputPullUp
)

// ErrReadback is returned when a written pin never reads back the requested level.
// The stepping cadence can no longer be guaranteed after it: callers treat it as fatal.
var ErrReadback = errors.New("gpio: pin read-back mismatch")

// ErrPinNotSetup is returned by the hardware drivers for a pin that was
// never passed to SetupPin.
var ErrPinNotSetup = errors.New("gpio: pin not set up")

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a simulated one for development on PC and for tests.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver creates a GPIO driver of the configured kind.
func NewDriver(kind, chip string) (Driver, error) {
	switch kind {
	case config.DriverMock:
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	case config.DriverRPi:
		return NewRPiRealDriver()
	case config.DriverGPIOCdev:
		return NewCdevDriver(chip)
	default:
		return nil, errors.Errorf("unknown GPIO driver %q", kind)
	}
}

// WriteVerified writes level to pin and waits until the pin reads it back.
// A zero timeout skips the read-back.
func WriteVerified(d Driver, pin int, level Level, timeout time.Duration) error {
	if err := d.WritePin(pin, level); err != nil {
		return errors.Wrapf(err, "write pin %d", pin)
	}
	if timeout <= 0 {
		return nil
	}
	deadline := time.Now().Add(timeout)
	for {
		got, err := d.ReadPin(pin)
		if err != nil {
			return errors.Wrapf(err, "read back pin %d", pin)
		}
		if got == level {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(ErrReadback, "pin %d stuck at %v after %v", pin, got, timeout)
		}
	}
}

// MockDriver simulates pins in memory and logs actions.
// Outputs read back what was written; inputs set up with a pull-up
// idle HIGH until a test or simulation calls SetInput.
// The zero value is ready to use.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	modes  map[int]PinMode
}

// NewMockDriver returns an empty simulated driver.
func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

func (m *MockDriver) init() {
	if m.levels == nil {
		m.levels = make(map[int]Level)
		m.modes = make(map[int]PinMode)
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.modes[pin] = mode
	if _, ok := m.levels[pin]; !ok && mode == InputPullUp {
		m.levels[pin] = High
	}
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	level := m.levels[pin]
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

// SetInput forces the level seen on an input pin (end-switch simulation).
func (m *MockDriver) SetInput(pin int, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.levels[pin] = level
}

// Level returns the current simulated level of a pin.
func (m *MockDriver) Level(pin int) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	return m.levels[pin]
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
