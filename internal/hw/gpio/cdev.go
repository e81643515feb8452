package gpio

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"

	"github.com/cjeanneret/SpectGo/internal/debug"
)

// CdevDriver drives pins through the Linux GPIO character device
// (/dev/gpiochipN). Pin numbers are line offsets on the chip, which match
// BCM numbering on gpiochip0 of a Raspberry Pi.
type CdevDriver struct {
	chip  string
	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
}

// NewCdevDriver creates a character-device GPIO driver for chip (e.g. "gpiochip0").
func NewCdevDriver(chip string) (*CdevDriver, error) {
	debug.Info("Initializing GPIO character device driver (%s)", chip)
	return &CdevDriver{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

func (c *CdevDriver) SetupPin(pin int, mode PinMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.request(pin, mode)
	return err
}

// request (re)requests a line in the given mode. Caller holds c.mu.
func (c *CdevDriver) request(pin int, mode PinMode) (*gpiocdev.Line, error) {
	debug.GPIO("SetupPin", pin, mode)

	if old, ok := c.lines[pin]; ok {
		_ = old.Close()
		delete(c.lines, pin)
	}

	var opts []gpiocdev.LineReqOption
	switch mode {
	case Input:
		opts = append(opts, gpiocdev.AsInput)
	case InputPullUp:
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithPullUp)
	case Output:
		opts = append(opts, gpiocdev.AsOutput(0))
	default:
		return nil, errors.Errorf("unknown pin mode: %d", mode)
	}
	opts = append(opts, gpiocdev.WithConsumer("spectgo"))

	l, err := gpiocdev.RequestLine(c.chip, pin, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "request line %d on %s", pin, c.chip)
	}
	c.lines[pin] = l
	return l, nil
}

func (c *CdevDriver) line(pin int) (*gpiocdev.Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[pin]
	if !ok {
		return nil, errors.Wrapf(ErrPinNotSetup, "line %d", pin)
	}
	return l, nil
}

func (c *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	l, err := c.line(pin)
	if err != nil {
		return err
	}
	v := 0
	if level == High {
		v = 1
	}
	return l.SetValue(v)
}

func (c *CdevDriver) ReadPin(pin int) (Level, error) {
	l, err := c.line(pin)
	if err != nil {
		return Low, err
	}
	v, err := l.Value()
	if err != nil {
		return Low, errors.Wrapf(err, "read line %d", pin)
	}
	debug.GPIO("ReadPin", pin, v)
	if v != 0 {
		return High, nil
	}
	return Low, nil
}

// Close releases every requested line; released lines revert to inputs.
func (c *CdevDriver) Close() error {
	debug.Trace("GPIO Close (character device)")

	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	for pin, l := range c.lines {
		err = multierr.Append(err, l.Close())
		delete(c.lines, pin)
	}
	return err
}
