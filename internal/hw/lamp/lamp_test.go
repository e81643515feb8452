package lamp

import (
	"testing"

	"github.com/cjeanneret/SpectGo/internal/hw/gpio"
)

func TestBank_InitializedOff(t *testing.T) {
	drv := gpio.NewMockDriver()
	b, err := NewBank(drv, []int{8, 7}, true, 0)
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}
	// Active-low: off is HIGH.
	if drv.Level(8) != gpio.High || drv.Level(7) != gpio.High {
		t.Errorf("lamps should start HIGH (off), got %v %v", drv.Level(8), drv.Level(7))
	}
	if b.Mask() != 0 {
		t.Errorf("Mask = %d, want 0", b.Mask())
	}
}

func TestBank_Toggle(t *testing.T) {
	drv := gpio.NewMockDriver()
	b, _ := NewBank(drv, []int{8, 7}, true, 0)

	steps := []struct {
		lamp     int
		wantMask uint8
		pin      int
		level    gpio.Level
	}{
		{1, 1, 8, gpio.Low},
		{2, 3, 7, gpio.Low},
		{1, 2, 8, gpio.High},
		{2, 0, 7, gpio.High},
	}
	for i, s := range steps {
		mask, err := b.Toggle(s.lamp)
		if err != nil {
			t.Fatalf("step %d: Toggle(%d): %v", i, s.lamp, err)
		}
		if mask != s.wantMask {
			t.Errorf("step %d: mask = %d, want %d", i, mask, s.wantMask)
		}
		if drv.Level(s.pin) != s.level {
			t.Errorf("step %d: pin %d = %v, want %v", i, s.pin, drv.Level(s.pin), s.level)
		}
	}
}

func TestBank_AllOff(t *testing.T) {
	drv := gpio.NewMockDriver()
	b, _ := NewBank(drv, []int{8, 7}, true, 0)
	_, _ = b.Toggle(1)
	_, _ = b.Toggle(2)

	if err := b.AllOff(); err != nil {
		t.Fatalf("AllOff: %v", err)
	}
	if b.Mask() != 0 {
		t.Errorf("Mask = %d after AllOff", b.Mask())
	}
	if drv.Level(8) != gpio.High || drv.Level(7) != gpio.High {
		t.Error("both lamp pins should be HIGH after AllOff")
	}
}

func TestBank_UnknownLamp(t *testing.T) {
	b, _ := NewBank(gpio.NewMockDriver(), []int{8, 7}, true, 0)
	if _, err := b.Toggle(3); err == nil {
		t.Error("expected error for lamp 3")
	}
}

func TestBank_NoPins(t *testing.T) {
	b, err := NewBank(gpio.NewMockDriver(), nil, true, 0)
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}
	if mask, err := b.Toggle(2); err != nil || mask != 2 {
		t.Errorf("Toggle(2) = %d, %v; want 2, nil", mask, err)
	}
}
