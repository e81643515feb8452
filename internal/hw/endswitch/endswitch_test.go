package endswitch

import (
	"testing"

	"github.com/cjeanneret/SpectGo/internal/hw/gpio"
)

func TestReader_ActiveLow(t *testing.T) {
	drv := gpio.NewMockDriver()
	r, err := NewReader(drv, []int{24, 25}, true)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	tests := []struct {
		name       string
		esw1, esw2 gpio.Level
		want       Mask
	}{
		{"both released", gpio.High, gpio.High, 0},
		{"esw1 pressed", gpio.Low, gpio.High, 1},
		{"esw2 pressed", gpio.High, gpio.Low, 2},
		{"both pressed", gpio.Low, gpio.Low, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv.SetInput(24, tt.esw1)
			drv.SetInput(25, tt.esw2)
			got, err := r.Read()
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if got != tt.want {
				t.Errorf("Read() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReader_IdleAfterSetup(t *testing.T) {
	r, _ := NewReader(gpio.NewMockDriver(), []int{24, 25}, true)
	if m, _ := r.Read(); m != 0 {
		t.Errorf("pulled-up switches read %d, want 0", m)
	}
}

func TestReader_ActiveHigh(t *testing.T) {
	drv := gpio.NewMockDriver()
	r, _ := NewReader(drv, []int{5, 6}, false)
	drv.SetInput(6, gpio.High)
	if m, _ := r.Read(); m != 2 {
		t.Errorf("Read() = %d, want 2", m)
	}
}

func TestReader_NoPins(t *testing.T) {
	r, err := NewReader(gpio.NewMockDriver(), nil, true)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if m, _ := r.Read(); m != 0 {
		t.Errorf("Read() = %d, want 0", m)
	}
	if _, err := NewReader(gpio.NewMockDriver(), []int{1}, true); err == nil {
		t.Error("expected error for a single pin")
	}
}

func TestMask_Tripped(t *testing.T) {
	m := Mask(2)
	if m.Tripped(1) {
		t.Error("ESW1 should not be tripped")
	}
	if !m.Tripped(2) {
		t.Error("ESW2 should be tripped")
	}
	if m.Tripped(0) || m.Tripped(3) {
		t.Error("out-of-range switch must report false")
	}
}
