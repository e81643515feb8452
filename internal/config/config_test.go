package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
axes:
  - name: X
    pins: [14, 15, 18, 23]
    zero_steps: 3800
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ---------- Load ----------

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Defaults.Driver != DriverMock {
		t.Errorf("driver = %q, want %q", cfg.Defaults.Driver, DriverMock)
	}
	if cfg.Motion.MaxSpeed != 201 {
		t.Errorf("max_speed = %d, want 201", cfg.Motion.MaxSpeed)
	}
	if cfg.Motion.Speed != 150 {
		t.Errorf("speed = %d, want 150", cfg.Motion.Speed)
	}
	if cfg.Motion.CenteringSpeed != 200 {
		t.Errorf("centering_speed = %d, want 200", cfg.Motion.CenteringSpeed)
	}
	if !cfg.HalfStepping() {
		t.Error("half stepping should be the default")
	}
	if cfg.Axes[0].Kind != KindCoils {
		t.Errorf("axis kind = %q, want %q", cfg.Axes[0].Kind, KindCoils)
	}
	if cfg.EndSwitches.DebounceSteps != 5 {
		t.Errorf("debounce_steps = %d, want 5", cfg.EndSwitches.DebounceSteps)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr = %q, want :9999", cfg.Server.Addr)
	}
	if cfg.Server.Protocol != "XY-protocol" {
		t.Errorf("protocol = %q, want XY-protocol", cfg.Server.Protocol)
	}
	if cfg.Server.QueueCapacity != 3 {
		t.Errorf("queue_capacity = %d, want 3", cfg.Server.QueueCapacity)
	}
	if cfg.Host.NetConfigPath != "/etc/conf.d/net" {
		t.Errorf("net_config_path = %q", cfg.Host.NetConfigPath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "read config file") {
		t.Errorf("error = %v, want read config file prefix", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "axes: [unterminated"))
	if err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestLoad_ShippedConfigs(t *testing.T) {
	for _, name := range []string{"default.yaml", "dome-xy.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join("..", "..", "configs", name)
			if _, err := Load(path); err != nil {
				t.Errorf("Load(%s): %v", name, err)
			}
		})
	}
}

// ---------- Validate ----------

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"no_axes", "motion: {speed: 10}", "at least one axis"},
		{"bad_driver", minimalYAML + "defaults: {driver: arduino}", "unsupported driver"},
		{"speed_at_max", minimalYAML + "motion: {speed: 201, max_speed: 201}", "max_speed"},
		{"bad_stepping", minimalYAML + "motion: {stepping: quarter}", "stepping"},
		{"three_pins", "axes: [{name: X, pins: [1, 2, 3]}]", "need 4 pins"},
		{"long_name", "axes: [{name: XY, pins: [1, 2, 3, 4]}]", "single letter"},
		{"reserved_name", "axes: [{name: L, pins: [1, 2, 3, 4]}]", "reserved"},
		{"duplicate", "axes: [{name: X, pins: [1, 2, 3, 4], zero_steps: 5}, {name: X, pins: [5, 6, 7, 8]}]", "duplicate"},
		{"stepdir_no_pins", "axes: [{name: X, kind: stepdir}]", "step_pin and dir_pin"},
		{"unknown_kind", "axes: [{name: X, kind: servo}]", "unsupported kind"},
		{"limit_out_of_range", "axes: [{name: X, pins: [1, 2, 3, 4], negative_limit: 3}]", "limits must be"},
		{"limit_without_switches", "axes: [{name: X, pins: [1, 2, 3, 4], negative_limit: 1}]", "endswitches.pins"},
		{"one_lamp", minimalYAML + "lamps: {pins: [8]}", "lamps.pins"},
		{"debug_level", minimalYAML + "defaults: {debug_level: 9}", "debug_level"},
		{"unbounded_centering", "axes: [{name: X, pins: [1, 2, 3, 4]}]", "zero_steps 0"},
		{"mixed_kinds", "axes: [{name: X, pins: [1, 2, 3, 4], zero_steps: 5}, {name: Y, kind: stepdir, step_pin: 7, dir_pin: 8, zero_steps: 5}]", "one step clock"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want it to contain %q", err, tc.want)
			}
		})
	}
}

// ---------- Accessors ----------

func TestDurations(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
defaults: {readback_timeout_ms: 7}
motion: {tick_poll_us: 25}
server: {control_poll_us: 100, drain_interval_ms: 20, mailbox_timeout_ms: 1500}
supervisor: {restart_delay_ms: 250, stop_timeout_ms: 900}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cases := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"readback", cfg.ReadbackTimeout(), 7 * time.Millisecond},
		{"tick_poll", cfg.TickPoll(), 25 * time.Microsecond},
		{"control_poll", cfg.ControlPoll(), 100 * time.Microsecond},
		{"drain", cfg.DrainInterval(), 20 * time.Millisecond},
		{"mailbox", cfg.MailboxTimeout(), 1500 * time.Millisecond},
		{"restart", cfg.RestartDelay(), 250 * time.Millisecond},
		{"stop", cfg.StopTimeout(), 900 * time.Millisecond},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestAxisLookup(t *testing.T) {
	cfg, err := Parse([]byte(`
axes:
  - {name: X, kind: stepdir, step_pin: 24, dir_pin: 23, enable_pin: 18, zero_steps: 3800}
  - {name: Y, kind: stepdir, step_pin: 7, dir_pin: 8, enable_pin: 25, zero_steps: 7500}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if names := cfg.AxisNames(); len(names) != 2 || names[0] != "X" || names[1] != "Y" {
		t.Errorf("AxisNames = %v, want [X Y]", names)
	}
	y, ok := cfg.Axis("Y")
	if !ok || y.StepPin != 7 {
		t.Errorf("Axis(Y) = %+v, %v", y, ok)
	}
	if _, ok := cfg.Axis("Z"); ok {
		t.Error("Axis(Z) should not exist")
	}
}
