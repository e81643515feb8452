package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Driver kinds for the GPIO backend.
const (
	DriverMock     = "mock"     // simulated pins, for development on PC
	DriverRPi      = "rpio"     // memory-mapped GPIO via go-rpio
	DriverGPIOCdev = "gpiocdev" // Linux GPIO character device
)

// Stepper kinds.
const (
	KindCoils   = "coils"   // 4-wire motor driven through a phase table (L298 style)
	KindStepDir = "stepdir" // STEP/DIR/ENABLE driver (A4988 style)
)

// AxisConfig holds the wiring and homing constants of one motor.
type AxisConfig struct {
	Name            string `yaml:"name"`              // single letter used in commands, e.g. "X"
	Kind            string `yaml:"kind"`              // "coils" or "stepdir"
	Pins            []int  `yaml:"pins"`              // coils: 4 BCM pins in table order
	StepPin         int    `yaml:"step_pin"`          // stepdir: CLK pin
	DirPin          int    `yaml:"dir_pin"`           // stepdir: DIR pin
	EnablePin       int    `yaml:"enable_pin"`        // stepdir: ENABLE pin. 0 = not used.
	EnableActiveLow bool   `yaml:"enable_active_low"` // A4988 style ENABLE (LOW=enabled)
	NegativeLimit   int    `yaml:"negative_limit"`    // end-switch number (1 or 2) stopping negative moves, 0 = none
	PositiveLimit   int    `yaml:"positive_limit"`    // end-switch number stopping positive moves, 0 = none
	ZeroSteps       int    `yaml:"zero_steps"`        // centering phase one: steps toward zero (0 = until limit)
	CenterSteps     int    `yaml:"center_steps"`      // centering phase two: steps back toward center
}

// EndSwitchConfig describes the two limit sensors.
type EndSwitchConfig struct {
	Pins          []int `yaml:"pins"`           // ESW1, ESW2
	ActiveLow     bool  `yaml:"active_low"`     // switch pulls the line LOW when reached
	DebounceSteps int   `yaml:"debounce_steps"` // consecutive full steps a switch must read tripped
}

// LampConfig describes the lamp outputs.
type LampConfig struct {
	Pins      []int `yaml:"pins"`       // LAMP1, LAMP2
	ActiveLow bool  `yaml:"active_low"` // LOW = lamp on
}

// MotionConfig contains the stepping clock parameters.
type MotionConfig struct {
	Speed            int    `yaml:"speed"`              // initial speed, steps per second
	MaxSpeed         int    `yaml:"max_speed"`          // exclusive upper bound for user speed
	CenteringSpeed   int    `yaml:"centering_speed"`    // clock used while centering
	Stepping         string `yaml:"stepping"`           // "half" or "full" (coils only)
	ReportEverySteps int    `yaml:"report_every_steps"` // nsteps=<n> notification period, 0 = off
	TickPollUs       int    `yaml:"tick_poll_us"`       // stepping loop poll period
}

// ServerConfig contains the network adapter parameters.
type ServerConfig struct {
	Addr             string `yaml:"addr"`              // e.g. ":9999"
	Protocol         string `yaml:"protocol"`          // WebSocket subprotocol name
	ExclusiveClient  bool   `yaml:"exclusive_client"`  // only the first client IP may control
	DrainIntervalMs  int    `yaml:"drain_interval_ms"` // session write pump period
	QueueCapacity    int    `yaml:"queue_capacity"`    // message queue slots
	MessageLen       int    `yaml:"message_len"`       // max bytes per queued line
	CommandLen       int    `yaml:"command_len"`       // max bytes per command
	MailboxTimeoutMs int    `yaml:"mailbox_timeout_ms"`
	ControlPollUs    int    `yaml:"control_poll_us"` // control loop mailbox poll period
}

// HostConfig contains the administrative actions settings.
type HostConfig struct {
	NetConfigPath string `yaml:"net_config_path"` // e.g. /etc/conf.d/net
	NetRestartCmd string `yaml:"net_restart_cmd"` // shell-quoted command line
	AllowReboot   bool   `yaml:"allow_reboot"`    // false = Dreboot is only logged
}

// SupervisorConfig contains the restart policy.
type SupervisorConfig struct {
	Enabled        bool `yaml:"enabled"`
	RestartDelayMs int  `yaml:"restart_delay_ms"`
	StopTimeoutMs  int  `yaml:"stop_timeout_ms"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel        int    `yaml:"debug_level"`         // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	Driver            string `yaml:"driver"`              // "mock", "rpio" or "gpiocdev"
	GPIOChip          string `yaml:"gpio_chip"`           // gpiocdev chip name
	ReadbackTimeoutMs int    `yaml:"readback_timeout_ms"` // max wait for a written pin to read back
}

// Config aggregates all application configuration.
type Config struct {
	Axes        []AxisConfig     `yaml:"axes"`
	EndSwitches EndSwitchConfig  `yaml:"endswitches"`
	Lamps       LampConfig       `yaml:"lamps"`
	Motion      MotionConfig     `yaml:"motion"`
	Server      ServerConfig     `yaml:"server"`
	Host        HostConfig       `yaml:"host"`
	Supervisor  SupervisorConfig `yaml:"supervisor"`
	Defaults    DefaultsConfig   `yaml:"defaults"`
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Defaults.Driver == "" {
		c.Defaults.Driver = DriverMock
	}
	if c.Defaults.GPIOChip == "" {
		c.Defaults.GPIOChip = "gpiochip0"
	}
	if c.Defaults.ReadbackTimeoutMs <= 0 {
		c.Defaults.ReadbackTimeoutMs = 50
	}

	if c.Motion.MaxSpeed <= 0 {
		c.Motion.MaxSpeed = 201 // 200 steps per second at most
	}
	if c.Motion.Speed <= 0 {
		c.Motion.Speed = 150
	}
	if c.Motion.CenteringSpeed <= 0 {
		c.Motion.CenteringSpeed = c.Motion.MaxSpeed - 1
	}
	if c.Motion.Stepping == "" {
		c.Motion.Stepping = "half"
	}
	if c.Motion.ReportEverySteps < 0 {
		c.Motion.ReportEverySteps = 0
	}
	if c.Motion.TickPollUs <= 0 {
		c.Motion.TickPollUs = 10
	}

	for i := range c.Axes {
		if c.Axes[i].Kind == "" {
			c.Axes[i].Kind = KindCoils
		}
	}
	if c.EndSwitches.DebounceSteps <= 0 {
		c.EndSwitches.DebounceSteps = 5
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":9999"
	}
	if c.Server.Protocol == "" {
		c.Server.Protocol = "XY-protocol"
	}
	if c.Server.DrainIntervalMs <= 0 {
		c.Server.DrainIntervalMs = 20
	}
	if c.Server.QueueCapacity <= 0 {
		c.Server.QueueCapacity = 3
	}
	if c.Server.MessageLen <= 0 {
		c.Server.MessageLen = 512
	}
	if c.Server.CommandLen <= 0 {
		c.Server.CommandLen = 512
	}
	if c.Server.MailboxTimeoutMs <= 0 {
		c.Server.MailboxTimeoutMs = 2000
	}
	if c.Server.ControlPollUs <= 0 {
		c.Server.ControlPollUs = 100
	}

	if c.Host.NetConfigPath == "" {
		c.Host.NetConfigPath = "/etc/conf.d/net"
	}
	if c.Host.NetRestartCmd == "" {
		c.Host.NetRestartCmd = "service net.eth0 restart"
	}

	if c.Supervisor.RestartDelayMs <= 0 {
		c.Supervisor.RestartDelayMs = 500
	}
	if c.Supervisor.StopTimeoutMs <= 0 {
		c.Supervisor.StopTimeoutMs = 3000
	}
}

// Validate checks the cross-field constraints of a configuration.
func (c *Config) Validate() error {
	switch c.Defaults.Driver {
	case DriverMock, DriverRPi, DriverGPIOCdev:
	default:
		return fmt.Errorf("unsupported driver: %s", c.Defaults.Driver)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}

	if c.Motion.Speed <= 0 || c.Motion.Speed >= c.Motion.MaxSpeed {
		return fmt.Errorf("motion.speed must be in (0, max_speed=%d), got %d", c.Motion.MaxSpeed, c.Motion.Speed)
	}
	if c.Motion.Stepping != "half" && c.Motion.Stepping != "full" {
		return fmt.Errorf("motion.stepping must be \"half\" or \"full\", got %q", c.Motion.Stepping)
	}

	if len(c.Axes) == 0 {
		return fmt.Errorf("at least one axis is required")
	}
	seen := make(map[string]bool)
	for i, a := range c.Axes {
		if len(a.Name) != 1 {
			return fmt.Errorf("axes[%d]: name must be a single letter, got %q", i, a.Name)
		}
		if a.Name == "0" || a.Name == "L" {
			return fmt.Errorf("axes[%d]: name %q is reserved", i, a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("axes[%d]: duplicate axis name %q", i, a.Name)
		}
		seen[a.Name] = true

		switch a.Kind {
		case KindCoils:
			if len(a.Pins) != 4 {
				return fmt.Errorf("axis %s: coils need 4 pins, got %d", a.Name, len(a.Pins))
			}
		case KindStepDir:
			if a.StepPin <= 0 || a.DirPin <= 0 {
				return fmt.Errorf("axis %s: step_pin and dir_pin are required", a.Name)
			}
		default:
			return fmt.Errorf("axis %s: unsupported kind %q", a.Name, a.Kind)
		}
		if a.NegativeLimit < 0 || a.NegativeLimit > 2 || a.PositiveLimit < 0 || a.PositiveLimit > 2 {
			return fmt.Errorf("axis %s: limits must be 0, 1 or 2", a.Name)
		}
		if (a.NegativeLimit > 0 || a.PositiveLimit > 0) && len(c.EndSwitches.Pins) != 2 {
			return fmt.Errorf("axis %s: limits set but endswitches.pins is not configured", a.Name)
		}
		if a.ZeroSteps < 0 || a.CenterSteps < 0 {
			return fmt.Errorf("axis %s: centering steps must be >= 0", a.Name)
		}
		if a.ZeroSteps == 0 && a.NegativeLimit == 0 {
			return fmt.Errorf("axis %s: zero_steps 0 runs until the negative limit, which is not set", a.Name)
		}
		if a.Kind != c.Axes[0].Kind {
			return fmt.Errorf("axis %s: all axes share one step clock and must be of kind %q", a.Name, c.Axes[0].Kind)
		}
	}

	if n := len(c.EndSwitches.Pins); n != 0 && n != 2 {
		return fmt.Errorf("endswitches.pins must list 2 pins, got %d", n)
	}
	if n := len(c.Lamps.Pins); n != 0 && n != 2 {
		return fmt.Errorf("lamps.pins must list 2 pins, got %d", n)
	}
	return nil
}

// Axis returns the configuration of the named axis.
func (c *Config) Axis(name string) (AxisConfig, bool) {
	for _, a := range c.Axes {
		if a.Name == name {
			return a, true
		}
	}
	return AxisConfig{}, false
}

// AxisNames returns the configured axis letters in order.
func (c *Config) AxisNames() []string {
	names := make([]string, 0, len(c.Axes))
	for _, a := range c.Axes {
		names = append(names, a.Name)
	}
	return names
}

// HalfStepping reports whether coil axes use the 8-phase table.
func (c *Config) HalfStepping() bool {
	return c.Motion.Stepping == "half"
}

// ReadbackTimeout returns the maximum wait for a pin read-back.
func (c *Config) ReadbackTimeout() time.Duration {
	return time.Duration(c.Defaults.ReadbackTimeoutMs) * time.Millisecond
}

// TickPoll returns the stepping loop poll period.
func (c *Config) TickPoll() time.Duration {
	return time.Duration(c.Motion.TickPollUs) * time.Microsecond
}

// ControlPoll returns the control loop poll period.
func (c *Config) ControlPoll() time.Duration {
	return time.Duration(c.Server.ControlPollUs) * time.Microsecond
}

// DrainInterval returns the session write pump period.
func (c *Config) DrainInterval() time.Duration {
	return time.Duration(c.Server.DrainIntervalMs) * time.Millisecond
}

// MailboxTimeout returns how long a publisher waits for the mailbox slot.
func (c *Config) MailboxTimeout() time.Duration {
	return time.Duration(c.Server.MailboxTimeoutMs) * time.Millisecond
}

// RestartDelay returns the pause before relaunching a dead worker.
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.Supervisor.RestartDelayMs) * time.Millisecond
}

// StopTimeout returns how long the supervisor waits for a terminated worker.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Supervisor.StopTimeoutMs) * time.Millisecond
}
