package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/SpectGo/internal/config"
	"github.com/cjeanneret/SpectGo/internal/debug"
	"github.com/cjeanneret/SpectGo/internal/supervisor"
	"github.com/cjeanneret/SpectGo/internal/worker"
)

// options are the command line settings.
type options struct {
	configPath  string
	port        portFlag
	debugLevel  int // -1 = use config
	worker      bool
	noSupervise bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err == flag.ErrHelp {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := applyOverrides(cfg, opts); err != nil {
		log.Fatalf("invalid option: %v", err)
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", opts.configPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	if opts.worker || opts.noSupervise || !cfg.Supervisor.Enabled {
		debug.Value("Mode", "worker")
		if err := worker.Run(ctx, cfg); err != nil {
			log.Fatalf("worker failed: %v", err)
		}
		return
	}

	debug.Value("Mode", "supervisor")
	launcher, err := supervisor.NewExecLauncher(workerArgs(opts, cfg)...)
	if err != nil {
		log.Fatalf("init supervisor failed: %v", err)
	}
	sup := supervisor.New(launcher, cfg.RestartDelay(), cfg.StopTimeout())
	if err := sup.Run(ctx); err != nil {
		log.Fatalf("supervisor failed: %v", err)
	}
	debug.Info("Supervisor stopped after %d restarts", sup.Restarts())
}

// parseFlags reads the command line. -worker is what the supervisor passes
// to the child it launches.
func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("spectgo", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", filepath.Join("configs", "default.yaml"), "path to config file")
	fs.Var(&opts.port, "port", "override the server port (1-65535)")
	fs.IntVar(&opts.debugLevel, "debug", -1, "override debug level (0-4)")
	fs.BoolVar(&opts.worker, "worker", false, "run the controller in this process (set by the supervisor)")
	fs.BoolVar(&opts.noSupervise, "no-supervise", false, "run the controller without a supervisor")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// applyOverrides mutates cfg with the command line overrides.
func applyOverrides(cfg *config.Config, opts *options) error {
	if opts.debugLevel >= 0 {
		if opts.debugLevel > 4 {
			return fmt.Errorf("debug level must be between 0 and 4, got %d", opts.debugLevel)
		}
		cfg.Defaults.DebugLevel = opts.debugLevel
	}
	if p := opts.port.port(); p > 0 {
		cfg.Server.Addr = ":" + strconv.Itoa(p)
	}
	return nil
}

// workerArgs forwards the effective settings to the worker process.
func workerArgs(opts *options, cfg *config.Config) []string {
	args := []string{"-config", opts.configPath, "-debug", strconv.Itoa(cfg.Defaults.DebugLevel)}
	if p := opts.port.port(); p > 0 {
		args = append(args, "-port", strconv.Itoa(p))
	}
	return args
}

// portFlag implements flag.Value for -port: 0 = keep the configured address.
type portFlag struct {
	val int
}

func (p *portFlag) String() string {
	return strconv.Itoa(p.val)
}

func (p *portFlag) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	p.val = v
	return nil
}

func (p *portFlag) port() int { return p.val }
