// Package supervisor keeps one worker process alive and stops it on shutdown.
package supervisor

import (
	"context"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/SpectGo/internal/debug"
)

// Process is a running worker.
type Process interface {
	Pid() int
	Wait() error
	Signal(sig os.Signal) error
	Kill() error
}

// Launcher starts a worker.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// ExecLauncher starts the worker as a child process.
type ExecLauncher struct {
	Path string
	Args []string
}

// NewExecLauncher re-executes the running binary in worker mode with the
// given extra arguments.
func NewExecLauncher(args ...string) (*ExecLauncher, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "locate executable")
	}
	return &ExecLauncher{Path: path, Args: append([]string{"-worker"}, args...)}, nil
}

// Launch starts the child. It shares the parent's stdout and stderr and
// receives SIGTERM if the parent dies, where the platform supports it.
func (l *ExecLauncher) Launch(ctx context.Context) (Process, error) {
	cmd := exec.Command(l.Path, l.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = sysProcAttr()
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start %s", l.Path)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Wait() error                { return p.cmd.Wait() }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Kill() error                { return p.cmd.Process.Kill() }

// Supervisor relaunches the worker whenever it exits.
type Supervisor struct {
	launcher     Launcher
	restartDelay time.Duration
	stopTimeout  time.Duration
	restarts     atomic.Int64
}

// New creates a supervisor.
func New(l Launcher, restartDelay, stopTimeout time.Duration) *Supervisor {
	return &Supervisor{launcher: l, restartDelay: restartDelay, stopTimeout: stopTimeout}
}

// Restarts returns how many times the worker was relaunched.
func (s *Supervisor) Restarts() int64 {
	return s.restarts.Load()
}

// Run keeps a worker running until ctx is done. On shutdown the worker gets
// SIGTERM and is killed if it outlives the stop timeout. Only a failure to
// launch is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		p, err := s.launcher.Launch(ctx)
		if err != nil {
			return errors.Wrap(err, "launch worker")
		}
		debug.Info("Worker started (pid %d)", p.Pid())

		exited := make(chan error, 1)
		go func() { exited <- p.Wait() }()

		select {
		case <-ctx.Done():
			s.stop(p, exited)
			return nil
		case err := <-exited:
			if err != nil {
				debug.Info("Worker %d died: %v", p.Pid(), err)
			} else {
				debug.Info("Worker %d exited", p.Pid())
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.restartDelay):
		}
		s.restarts.Add(1)
	}
}

func (s *Supervisor) stop(p Process, exited <-chan error) {
	debug.Info("Stopping worker %d", p.Pid())
	if err := p.Signal(syscall.SIGTERM); err != nil {
		debug.Verbose("SIGTERM to worker %d: %v", p.Pid(), err)
	}
	select {
	case <-exited:
		return
	case <-time.After(s.stopTimeout):
	}
	debug.Info("Worker %d did not stop in %v, killing it", p.Pid(), s.stopTimeout)
	if err := p.Kill(); err != nil {
		debug.Error(errors.Wrapf(err, "kill worker %d", p.Pid()))
	}
	<-exited
}
