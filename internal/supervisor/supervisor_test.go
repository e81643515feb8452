package supervisor

import (
	"context"
	"os"
	"runtime"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
)

// fakeProcess exits when told to, or on SIGTERM unless stubborn.
type fakeProcess struct {
	pid      int
	stubborn bool

	mu      sync.Mutex
	signals []os.Signal
	killed  bool
	exit    chan error
	once    sync.Once
}

func newFakeProcess(pid int, stubborn bool) *fakeProcess {
	return &fakeProcess{pid: pid, stubborn: stubborn, exit: make(chan error, 1)}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Wait() error { return <-p.exit }

func (p *fakeProcess) die(err error) {
	p.once.Do(func() { p.exit <- err })
}

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	if !p.stubborn {
		p.die(nil)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.die(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) gotSIGTERM() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.signals) == 1 && p.signals[0] == syscall.SIGTERM
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// fakeLauncher hands out fake processes and reports each launch.
type fakeLauncher struct {
	stubborn bool
	err      error

	mu       sync.Mutex
	procs    []*fakeProcess
	launched chan *fakeProcess
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{launched: make(chan *fakeProcess, 16)}
}

func (l *fakeLauncher) Launch(ctx context.Context) (Process, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	p := newFakeProcess(100+len(l.procs), l.stubborn)
	l.procs = append(l.procs, p)
	l.mu.Unlock()
	l.launched <- p
	return p, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func (l *fakeLauncher) next(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-l.launched:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("worker was not launched")
	}
	return nil
}

func start(s *Supervisor) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	return nil
}

func TestSupervisor_RestartsDeadWorker(t *testing.T) {
	l := newFakeLauncher()
	s := New(l, time.Millisecond, time.Second)
	cancel, done := start(s)
	defer cancel()

	first := l.next(t)
	first.die(errors.New("exit status 1"))
	second := l.next(t)
	if second == first {
		t.Fatal("expected a new worker")
	}
	if s.Restarts() != 1 {
		t.Errorf("Restarts = %d, want 1", s.Restarts())
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run = %v", err)
	}
	if !second.gotSIGTERM() {
		t.Error("running worker should get SIGTERM on shutdown")
	}
	if second.wasKilled() {
		t.Error("obedient worker should not be killed")
	}
}

func TestSupervisor_CleanExitAlsoRestarts(t *testing.T) {
	l := newFakeLauncher()
	s := New(l, time.Millisecond, time.Second)
	cancel, done := start(s)
	defer cancel()

	l.next(t).die(nil)
	l.next(t)

	cancel()
	waitDone(t, done)
}

func TestSupervisor_NoRelaunchAfterShutdown(t *testing.T) {
	l := newFakeLauncher()
	s := New(l, 50*time.Millisecond, time.Second)
	cancel, done := start(s)

	p := l.next(t)
	p.die(errors.New("exit status 2"))
	cancel()
	waitDone(t, done)

	if n := l.count(); n != 1 {
		t.Errorf("launched %d workers, want 1", n)
	}
	if s.Restarts() != 0 {
		t.Errorf("Restarts = %d, want 0", s.Restarts())
	}
}

func TestSupervisor_KillsStubbornWorker(t *testing.T) {
	l := newFakeLauncher()
	l.stubborn = true
	s := New(l, time.Millisecond, 20*time.Millisecond)
	cancel, done := start(s)

	p := l.next(t)
	cancel()
	waitDone(t, done)

	if !p.gotSIGTERM() {
		t.Error("worker should get SIGTERM first")
	}
	if !p.wasKilled() {
		t.Error("worker ignoring SIGTERM should be killed after the stop timeout")
	}
}

func TestSupervisor_LaunchFailure(t *testing.T) {
	l := newFakeLauncher()
	l.err = errors.New("no such file")
	s := New(l, time.Millisecond, time.Second)

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected launch error")
	}
	if errors.Cause(err) != l.err {
		t.Errorf("cause = %v, want %v", errors.Cause(err), l.err)
	}
}

func TestExecLauncher_WorkerArgs(t *testing.T) {
	l, err := NewExecLauncher("-config", "configs/default.yaml")
	if err != nil {
		t.Fatalf("NewExecLauncher: %v", err)
	}
	want := []string{"-worker", "-config", "configs/default.yaml"}
	if len(l.Args) != len(want) {
		t.Fatalf("Args = %v, want %v", l.Args, want)
	}
	for i := range want {
		if l.Args[i] != want[i] {
			t.Errorf("Args[%d] = %q, want %q", i, l.Args[i], want[i])
		}
	}
}

func TestExecLauncher_RealChild(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	l := &ExecLauncher{Path: "/bin/sh", Args: []string{"-c", "exit 3"}}
	p, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if p.Pid() <= 0 {
		t.Errorf("Pid = %d", p.Pid())
	}
	if err := p.Wait(); err == nil {
		t.Error("exit 3 should be reported as an error")
	}
}
