package web

import (
	"context"
	"testing"
	"time"

	"github.com/cjeanneret/SpectGo/internal/logic/queue"
)

func fakeSession(addr string) *session {
	return &session{
		addr:    addr,
		private: queue.New(3, 512),
		inbox:   make(chan string, inboxSize),
		done:    make(chan struct{}),
	}
}

func TestHub_ExclusiveOwnerByAddress(t *testing.T) {
	h := NewHub(queue.New(3, 512), nil, time.Millisecond, true)

	first := fakeSession("10.0.0.1")
	if _, ok := h.join(first); !ok {
		t.Fatal("first client should control")
	}
	second := fakeSession("10.0.0.1")
	if _, ok := h.join(second); !ok {
		t.Error("another session from the owner address should control")
	}
	intruder := fakeSession("10.0.0.2")
	owner, ok := h.join(intruder)
	if ok || owner != "10.0.0.1" {
		t.Errorf("join(intruder) = %q, %v; want 10.0.0.1, false", owner, ok)
	}

	h.leave(first)
	if h.Owner() != "10.0.0.1" {
		t.Errorf("owner released while a session is still open")
	}
	h.leave(intruder)
	h.leave(second)
	if h.Owner() != "" {
		t.Errorf("Owner = %q after the owner left, want free", h.Owner())
	}

	late := fakeSession("10.0.0.2")
	if _, ok := h.join(late); !ok {
		t.Error("freed lock should go to the next client")
	}
	if h.Sessions() != 1 {
		t.Errorf("Sessions = %d, want 1", h.Sessions())
	}
}

func TestHub_SharedModeEveryoneControls(t *testing.T) {
	h := NewHub(queue.New(3, 512), nil, time.Millisecond, false)
	for _, addr := range []string{"10.0.0.1", "10.0.0.2"} {
		if _, ok := h.join(fakeSession(addr)); !ok {
			t.Errorf("%s should control", addr)
		}
	}
	if h.Owner() != "" {
		t.Errorf("Owner = %q in shared mode", h.Owner())
	}
}

func TestHub_FanOutToControllingSessionsAndViewers(t *testing.T) {
	viewers := NewStatusBroadcaster()
	feed, unsub := viewers.Subscribe()
	defer unsub()
	h := NewHub(queue.New(3, 512), viewers, time.Millisecond, true)

	owner := fakeSession("10.0.0.1")
	other := fakeSession("10.0.0.2")
	h.join(owner)
	h.join(other)

	h.Announce("move motor %s to %s", "X", "+")
	h.drain()

	select {
	case line := <-owner.inbox:
		if line != "move motor X to +" {
			t.Errorf("owner got %q", line)
		}
	default:
		t.Error("owner session got nothing")
	}
	if len(other.inbox) != 0 {
		t.Error("non-controlling session must not get broadcast lines")
	}
	if evt := recvEvent(t, feed); evt.Msg != "move motor X to +" {
		t.Errorf("viewer got %q", evt.Msg)
	}
}

func TestHub_FullInboxDropsWithoutBlocking(t *testing.T) {
	h := NewHub(queue.New(inboxSize+4, 512), nil, time.Millisecond, false)
	s := fakeSession("10.0.0.1")
	h.join(s)

	for i := 0; i < inboxSize+4; i++ {
		h.Announce("nsteps=%d", i)
	}
	h.drain()

	if n := len(s.inbox); n != inboxSize {
		t.Errorf("inbox = %d lines, want %d", n, inboxSize)
	}
	if first := <-s.inbox; first != "nsteps=0" {
		t.Errorf("first = %q, want nsteps=0", first)
	}
}

func TestHub_AnnounceDropsWhenQueueFull(t *testing.T) {
	lines := queue.New(3, 512)
	h := NewHub(lines, nil, time.Millisecond, false)
	for i := 0; i < 5; i++ {
		h.Announce("line %d", i)
	}
	if lines.Len() != 3 {
		t.Errorf("queue len = %d, want 3", lines.Len())
	}
}

func TestHub_RunDrainsUntilCancelled(t *testing.T) {
	lines := queue.New(3, 512)
	h := NewHub(lines, nil, time.Millisecond, false)
	s := fakeSession("10.0.0.1")
	h.join(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	lines.Push("All off")
	select {
	case line := <-s.inbox:
		if line != "All off" {
			t.Errorf("got %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("hub did not deliver")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
