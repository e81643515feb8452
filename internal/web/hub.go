package web

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/SpectGo/internal/debug"
	"github.com/cjeanneret/SpectGo/internal/logic/queue"
)

// inboxSize bounds the broadcast lines waiting for one session's write pump.
const inboxSize = 16

// Hub drains the broadcast queue and fans every line out to the controlling
// sessions and to the SSE viewers. It also owns the exclusive client lock.
type Hub struct {
	lines     *queue.Queue
	viewers   *StatusBroadcaster
	interval  time.Duration
	exclusive bool

	mu       sync.Mutex
	sessions map[*session]struct{}
	owner    string // controlling client address
	ownerRef int    // open sessions from owner
}

// NewHub creates a hub over the broadcast queue. viewers may be nil.
func NewHub(lines *queue.Queue, viewers *StatusBroadcaster, interval time.Duration, exclusive bool) *Hub {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	return &Hub{
		lines:     lines,
		viewers:   viewers,
		interval:  interval,
		exclusive: exclusive,
		sessions:  make(map[*session]struct{}),
	}
}

// Run pops the broadcast queue every interval until ctx is done, then
// closes every open session.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C:
			h.drain()
		}
	}
}

func (h *Hub) drain() {
	for {
		line, ok := h.lines.Pop()
		if !ok {
			return
		}
		h.deliver(line)
	}
}

func (h *Hub) deliver(line string) {
	debug.Live("-> %s", line)
	if h.viewers != nil {
		h.viewers.BroadcastMsg(line)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		if !s.controls {
			continue
		}
		select {
		case s.inbox <- line:
		default:
			debug.Verbose("Session %s inbox full, dropped %q", s.addr, line)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// Announce pushes a line to the broadcast queue.
func (h *Hub) Announce(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if !h.lines.Push(line) {
		debug.Verbose("Broadcast queue full, dropped %q", line)
	}
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Owner returns the address of the controlling client, "" when free.
func (h *Hub) Owner() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.owner
}

// join registers s and decides whether it may send commands. When it may
// not, the current owner's address is returned.
func (h *Hub) join(s *session) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
	if !h.exclusive {
		s.controls = true
		return "", true
	}
	if h.ownerRef == 0 || h.owner == s.addr {
		h.owner = s.addr
		h.ownerRef++
		s.controls = true
		return "", true
	}
	return h.owner, false
}

func (h *Hub) leave(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	if h.exclusive && s.controls {
		h.ownerRef--
		if h.ownerRef == 0 {
			debug.Info("Controlling client %s left", h.owner)
			h.owner = ""
		}
	}
}
