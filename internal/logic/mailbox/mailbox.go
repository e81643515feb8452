// Package mailbox holds the single pending command handed from the network
// sessions to the control loop.
package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/SpectGo/internal/logic/queue"
)

// ErrBusy is returned when the slot stayed occupied for the whole publish timeout.
var ErrBusy = errors.New("mailbox: command slot busy")

// Command is one validated command and the queue of the session that sent it.
type Command struct {
	Text  string
	Reply *queue.Queue // nil when the sender has no private queue
}

// Mailbox is a one-slot handoff. Publishers wait for the slot to be free,
// the control loop polls it with TryTake.
type Mailbox struct {
	mu      sync.Mutex
	slot    Command
	pending bool
	freed   chan struct{} // closed and replaced every time the slot is emptied

	timeout time.Duration
	maxLen  int
}

// New returns an empty mailbox. timeout bounds Publish; maxLen truncates
// command text (0 = no limit).
func New(timeout time.Duration, maxLen int) *Mailbox {
	return &Mailbox{freed: make(chan struct{}), timeout: timeout, maxLen: maxLen}
}

// Publish stores cmd once the slot is free. It gives up with ErrBusy after
// the mailbox timeout, or with ctx.Err() when ctx is done.
func (m *Mailbox) Publish(ctx context.Context, cmd Command) error {
	if m.maxLen > 0 && len(cmd.Text) > m.maxLen {
		cmd.Text = cmd.Text[:m.maxLen]
	}

	var expired <-chan time.Time
	if m.timeout > 0 {
		timer := time.NewTimer(m.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		m.mu.Lock()
		if !m.pending {
			m.slot = cmd
			m.pending = true
			m.mu.Unlock()
			return nil
		}
		freed := m.freed
		m.mu.Unlock()

		select {
		case <-freed:
		case <-expired:
			return ErrBusy
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryTake empties the slot and returns its command, if any. It never blocks.
func (m *Mailbox) TryTake() (Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pending {
		return Command{}, false
	}
	cmd := m.slot
	m.slot = Command{}
	m.pending = false
	close(m.freed)
	m.freed = make(chan struct{})
	return cmd, true
}

// Pending reports whether a command is waiting.
func (m *Mailbox) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}
