package web

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/cjeanneret/SpectGo/internal/debug"
	"github.com/cjeanneret/SpectGo/internal/logic/command"
	"github.com/cjeanneret/SpectGo/internal/logic/mailbox"
	"github.com/cjeanneret/SpectGo/internal/logic/queue"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// MsgBusy is sent to a client whose command could not be handed to the
// control loop in time.
const MsgBusy = "Busy, command dropped. Please, retry."

// session is one WebSocket client. Only the write pump writes to conn.
type session struct {
	conn     *websocket.Conn
	addr     string
	controls bool
	private  *queue.Queue
	inbox    chan string
	done     chan struct{}
	once     sync.Once
}

func newSession(conn *websocket.Conn, addr string, capacity, maxLen int) *session {
	return &session{
		conn:    conn,
		addr:    addr,
		private: queue.New(capacity, maxLen),
		inbox:   make(chan string, inboxSize),
		done:    make(chan struct{}),
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *session) reply(line string) {
	if !s.private.Push(line) {
		debug.Verbose("Session %s queue full, dropped %q", s.addr, line)
	}
}

// readPump validates every text frame, answers the sender and hands accepted
// commands to the control loop. It returns when the connection closes.
func (s *session) readPump(ctx context.Context, commands Publisher, axes []string, readLimit int64) {
	defer s.close()

	s.conn.SetReadLimit(readLimit)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				debug.Verbose("Session %s read error: %v", s.addr, err)
			}
			return
		}
		text := string(data)
		if !s.controls {
			debug.Verbose("Ignored %q from %s", text, s.addr)
			continue
		}

		v := command.Validate(text, axes)
		if !v.Accepted {
			if v.Reason != "" {
				s.reply(v.Reason)
			}
			continue
		}
		if v.Ack != "" {
			s.reply(v.Ack)
		}
		if commands == nil {
			s.reply(MsgBusy)
			continue
		}

		err = commands.Publish(ctx, mailbox.Command{Text: text, Reply: s.private})
		switch {
		case err == nil:
		case errors.Is(err, mailbox.ErrBusy):
			debug.Error(errors.Wrapf(err, "command %q from %s", text, s.addr))
			s.reply(MsgBusy)
		default:
			return
		}
	}
}

// writePump sends one private line per drain tick, every broadcast line as it
// arrives, and keeps the connection alive with pings.
func (s *session) writePump(drainEvery time.Duration) {
	drain := time.NewTicker(drainEvery)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		drain.Stop()
		ping.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			return

		case line := <-s.inbox:
			if err := s.write(line); err != nil {
				return
			}

		case <-drain.C:
			line, ok := s.private.Pop()
			if !ok {
				continue
			}
			if err := s.write(line); err != nil {
				return
			}

		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *session) write(line string) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		debug.Verbose("Session %s write error: %v", s.addr, err)
		return err
	}
	if debug.IsEnabled(debug.LevelTrace) {
		debug.Trace("%s <- %s", s.addr, line)
	}
	return nil
}
