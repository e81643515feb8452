package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/cjeanneret/SpectGo/internal/debug"
	"github.com/cjeanneret/SpectGo/internal/logic/command"
	"github.com/cjeanneret/SpectGo/internal/logic/mailbox"
)

// Exclusive client messages.
const (
	MsgAlreadyConnected = "Already connected from %s.<br>Please, disconnect."
	MsgTryConnection    = "Try of connection from %s"
)

// maxBodyBytes caps a POST /command body and a WebSocket frame.
const maxBodyBytes = 4 << 10

// Publisher hands commands to the control loop. *mailbox.Mailbox satisfies it.
type Publisher interface {
	Publish(ctx context.Context, cmd mailbox.Command) error
}

// SpeedSource reports the current stepping speed.
type SpeedSource interface {
	Speed() int
}

// AxisInfo describes one axis in GET /config.
type AxisInfo struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	NegativeLimit int    `json:"negative_limit"`
	PositiveLimit int    `json:"positive_limit"`
}

// Info is the static part of GET /config.
type Info struct {
	Axes      []AxisInfo `json:"axes"`
	MaxSpeed  int        `json:"max_speed"`
	Protocol  string     `json:"protocol"`
	Exclusive bool       `json:"exclusive_client"`
}

// ConfigResponse is the GET /config body.
type ConfigResponse struct {
	Info
	Speed    int `json:"speed"`
	Sessions int `json:"sessions"`
}

// Options are the per-session parameters.
type Options struct {
	DrainInterval time.Duration
	QueueCapacity int
	MessageLen    int
}

// CommandRequest is the POST /command body.
type CommandRequest struct {
	Command string `json:"command"`
}

// Handlers holds dependencies for HTTP and WebSocket handlers.
type Handlers struct {
	Hub      *Hub
	Commands Publisher
	Speed    SpeedSource
	Info     Info
	opts     Options
	axes     []string
	upgrader websocket.Upgrader
	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If commands is nil, POST /command returns 503 Service Unavailable.
func NewHandlers(hub *Hub, commands Publisher, speed SpeedSource, info Info, opts Options, staticFS fs.FS) *Handlers {
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = 20 * time.Millisecond
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 3
	}
	if opts.MessageLen <= 0 {
		opts.MessageLen = 512
	}
	axes := make([]string, 0, len(info.Axes))
	for _, a := range info.Axes {
		axes = append(axes, a.Name)
	}
	return &Handlers{
		Hub:      hub,
		Commands: commands,
		Speed:    speed,
		Info:     info,
		opts:     opts,
		axes:     axes,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{info.Protocol},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		staticFS: staticFS,
	}
}

// HandleConfig returns the axes, limits and current speed as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	resp := ConfigResponse{Info: h.Info}
	if h.Speed != nil {
		resp.Speed = h.Speed.Speed()
	}
	if h.Hub != nil {
		resp.Sessions = h.Hub.Sessions()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ServeRoot upgrades WebSocket handshakes on "/" and serves the page otherwise.
func (h *Handlers) ServeRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.HandleWebSocket(w, r)
		return
	}
	h.ServeIndex(w, r)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCommand handles POST /command. Accepted commands are answered with
// 202 once they are in the mailbox; their effects arrive on the broadcast feed.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CommandRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	v := command.Validate(req.Command, h.axes)
	if !v.Accepted {
		if v.Reason == "" {
			writeStatus(w, http.StatusAccepted, "ignored", "")
			return
		}
		http.Error(w, v.Reason, http.StatusBadRequest)
		return
	}

	if h.Commands == nil {
		http.Error(w, "control loop not running", http.StatusServiceUnavailable)
		return
	}
	err := h.Commands.Publish(r.Context(), mailbox.Command{Text: req.Command})
	if err != nil {
		if errors.Is(err, mailbox.ErrBusy) {
			debug.Error(errors.Wrapf(err, "command %q from %s", req.Command, r.RemoteAddr))
		}
		http.Error(w, MsgBusy, http.StatusServiceUnavailable)
		return
	}
	writeStatus(w, http.StatusAccepted, "queued", v.Ack)
}

func writeStatus(w http.ResponseWriter, code int, status, ack string) {
	body := map[string]string{"status": status}
	if ack != "" {
		body["ack"] = ack
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// HandleWebSocket upgrades the connection and runs the session until it closes.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !offers(websocket.Subprotocols(r), h.Info.Protocol) {
		http.Error(w, "unsupported subprotocol", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Verbose("WebSocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	s := newSession(conn, clientAddr(r), h.opts.QueueCapacity, h.opts.MessageLen)
	owner, ok := h.Hub.join(s)
	defer h.Hub.leave(s)
	if ok {
		debug.Info("Client connected from %s", s.addr)
	} else {
		debug.Info("Refused control to %s, owned by %s", s.addr, owner)
		s.reply(fmt.Sprintf(MsgAlreadyConnected, owner))
		h.Hub.Announce(MsgTryConnection, s.addr)
	}

	go s.writePump(h.opts.DrainInterval)
	s.readPump(r.Context(), h.Commands, h.axes, maxBodyBytes)
	debug.Info("Client %s disconnected", s.addr)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	if h.Hub == nil || h.Hub.viewers == nil {
		http.Error(w, "no status feed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Hub.viewers.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func offers(protocols []string, want string) bool {
	for _, p := range protocols {
		if p == want {
			return true
		}
	}
	return false
}

// clientAddr returns the IP part of the request's remote address.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
