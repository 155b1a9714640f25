package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/ClimbGo/internal/logic/climb"
	"github.com/cjeanneret/ClimbGo/internal/logic/drive"
	"github.com/cjeanneret/ClimbGo/internal/logic/runner"
)

// Controller is the part of the runner the web surface needs.
type Controller interface {
	Submit(cmd runner.Command) error
	Snapshot() runner.Snapshot
}

// PlanStep is one maneuver as shown to the operator.
type PlanStep struct {
	Kind   string  `json:"kind"`
	Target float64 `json:"target"`
}

// ConfigView is the read-only configuration served on GET /config.
type ConfigView struct {
	Plan           []PlanStep     `json:"plan"`
	TickIntervalMs int            `json:"tick_interval_ms"`
	Tuning         drive.Tuning   `json:"tuning"`
	Climb          climb.Settings `json:"climb"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Controller  Controller
	View        ConfigView
	staticFS    fs.FS
	upgrader    websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
// If ctrl is nil, command and status endpoints return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, ctrl Controller, view ConfigView, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Controller:  ctrl,
		View:        view,
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The UI is served by this same process; any page able to reach
			// the robot's LAN address is trusted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleConfig returns the plan and tuning as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.View)
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

// HandleStatus returns the latest control loop snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "control loop not running", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Controller.Snapshot())
}

// HandleCommand returns a handler that queues cmd on the control loop.
func (h *Handlers) HandleCommand(cmd runner.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if status, err := h.submit(cmd); err != nil {
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "command": cmd.String()})
	}
}

// HandleSeek handles POST /drive/seek/{index} (0-based). Indices outside the
// plan are rejected here, so an empty plan accepts none; the drive machine
// checks again when it runs the command, and ignores it unless stopped.
func (h *Handlers) HandleSeek(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 || index >= len(h.View.Plan) {
		http.Error(w, fmt.Sprintf("invalid maneuver index %q", r.PathValue("index")), http.StatusBadRequest)
		return
	}
	h.HandleCommand(runner.CmdSeek(index))(w, r)
}

// submit queues cmd and maps runner errors to HTTP status codes.
func (h *Handlers) submit(cmd runner.Command) (int, error) {
	if h.Controller == nil {
		return http.StatusServiceUnavailable, errors.New("control loop not running")
	}
	err := h.Controller.Submit(cmd)
	switch {
	case err == nil:
		return http.StatusAccepted, nil
	case errors.Is(err, runner.ErrQueueFull):
		return http.StatusTooManyRequests, err
	case errors.Is(err, runner.ErrStopped):
		return http.StatusServiceUnavailable, err
	default:
		return http.StatusInternalServerError, err
	}
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
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

// HandleWebSocket handles GET /ws: broadcast events are pushed as text
// messages and text messages from the client are parsed as commands
// ("toggle", "climb_start", "climb_stop", "stop", "seek <n>"). Each command
// gets a StatusEvent reply with level "ack" or "error".
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// gorilla/websocket allows one concurrent writer.
	var writeMu sync.Mutex
	write := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := write([]byte(msg)); err != nil {
					return
				}
			case <-r.Context().Done():
				// Shutdown does not close hijacked connections. Closing here
				// unblocks ReadMessage below.
				writeMu.Lock()
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				writeMu.Unlock()
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read: %v", err)
			}
			return
		}
		reply := StatusEvent{Time: time.Now().Format(time.RFC3339Nano), Level: "ack"}
		cmd, err := runner.ParseCommand(string(msg))
		if err == nil {
			_, err = h.submit(cmd)
		}
		if err != nil {
			reply.Level, reply.Msg = "error", err.Error()
		} else {
			reply.Msg = cmd.String()
		}
		data, _ := json.Marshal(reply)
		if err := write(data); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
