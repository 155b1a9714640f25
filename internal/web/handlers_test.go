package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/ClimbGo/internal/logic/drive"
	"github.com/cjeanneret/ClimbGo/internal/logic/runner"
)

// fakeController records submitted commands.
type fakeController struct {
	mu   sync.Mutex
	cmds []runner.Command
	err  error
	snap runner.Snapshot
}

func (f *fakeController) Submit(cmd runner.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeController) Snapshot() runner.Snapshot { return f.snap }

func (f *fakeController) submitted() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Command(nil), f.cmds...)
}

func testView() ConfigView {
	return ConfigView{
		Plan:           []PlanStep{{Kind: "drive", Target: 25}, {Kind: "turn", Target: 90}},
		TickIntervalMs: 5,
	}
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html><body>ClimbGo</body></html>")},
	}
}

func newTestHandlers(ctrl Controller) *Handlers {
	return NewHandlers(NewStatusBroadcaster(), ctrl, testView(), testFS())
}

// ---------- Commands ----------

func TestHandleCommand_Queued(t *testing.T) {
	ctrl := &fakeController{}
	h := newTestHandlers(ctrl)
	req := httptest.NewRequest(http.MethodPost, "/drive/toggle", nil)
	w := httptest.NewRecorder()

	h.HandleCommand(runner.CmdToggle)(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["command"] != "toggle" {
		t.Errorf("command = %q, want toggle", body["command"])
	}
	if got := ctrl.submitted(); len(got) != 1 || got[0] != runner.CmdToggle {
		t.Errorf("submitted = %v", got)
	}
}

func TestHandleCommand_Errors(t *testing.T) {
	cases := []struct {
		name string
		ctrl Controller
		want int
	}{
		{"no_runner", nil, http.StatusServiceUnavailable},
		{"queue_full", &fakeController{err: runner.ErrQueueFull}, http.StatusTooManyRequests},
		{"stopped", &fakeController{err: runner.ErrStopped}, http.StatusServiceUnavailable},
		{"other", &fakeController{err: errors.New("boom")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(tc.ctrl)
			req := httptest.NewRequest(http.MethodPost, "/stop", nil)
			w := httptest.NewRecorder()
			h.HandleCommand(runner.CmdStopAll)(w, req)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestHandleCommand_MethodNotAllowed(t *testing.T) {
	h := newTestHandlers(&fakeController{})
	req := httptest.NewRequest(http.MethodGet, "/drive/toggle", nil)
	w := httptest.NewRecorder()

	h.HandleCommand(runner.CmdToggle)(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

// ---------- Routes ----------

func TestServerMux_Routes(t *testing.T) {
	ctrl := &fakeController{}
	s := NewServer(":0", NewStatusBroadcaster(), ctrl, testView())
	mux := s.Mux()

	cases := []struct {
		path string
		want runner.Command
	}{
		{"/drive/toggle", runner.CmdToggle},
		{"/climb/start", runner.CmdClimbStart},
		{"/climb/stop", runner.CmdClimbStop},
		{"/stop", runner.CmdStopAll},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, tc.path, nil))
		if w.Code != http.StatusAccepted {
			t.Errorf("POST %s: status = %d", tc.path, w.Code)
		}
	}
	got := ctrl.submitted()
	if len(got) != len(cases) {
		t.Fatalf("submitted %d commands, want %d", len(got), len(cases))
	}
	for i, tc := range cases {
		if got[i] != tc.want {
			t.Errorf("command %d = %v, want %v", i, got[i], tc.want)
		}
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ClimbGo") {
		t.Errorf("GET /: status %d", w.Code)
	}
}

func TestServerMux_Seek(t *testing.T) {
	cases := []struct {
		path string
		want int
	}{
		{"/drive/seek/1", http.StatusAccepted},
		{"/drive/seek/0", http.StatusAccepted},
		{"/drive/seek/2", http.StatusBadRequest}, // plan has two maneuvers
		{"/drive/seek/-1", http.StatusBadRequest},
		{"/drive/seek/one", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			ctrl := &fakeController{}
			mux := NewServer(":0", NewStatusBroadcaster(), ctrl, testView()).Mux()
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, tc.path, nil))
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusAccepted {
				got := ctrl.submitted()
				if len(got) != 1 || got[0].Op != runner.OpSeek {
					t.Errorf("submitted = %v, want one seek", got)
				}
			} else if n := len(ctrl.submitted()); n != 0 {
				t.Errorf("rejected seek submitted %d commands", n)
			}
		})
	}
}

func TestServerMux_SeekEmptyPlan(t *testing.T) {
	ctrl := &fakeController{}
	view := testView()
	view.Plan = nil
	mux := NewServer(":0", NewStatusBroadcaster(), ctrl, view).Mux()

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/drive/seek/0", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if n := len(ctrl.submitted()); n != 0 {
		t.Errorf("submitted %d commands, want none", n)
	}
}

func TestServerMux_CommandRoutesRejectGet(t *testing.T) {
	mux := NewServer(":0", NewStatusBroadcaster(), &fakeController{}, testView()).Mux()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stop", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /stop: status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

// ---------- HandleStatus / HandleConfig ----------

func TestHandleStatus(t *testing.T) {
	ctrl := &fakeController{snap: runner.Snapshot{At: 42, PlanLength: 5}}
	ctrl.snap.Drive.State = drive.Turn
	h := newTestHandlers(ctrl)
	w := httptest.NewRecorder()

	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var d struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(raw["drive"], &d); err != nil {
		t.Fatalf("decode drive: %v", err)
	}
	if d.State != "TURN" {
		t.Errorf("drive state = %q, want TURN", d.State)
	}
}

func TestHandleStatus_NoRunner(t *testing.T) {
	h := newTestHandlers(nil)
	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(&fakeController{})
	w := httptest.NewRecorder()

	h.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var v ConfigView
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(v.Plan) != 2 || v.Plan[1].Kind != "turn" || v.Plan[1].Target != 90 {
		t.Errorf("plan = %+v", v.Plan)
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

func TestServeIndex_Missing(t *testing.T) {
	h := NewHandlers(NewStatusBroadcaster(), nil, testView(), fstest.MapFS{})
	w := httptest.NewRecorder()
	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ---------- Streams ----------

func TestHandleStatusStream(t *testing.T) {
	h := newTestHandlers(nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleStatusStream))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	// wait for the connected comment, which is written after Subscribe
	if l := <-lines; !strings.HasPrefix(l, ": connected") {
		t.Fatalf("first line = %q", l)
	}
	h.Broadcaster.BroadcastMsg("hello stream")

	timeout := time.After(2 * time.Second)
	for {
		select {
		case l, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			if strings.HasPrefix(l, "data: ") && strings.Contains(l, "hello stream") {
				return
			}
		case <-timeout:
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestHandleWebSocket_CommandsAndEvents(t *testing.T) {
	ctrl := &fakeController{}
	h := newTestHandlers(ctrl)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	readEvent := func() StatusEvent {
		t.Helper()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var evt StatusEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.Fatalf("unmarshal %q: %v", msg, err)
		}
		return evt
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("climb_start")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if evt := readEvent(); evt.Level != "ack" || evt.Msg != "climb_start" {
		t.Errorf("reply = %+v, want ack climb_start", evt)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("fly")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if evt := readEvent(); evt.Level != "error" {
		t.Errorf("reply = %+v, want error", evt)
	}

	// the reader goroutine subscribed before the first reply was sent
	h.Broadcaster.BroadcastMsg("pushed")
	if evt := readEvent(); evt.Msg != "pushed" {
		t.Errorf("event = %+v, want pushed", evt)
	}

	if got := ctrl.submitted(); len(got) != 1 || got[0] != runner.CmdClimbStart {
		t.Errorf("submitted = %v", got)
	}
}

func TestHandleWebSocket_ClosedOnServerContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newTestHandlers(&fakeController{})
	srv := httptest.NewUnstartedServer(http.HandlerFunc(h.HandleWebSocket))
	srv.Config.BaseContext = func(net.Listener) context.Context { return ctx }
	srv.Start()
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after cancel: %v, want close 1001 (going away)", err)
	}
}
