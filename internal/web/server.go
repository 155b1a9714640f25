package web

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/cjeanneret/ClimbGo/internal/logic/runner"
)

// commandRoutes maps the operator buttons onto runner commands.
var commandRoutes = []struct {
	path string
	cmd  runner.Command
}{
	{"/drive/toggle", runner.CmdToggle},
	{"/climb/start", runner.CmdClimbStart},
	{"/climb/stop", runner.CmdClimbStop},
	{"/stop", runner.CmdStopAll},
}

const shutdownTimeout = 5 * time.Second

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server for the operator UI. ctrl may be nil, in which
// case the control endpoints answer 503.
func NewServer(addr string, broadcaster *StatusBroadcaster, ctrl Controller, view ConfigView) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}
	return &Server{
		addr:     addr,
		handlers: NewHandlers(broadcaster, ctrl, view, subFS),
	}
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	for _, route := range commandRoutes {
		mux.HandleFunc("POST "+route.path, s.handlers.HandleCommand(route.cmd))
	}
	mux.HandleFunc("POST /drive/seek/{index}", s.handlers.HandleSeek)

	mux.HandleFunc("GET /config", s.handlers.HandleConfig)
	mux.HandleFunc("GET /status", s.handlers.HandleStatus)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.HandleFunc("GET /ws", s.handlers.HandleWebSocket)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully. Streaming
// clients are disconnected by the shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
