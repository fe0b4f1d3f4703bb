// Package status keeps a small record of what the provider has served and
// exposes it over HTTP as JSON.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"

	"arqcopier/internal/errors"
	"arqcopier/internal/progress"
)

// Session describes one finished request
type Session struct {
	Peer     string            `json:"peer"`
	Filename string            `json:"filename"`
	Found    bool              `json:"found"`
	Success  bool              `json:"success"`
	Error    string            `json:"error,omitempty"`
	Summary  *progress.Summary `json:"summary,omitempty"`
	Finished time.Time         `json:"finished"`
}

// Report is the body of GET /status
type Report struct {
	Uptime   string            `json:"uptime"`
	Served   uint64            `json:"served"`
	NotFound uint64            `json:"not_found"`
	Failed   uint64            `json:"failed"`
	Active   int64             `json:"active"`
	Current  *progress.Summary `json:"current,omitempty"`
	Last     *Session          `json:"last,omitempty"`
}

// Registry counts sessions. It is safe for concurrent use.
type Registry struct {
	started time.Time

	served   atomic.Uint64
	notFound atomic.Uint64
	failed   atomic.Uint64
	active   atomic.Int64

	mu      sync.RWMutex
	current *progress.Stats
	last    *Session
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{started: time.Now()}
}

// Begin marks a transfer as running
func (r *Registry) Begin(stats *progress.Stats) {
	r.active.Add(1)
	r.mu.Lock()
	r.current = stats
	r.mu.Unlock()
}

// End records the outcome of a transfer started with Begin
func (r *Registry) End(s Session) {
	r.active.Add(-1)
	if s.Success {
		r.served.Add(1)
	} else {
		r.failed.Add(1)
	}
	s.Found = true
	r.record(&s, true)
}

// Rejected records a request answered with "404"
func (r *Registry) Rejected(peer, filename string) {
	r.notFound.Add(1)
	r.record(&Session{
		Peer:     peer,
		Filename: filename,
		Finished: time.Now(),
	}, false)
}

func (r *Registry) record(s *Session, clearCurrent bool) {
	if s.Finished.IsZero() {
		s.Finished = time.Now()
	}
	r.mu.Lock()
	r.last = s
	if clearCurrent {
		r.current = nil
	}
	r.mu.Unlock()
}

// Snapshot returns the current report
func (r *Registry) Snapshot() Report {
	rep := Report{
		Uptime:   time.Since(r.started).Round(time.Second).String(),
		Served:   r.served.Load(),
		NotFound: r.notFound.Load(),
		Failed:   r.failed.Load(),
		Active:   r.active.Load(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current != nil {
		summary := r.current.Snapshot()
		rep.Current = &summary
	}
	if r.last != nil {
		last := *r.last
		rep.Last = &last
	}
	return rep
}

func (r *Registry) serveStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.Snapshot()); err != nil {
		slog.Error("Failed to encode status", "error", err)
	}
}

// Handler returns the HTTP handler serving GET /status
func (r *Registry) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/status", handlers.MethodHandler{
		http.MethodGet: http.HandlerFunc(r.serveStatus),
	})

	logged := handlers.CustomLoggingHandler(io.Discard, mux, logFormatter)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(logged)
}

// logFormatter sends access records to slog instead of the writer
func logFormatter(_ io.Writer, params handlers.LogFormatterParams) {
	ip, _, err := net.SplitHostPort(params.Request.RemoteAddr)
	if err != nil {
		ip = params.Request.RemoteAddr
	}

	slog.Debug("Status request",
		"remote_addr", ip,
		"method", params.Request.Method,
		"uri", params.URL.RequestURI(),
		"status", params.StatusCode,
		"size", params.Size,
		"duration", time.Since(params.TimeStamp).String())
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	slog.Error("Status handler panicked", "error", fmt.Sprint(v...))
}

// Serve starts the status endpoint on address in the background. The caller
// shuts it down through the returned server.
func Serve(address string, reg *Registry) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, nil, errors.NewNetworkError("listen_status", address, err)
	}

	srv := &http.Server{
		Handler:           reg.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("Status server stopped", "error", err)
		}
	}()

	slog.Info("Status endpoint listening", "address", ln.Addr().String())
	return srv, ln.Addr(), nil
}
