package reload

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/a-h/templ"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/logging"
	"github.com/villasimius/sitebuild/internal/pipeline"
	"github.com/villasimius/sitebuild/internal/validation"
)

// Endpoints served by the reload server itself. Every other path is proxied.
const (
	SocketPath = "/__sitebuild/ws"
	ClientPath = "/__sitebuild/client.js"
	StatusPath = "/__sitebuild/status"
)

const recentReports = 20

//go:embed client.js
var clientScript []byte

// Config configures a Server.
type Config struct {
	// Addr is the listen address, for example "localhost:3000".
	Addr string
	// Proxy is the development server address, "host:port" or a URL.
	Proxy string
	// Delay is how long NotifyClientsReload waits before broadcasting.
	Delay time.Duration
}

// Server is the live-reload development server.
type Server struct {
	cfg    Config
	target *url.URL
	hub    *Hub
	logger logging.Logger

	httpServer *http.Server
	listener   net.Listener
	serverMu   sync.Mutex

	reloadMu    sync.Mutex
	reloadTimer *time.Timer

	// failing maps a producer to its last error message until a run of
	// that producer succeeds.
	failMu  sync.Mutex
	failing map[string]string

	reportsMu sync.RWMutex
	reports   []*pipeline.Report
	metrics   func() pipeline.MetricsSnapshot
	session   pipeline.BuildContext
}

// NewServer validates cfg and creates a server. It does not listen yet.
func NewServer(cfg Config, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	target, err := validation.ParseProxyTarget(cfg.Proxy)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeConfig, errs.ErrCodeInvalidConfig, "reload proxy")
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}

	s := &Server{
		cfg:     cfg,
		target:  target,
		logger:  logger.WithComponent("reload"),
		failing: make(map[string]string),
	}
	s.hub = NewHub(s.allowOrigin, logger)
	return s, nil
}

// allowOrigin accepts pages served by this server or by the proxied
// development server.
func (s *Server) allowOrigin(origin string) bool {
	allowed := []string{s.target.Host}
	s.serverMu.Lock()
	if s.listener != nil {
		allowed = append(allowed, s.listener.Addr().String())
	}
	s.serverMu.Unlock()
	if s.cfg.Addr != "" {
		allowed = append(allowed, s.cfg.Addr)
		if _, port, err := net.SplitHostPort(s.cfg.Addr); err == nil {
			allowed = append(allowed, "localhost:"+port, "127.0.0.1:"+port)
		}
	}
	return validation.ValidateOrigin(origin, allowed) == nil
}

// Handler returns the HTTP handler serving the reload endpoints and the proxy.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(SocketPath, s.hub)
	mux.HandleFunc(ClientPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(clientScript)
	})
	mux.HandleFunc(StatusPath, func(w http.ResponseWriter, r *http.Request) {
		templ.Handler(statusPage(s.statusView())).ServeHTTP(w, r)
	})
	mux.Handle("/", newProxy(s.target, func(r *http.Request, err error) {
		s.logger.Warn(r.Context(), err, "proxy request failed", "path", r.URL.Path, "upstream", s.target.Host)
	}))
	return mux
}

// Listen binds the listen address. Start calls it when needed.
func (s *Server) Listen() (net.Addr, error) {
	s.serverMu.Lock()
	defer s.serverMu.Unlock()
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, errs.NewIOError(errs.ErrCodeReloadUnavailable, fmt.Sprintf("listen on %s", s.cfg.Addr), err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Start serves until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}

	s.serverMu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	ln := s.listener
	s.serverMu.Unlock()

	s.logger.Info(ctx, "reload server listening", "addr", addr.String(), "proxy", s.target.String())

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errs.NewIOError(errs.ErrCodeReloadUnavailable, "reload server stopped", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the HTTP server and disconnects browsers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.reloadMu.Lock()
	if s.reloadTimer != nil {
		s.reloadTimer.Stop()
		s.reloadTimer = nil
	}
	s.reloadMu.Unlock()

	_ = s.hub.Shutdown(ctx)

	s.serverMu.Lock()
	server := s.httpServer
	s.serverMu.Unlock()
	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NotifyClientsReload asks every browser to reload after the configured
// delay. Requests that arrive while a reload is pending join it.
func (s *Server) NotifyClientsReload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.cfg.Delay == 0 {
		s.hub.Broadcast(Message{Type: MessageReload})
		return
	}

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	if s.reloadTimer != nil {
		return
	}
	s.reloadTimer = time.AfterFunc(s.cfg.Delay, func() {
		s.reloadMu.Lock()
		s.reloadTimer = nil
		s.reloadMu.Unlock()
		s.hub.Broadcast(Message{Type: MessageReload})
	})
}

// NotifyError shows the failure overlay in every browser. The overlay stays
// up until every failing producer has succeeded again.
func (s *Server) NotifyError(_ context.Context, producer, message string) {
	s.failMu.Lock()
	s.failing[producer] = message
	s.failMu.Unlock()
	s.hub.Broadcast(Message{Type: MessageError, Target: producer, Content: message})
}

// Record keeps report for the status page and settles the error overlay.
// Register it with Graph.AddCallback.
func (s *Server) Record(report *pipeline.Report) {
	s.reportsMu.Lock()
	s.reports = append(s.reports, report)
	if len(s.reports) > recentReports {
		s.reports = append([]*pipeline.Report(nil), s.reports[len(s.reports)-recentReports:]...)
	}
	s.reportsMu.Unlock()

	if msg, ok := s.settle(report); ok {
		s.hub.Broadcast(msg)
	}
}

// settle drops the producers report ran cleanly from the failing set. It
// returns clear once the set drains. When a recovery leaves other failures
// standing it returns the remaining error whose producer sorts first.
func (s *Server) settle(report *pipeline.Report) (Message, bool) {
	s.failMu.Lock()
	defer s.failMu.Unlock()

	for _, f := range report.Failures {
		if _, ok := s.failing[f.Producer]; !ok && f.Err != nil {
			s.failing[f.Producer] = f.Err.Error()
		}
	}

	recovered := false
	for _, name := range succeeded(report) {
		if _, ok := s.failing[name]; ok {
			delete(s.failing, name)
			recovered = true
		}
	}
	if !recovered {
		return Message{}, false
	}
	if len(s.failing) == 0 {
		return Message{Type: MessageClear}, true
	}

	remaining := make([]string, 0, len(s.failing))
	for name := range s.failing {
		remaining = append(remaining, name)
	}
	sort.Strings(remaining)
	return Message{Type: MessageError, Target: remaining[0], Content: s.failing[remaining[0]]}, true
}

// succeeded lists the producers that ran without error in report. A run of
// a producer's own implicit task counts for that producer.
func succeeded(report *pipeline.Report) []string {
	var names []string
	var walk func(stages []pipeline.StageReport)
	walk = func(stages []pipeline.StageReport) {
		for _, st := range stages {
			for _, m := range st.Members {
				switch {
				case m.Task:
					walk(m.Stages)
				case m.Err == nil && len(report.FailuresOf(m.Name)) == 0:
					names = append(names, m.Name)
				}
			}
		}
	}
	walk(report.Stages)

	if report.Interrupted == nil && len(report.FailuresOf(report.Task)) == 0 {
		names = append(names, report.Task)
	}
	return names
}

// SetSession sets the build context whose mode and start time head the
// status page.
func (s *Server) SetSession(bc pipeline.BuildContext) {
	s.reportsMu.Lock()
	defer s.reportsMu.Unlock()
	s.session = bc
}

// SetMetrics sets the source of the counters shown on the status page.
func (s *Server) SetMetrics(fn func() pipeline.MetricsSnapshot) {
	s.reportsMu.Lock()
	defer s.reportsMu.Unlock()
	s.metrics = fn
}

func (s *Server) statusView() statusView {
	s.reportsMu.RLock()
	defer s.reportsMu.RUnlock()
	view := statusView{
		Clients: s.hub.Clients(),
		Proxy:   s.target.Host,
		Reports: append([]*pipeline.Report(nil), s.reports...),
		Session: s.session,
	}
	if s.metrics != nil {
		view.Metrics = s.metrics()
	}
	return view
}

// Clients returns the number of connected browsers.
func (s *Server) Clients() int { return s.hub.Clients() }
