package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/idracpower/pkg/log"
	"github.com/raterudder/idracpower/pkg/monitor"
)

// Server polls every configured device on a fixed interval and serves the
// latest readings over HTTP.
type Server struct {
	devices *monitor.Map
	metrics *metrics

	listenAddr   string
	pollInterval time.Duration
	httpServer   *http.Server
	serverName   string
}

// New returns a server for m. Configured is the flag driven equivalent.
func New(m *monitor.Map, listenAddr string, pollInterval time.Duration) *Server {
	return &Server{
		devices:      m,
		metrics:      newMetrics(),
		listenAddr:   listenAddr,
		pollInterval: pollInterval,
		serverName:   "idracpower",
	}
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(m *monitor.Map) *Server {
	srv := New(m, "", 0)

	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	pollInterval := lflag.Duration("poll-interval", 30*time.Second, "How often every iDRAC is polled")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *pollInterval <= 0 {
			panic(fmt.Sprintf("poll-interval must be positive: %s", *pollInterval))
		}
		srv.pollInterval = *pollInterval
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices", s.handleListDevices)
	mux.HandleFunc("GET /api/devices/{id}", s.handleGetDevice)
	mux.HandleFunc("GET /api/devices/{id}/power", s.handleDevicePower)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics.handler())
	return s.revisionMiddleware(gziphandler.GzipHandler(s.headersMiddleware(mux)))
}

// Poll samples every device once. A device that is still pending is set up
// first, in its own goroutine, so a controller that hangs during setup does not
// delay the others. Each device applies its own readings in order.
func (s *Server) Poll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, d := range s.devices.All() {
		wg.Add(1)
		go func(d *monitor.Device) {
			defer wg.Done()
			if !d.Ready() {
				// the map logs the failure
				if err := s.devices.SetupDevice(ctx, d); err != nil {
					return
				}
			}
			s.pollDevice(ctx, d)
		}(d)
	}
	wg.Wait()

	if n := s.devices.Pending(); n > 0 {
		log.Ctx(ctx).DebugContext(ctx, "some devices are not ready", slog.Int("pending", n))
	}
}

func (s *Server) pollDevice(ctx context.Context, d *monitor.Device) {
	id := d.ID()
	start := time.Now()
	_, err := d.TotalEnergy(ctx)
	s.metrics.observePoll(id, start)
	if err != nil {
		// the device logs the failure with its own context
		s.metrics.recordError(id, monitor.ErrorKind(err))
	}
	s.metrics.recordStatus(d.Status())
}

func (s *Server) pollLoop(ctx context.Context) {
	s.Poll(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Run starts polling and the HTTP server and blocks until the context is
// canceled or an error occurs. It also handles graceful shutdown when the
// context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	pollCtx, stopPolling := context.WithCancel(ctx)
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		s.pollLoop(pollCtx)
	}()
	defer func() {
		stopPolling()
		<-pollDone
	}()

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr), slog.Duration("pollInterval", s.pollInterval))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if len(s.devices.Devices()) == 0 {
		http.Error(w, "no devices ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
