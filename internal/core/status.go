package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/keepmind9/cardbot/internal/logger"
	"github.com/keepmind9/cardbot/internal/metrics"
	"github.com/keepmind9/cardbot/pkg/constants"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Status server routes
const (
	HealthzPath     = "/healthz"
	TokenStatusPath = "/token/status"
	MetricsPath     = "/metrics"
)

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// StatusHandler returns the router served by the status server
func (e *Engine) StatusHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get(HealthzPath, e.handleHealthz)
	r.Get(TokenStatusPath, e.handleTokenStatus)
	r.Method(http.MethodGet, MetricsPath, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return r
}

// startStatusServer binds the listen address and serves in the background.
// Bind errors are returned to the caller.
func (e *Engine) startStatusServer() error {
	addr := e.config.StatusServer.Addr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           e.StatusHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	e.serverMu.Lock()
	e.statusServer = server
	e.statusAddr = ln.Addr()
	e.serverMu.Unlock()

	logger.WithField("address", ln.Addr().String()).Info("status-server-listening")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.WithField("error", err).Error("status-server-error")
		}
		logger.Info("status-server-stopped")
	}()

	return nil
}

func (e *Engine) stopStatusServer() {
	e.serverMu.Lock()
	server := e.statusServer
	e.statusServer = nil
	e.serverMu.Unlock()

	if server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.StatusServerShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithField("error", err).Error("failed-to-gracefully-stop-status-server")
		server.Close()
	}
}

func (e *Engine) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := e.cache.Status()
	switch {
	case !status.Initialized:
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Reason: "token not initialized"})
	case status.NearlyExpired:
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Reason: "token expired"})
	default:
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}

func (e *Engine) handleTokenStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, e.cache.Status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithField("error", err).Warn("failed-to-write-status-response")
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"uri":      r.RequestURI,
			"status":   ww.Status(),
			"size":     ww.BytesWritten(),
			"duration": time.Since(start).String(),
		}).Debug("status-request")
	})
}
