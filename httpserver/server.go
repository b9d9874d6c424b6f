package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/treasury-vault/metrics"
	"go.uber.org/atomic"
)

// HTTPServerConfig configures the API and metrics listeners.
type HTTPServerConfig struct {
	ListenAddr  string
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger
	Metrics     *metrics.Metrics

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

type Server struct {
	cfg     *HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
	handler    atomic.Pointer[Handler]
	admin      *AdminHandler
}

// New creates the ops server. admin may be nil when the master key is not Shamir-split.
// handler may be nil while the vault is sealed and installed later with SetHandler.
func New(cfg *HTTPServerConfig, handler *Handler, admin *AdminHandler) (srv *Server, err error) {
	metricsSrv, err := metrics.New(cfg.Metrics, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}

	srv = &Server{
		cfg:        cfg,
		log:        cfg.Log,
		metricsSrv: metricsSrv,
		admin:      admin,
	}
	srv.handler.Store(handler)
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return srv, nil
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()
	mux.Use(srv.httpLogger)

	mux.Route("/api/treasury", func(r chi.Router) {
		r.Get("/health", srv.treasuryRoute((*Handler).HandleHealth))
		r.Get("/usage", srv.treasuryRoute((*Handler).HandleUsage))
		r.Get("/jackpots", srv.treasuryRoute((*Handler).HandleJackpots))
		r.Get("/lockdown", srv.treasuryRoute((*Handler).HandleLockdownStatus))
		r.Post("/lockdown", srv.treasuryRoute((*Handler).HandleLockdown))
	})
	if srv.admin != nil {
		mux.Mount("/api/admin/unseal", srv.admin.AdminRouter())
	}

	mux.Get("/livez", srv.handleLivenessCheck)
	mux.Get("/readyz", srv.handleReadinessCheck)
	mux.Get("/drain", srv.handleDrain)
	mux.Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

// SetHandler installs the treasury handler once the authority is available.
func (srv *Server) SetHandler(h *Handler) {
	srv.handler.Store(h)
}

func (srv *Server) treasuryRoute(fn func(*Handler, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := srv.handler.Load()
		if h == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "vault is sealed"})
			return
		}
		fn(h, w, r)
	}
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ready", http.StatusOK
	switch {
	case !srv.isReady.Load():
		status, code = "not ready", http.StatusServiceUnavailable
	case srv.admin != nil && !srv.admin.IsUnsealed(), srv.handler.Load() == nil:
		status, code = "sealed", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already draining"})
		return
	}

	srv.log.Info("Server marked as not ready")

	go func() {
		// Give load balancers time to notice.
		time.Sleep(srv.cfg.DrainDuration)
		srv.log.Info("Drain period completed")
	}()

	writeJSON(w, http.StatusOK, map[string]string{"status": "draining"})
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already ready"})
		return
	}

	srv.log.Info("Server marked as ready")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// RunInBackground starts the API listener and, when configured, the metrics listener.
func (srv *Server) RunInBackground() {
	if srv.cfg.MetricsAddr != "" {
		go srv.listen("metrics", srv.cfg.MetricsAddr, srv.metricsSrv.ListenAndServe)
	}
	go srv.listen("api", srv.cfg.ListenAddr, srv.srv.ListenAndServe)
}

func (srv *Server) listen(name, addr string, serve func() error) {
	srv.log.Info("Starting HTTP server", "server", name, "listenAddress", addr)
	if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		srv.log.Error("HTTP server failed", "server", name, "err", err)
	}
}

// Shutdown stops both listeners, waiting up to GracefulShutdownDuration for each.
func (srv *Server) Shutdown() {
	srv.shutdown("api", srv.srv.Shutdown)
	if srv.cfg.MetricsAddr != "" {
		srv.shutdown("metrics", srv.metricsSrv.Shutdown)
	}
}

func (srv *Server) shutdown(name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := stop(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "server", name, "err", err)
		return
	}
	srv.log.Info("HTTP server gracefully stopped", "server", name)
}
