package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Napolesllll/sst-services-sub001/internal/auth"
	"github.com/Napolesllll/sst-services-sub001/internal/channels"
	"github.com/Napolesllll/sst-services-sub001/internal/metrics"
	"github.com/Napolesllll/sst-services-sub001/internal/notify"
	"github.com/Napolesllll/sst-services-sub001/internal/router"
	"github.com/Napolesllll/sst-services-sub001/internal/server/middleware"
	"github.com/Napolesllll/sst-services-sub001/pkg/config"
	"github.com/Napolesllll/sst-services-sub001/pkg/state"
	"github.com/Napolesllll/sst-services-sub001/pkg/state/statemanager"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

type App struct {
	logger       *slog.Logger
	config       *config.Config
	stateManager state.Manager
	hub          *notify.Hub
	gate         *auth.Gate
	resolver     *channels.Resolver
	eventRouter  *router.EventRouter
	metrics      *metrics.Metrics
	registry     *prometheus.Registry
	stats        *cron.Cron
	http         *http.Server
	wg           sync.WaitGroup

	ctx          context.Context
	connCtx      context.Context
	cancelConns  context.CancelFunc
	shutdownOnce sync.Once
}

// NewApp wires the notification core. Cancelling rootCtx starts the graceful
// shutdown sequence.
func NewApp(rootCtx context.Context, logger *slog.Logger, cfg *config.Config) *App {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)
	stateManager := statemanager.NewInMemoryManager(logger)
	connCtx, cancelConns := context.WithCancel(context.Background())

	app := &App{
		logger:       logger,
		config:       cfg,
		stateManager: stateManager,
		hub:          notify.NewHub(logger, stateManager, m),
		gate:         auth.NewGate(logger, cfg.Auth.JWTSecret),
		resolver:     channels.NewResolver(logger, stateManager),
		eventRouter:  router.NewEventRouter(logger, stateManager),
		metrics:      m,
		registry:     registry,
		ctx:          rootCtx,
		connCtx:      connCtx,
		cancelConns:  cancelConns,
	}

	app.http = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           app.routes(),
		ReadHeaderTimeout: cfg.Transport.HandshakeTimeout,
	}
	return app
}

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoverer(a.logger))

	r.With(
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(a.logger),
		middleware.NewRateLimitMiddleware(a.logger, a.config.Server.RateLimit),
		middleware.NewConnectionLimiter(
			a.logger,
			a.stateManager.GetUserConnectionCount,
			a.config.Server.ConnectionLimit,
		),
	).Get("/ws", a.upgradeHandler)

	r.Get("/healthz", a.healthHandler)
	r.Get("/stats", a.statsHandler)
	r.Method(http.MethodGet, a.config.Server.MetricsPath, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	if a.config.Server.InternalToken != "" {
		r.Route("/internal/notifications", a.internalRoutes)
	}
	return r
}

// Dispatcher returns the handle collaborators use to push notifications.
func (a *App) Dispatcher() notify.Dispatcher {
	return a.hub
}

func (a *App) Handler() http.Handler {
	return a.http.Handler
}

// Run listens on the configured address and serves until the root context
// is cancelled.
func (a *App) Run() error {
	ln, err := net.Listen("tcp", a.http.Addr)
	if err != nil {
		a.Shutdown()
		return fmt.Errorf("listen on %s: %w", a.http.Addr, err)
	}
	return a.Serve(ln)
}

func (a *App) Serve(ln net.Listener) error {
	if err := a.startStatsReporter(); err != nil {
		a.logger.Error("Failed to start stats reporter", slog.Any("error", err))
	}
	a.hub.Start()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", ln.Addr().String()))
		errCh <- a.http.Serve(ln)
	}()

	select {
	case <-a.ctx.Done():
		a.Shutdown()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		a.logger.Error("HTTP server failed", slog.Any("error", err))
		a.Shutdown()
		return err
	}
}

// Shutdown tells every client the server is going away, waits the grace
// period, then closes all connections. It never fails; problems are logged.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	lc := a.config.Lifecycle
	a.logger.Info("Shutting down server...")

	if a.hub.Ready() {
		notified := a.hub.BroadcastShutdown()
		a.logger.Info("Shutdown notice broadcast", slog.Int("connections", notified))
		time.Sleep(lc.ShutdownGrace)
	} else {
		a.logger.Warn("Transport never initialized, skipping shutdown notice")
	}
	a.hub.Stop()
	a.stopStatsReporter()

	drainCtx, cancel := context.WithTimeout(context.Background(), lc.DrainTimeout)
	defer cancel()
	if err := a.http.Shutdown(drainCtx); err != nil {
		a.logger.Error("HTTP server shutdown failed", slog.Any("error", err))
	}

	a.logger.Info("Closing all active connections...")
	for _, conn := range a.stateManager.AllConnections() {
		conn.Transport.Close(websocket.CloseError{Code: websocket.StatusGoingAway, Reason: "server shutdown"})
	}

	// connCtx must outlive the close handshakes; cancelling it drops the
	// sockets without a close frame.
	if a.waitConnections(drainCtx) {
		a.cancelConns()
		a.logger.Info("Server shut down gracefully.")
		return
	}
	a.cancelConns()
	a.logger.Warn("Timed out waiting for connections to close")
}

// waitConnections reports whether every transport finished before ctx ended.
func (a *App) waitConnections(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *App) healthHandler(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	if !a.hub.Ready() {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
	}
	writeJSON(w, status, body)
}
