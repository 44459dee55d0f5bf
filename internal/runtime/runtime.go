package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parleylabs/parley-gateway/internal/auditlog"
	"github.com/parleylabs/parley-gateway/internal/bus"
	"github.com/parleylabs/parley-gateway/internal/config"
	"github.com/parleylabs/parley-gateway/internal/engine/local"
	"github.com/parleylabs/parley-gateway/internal/engine/remote"
	"github.com/parleylabs/parley-gateway/internal/gateway"
	"github.com/parleylabs/parley-gateway/internal/natsserver"
	"github.com/parleylabs/parley-gateway/internal/server"
	"github.com/parleylabs/parley-gateway/internal/tokenizer"
)

// Runtime assembles and runs the gateway: telemetry, bus, engines, audit
// store, and the HTTP front door.
type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	metricsServer  *http.Server
	telemetryClose func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	audit, err := auditlog.Open(ctx, r.cfg.Audit, r.logger)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer audit.Close()

	// The static tokenizer stands in until real tokenizer artifacts are
	// wired; it satisfies the same collaborator contract.
	tok := tokenizer.NewStatic()

	var (
		localExec    *local.Executor
		remoteClient *remote.Client
	)
	switch r.cfg.Engine.Mode {
	case "remote":
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		defer embedded.Shutdown()

		busCfg := r.cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		busClient, err := bus.Connect(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer busClient.Close()

		remoteClient = remote.NewClient(busClient, r.cfg.Engine, r.logger)
		if err := remoteClient.Start(); err != nil {
			return fmt.Errorf("start remote client: %w", err)
		}
	default:
		var engine local.Engine
		if r.cfg.Local.Mode == "exec" {
			engine, err = local.NewExecEngine(r.cfg.Local.Command)
			if err != nil {
				return fmt.Errorf("create exec engine: %w", err)
			}
		} else {
			engine = local.NewMockEngine(tok, "")
		}
		localExec = local.NewExecutor(engine, tok, r.cfg.Local.QueueSize, r.logger)
	}

	gw := gateway.New(r.cfg, tok, localExec, remoteClient, audit, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	server.New(gw, r.logger).Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("gateway started",
		slog.String("addr", addr),
		slog.String("engine", r.cfg.Engine.Mode))

	<-ctx.Done()
	r.logger.Info("gateway stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
