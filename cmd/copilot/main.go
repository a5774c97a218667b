// Command copilot streams a sales call to the transcription service and
// prints the live transcript together with the assistance the backend offers
// whenever the agent says the trigger phrase.
//
// Usage:
//
//	copilot [--config file] [--log-level level] <command> [args]
//
// Commands:
//
//	live           stream the microphone until interrupted
//	play <file>    stream a recorded call as if it were live
//	agents         list the agents known to the backend
//	leads <agent>  list an agent's leads
//	report <id>    request the end-of-call report
//	devices        list capture devices
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/salescopilot/internal/app"
	"github.com/MrWong99/salescopilot/internal/config"
	"github.com/MrWong99/salescopilot/internal/health"
	"github.com/MrWong99/salescopilot/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "copilot:", err)
		os.Exit(1)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger installs a text logger on stderr whose level can change at
// runtime through the returned LevelVar.
func newLogger(level config.LogLevel) *slog.LevelVar {
	lv := new(slog.LevelVar)
	lv.Set(app.SlogLevel(level))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})))
	return lv
}

// ── Signal context ────────────────────────────────────────────────────────────

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// reloadOnHangup calls reload for every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, reload func()) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				slog.Info("SIGHUP received, reloading config")
				reload()
			}
		}
	}()
}

// ── Ops server ────────────────────────────────────────────────────────────────

// opsServer serves /healthz, /readyz and /metrics on cfg.OpsAddr.
type opsServer struct {
	srv *http.Server
}

// startOps starts the ops server, or returns nil when no address is
// configured.
func startOps(cfg config.ServerConfig, prov *observe.Provider, checkers []health.Checker) *opsServer {
	if cfg.OpsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", prov.MetricsHandler())

	srv := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		var err error
		if cfg.TLS != nil {
			slog.Info("ops server listening (TLS)", "addr", cfg.OpsAddr)
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			slog.Info("ops server listening", "addr", cfg.OpsAddr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server error", "err", err)
		}
	}()
	return &opsServer{srv: srv}
}

func (o *opsServer) shutdown(ctx context.Context) {
	if o == nil {
		return
	}
	if err := o.srv.Shutdown(ctx); err != nil {
		slog.Warn("ops server shutdown error", "err", err)
	}
}
