package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/btlatency/internal/config"
	"github.com/MrWong99/btlatency/internal/health"
	"github.com/MrWong99/btlatency/internal/observe"
)

// shutdownTimeout bounds the graceful stop of the metrics listener.
const shutdownTimeout = 5 * time.Second

// startAux starts the metrics listener and config watcher, when configured,
// as members of g. Both stop when ctx is done.
func (a *App) startAux(ctx context.Context, g *errgroup.Group) error {
	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: metrics listener: %w", err)
		}
		a.serve(ctx, g, ln)
	}
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}
	return nil
}

// Handler returns the HTTP handler of the metrics listener.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", observe.MetricsHandler())
	health.New(a.stream.Checker()).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) serve(ctx context.Context, g *errgroup.Group, ln net.Listener) {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	observe.Logger(ctx).Info("metrics listener started", "addr", ln.Addr().String())
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: metrics listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

// applyConfig applies the live settings of a reloaded config.
func (a *App) applyConfig(_, _ *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(Level(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.StallTimeoutChanged {
		a.stream.SetWindow(diff.NewStallTimeout)
		slog.Info("stall timeout changed", "stall_timeout", diff.NewStallTimeout)
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes take effect in the next session", "settings", diff.RestartRequired)
	}
}

// Level maps a config log level to its slog level.
func Level(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
