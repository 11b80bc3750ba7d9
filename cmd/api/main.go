package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"duel-server/internal/config"
	"duel-server/internal/obslog"
	"duel-server/internal/rules"
	"duel-server/internal/server"
	"duel-server/internal/store"
)

const shutdownTimeout = 30 * time.Second

func gracefulShutdown(customServer *server.Server, httpServer *http.Server, done chan<- struct{}) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	obslog.L().Info("shutdown_signal", zap.String("hint", "press Ctrl+C again to force"))
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		obslog.L().Warn("http_shutdown_forced", zap.Error(err))
	}
	// snapshot rooms and close every client channel
	if err := customServer.Shutdown(ctx); err != nil {
		obslog.L().Warn("coordinator_shutdown_error", zap.Error(err))
	}

	close(done)
}

// rulesRegistry uses the rules service when RULES_URL is set and the
// in-process variants otherwise.
func rulesRegistry(cfg *config.Config) *rules.Registry {
	if cfg.RulesURL == "" {
		return rules.Builtin()
	}
	remote := rules.NewRemote(cfg.RulesURL, rules.WithTimeout(cfg.RulesTimeout), rules.WithRetry(2))
	return remote.RemoteRegistry(rules.Builtin().Names()...)
}

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		panic(err)
	}
	defer func() { _ = obslog.L().Sync() }()

	cfg, err := config.Load()
	if err != nil {
		obslog.L().Fatal("config_invalid", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := store.Open(ctx, cfg)
	cancel()
	if err != nil {
		obslog.L().Fatal("snapshot_store_unavailable", zap.String("store", cfg.SnapshotStore), zap.Error(err))
	}

	customServer, httpServer := server.NewServer(cfg, rulesRegistry(cfg), st)

	done := make(chan struct{})
	go gracefulShutdown(customServer, httpServer, done)

	obslog.L().Info("listening",
		zap.String("addr", httpServer.Addr),
		zap.String("rules", rulesSource(cfg)),
		zap.String("store", cfg.SnapshotStore),
		zap.Duration("grace_period", cfg.GracePeriod))

	err = httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		obslog.L().Error("http_server_error", zap.Error(err))
		os.Exit(1)
	}

	<-done
	obslog.L().Info("shutdown_complete")
}

func rulesSource(cfg *config.Config) string {
	if cfg.RulesURL == "" {
		return "in-process"
	}
	return cfg.RulesURL
}
