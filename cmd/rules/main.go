// Command rules serves the built-in game variants over HTTP so coordinators
// can use them as a remote rules authority.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"duel-server/internal/config"
	"duel-server/internal/obslog"
	"duel-server/internal/rules"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		panic(err)
	}
	defer func() { _ = obslog.L().Sync() }()

	cfg, err := config.Load()
	if err != nil {
		obslog.L().Fatal("config_invalid", zap.Error(err))
	}

	reg := rules.Builtin()
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.RulesPort),
		Handler:           rules.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			obslog.L().Warn("http_shutdown_forced", zap.Error(err))
		}
	}()

	obslog.L().Info("rules_listening", zap.String("addr", srv.Addr), zap.Strings("games", reg.Names()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		obslog.L().Error("http_server_error", zap.Error(err))
		os.Exit(1)
	}
}
