package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qingchang/cardtable/internal/api"
	"github.com/qingchang/cardtable/internal/bot"
	"github.com/qingchang/cardtable/internal/config"
	"github.com/qingchang/cardtable/internal/gateway"
	"github.com/qingchang/cardtable/internal/identity"
	"github.com/qingchang/cardtable/internal/observability"
	"github.com/qingchang/cardtable/internal/realtime"
	"github.com/qingchang/cardtable/internal/registry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, continuing with flags/environment only")
	}

	cfg := &config.Config{}
	cmd := config.BuildCommand(cfg, func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), cfg)
	})
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := observability.SetupLogger()
	if err != nil {
		return fmt.Errorf("cannot init logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tp, err := observability.SetupTracerProvider(ctx, "cardtable", cfg.TraceStdout, logger)
	if err != nil {
		return fmt.Errorf("cannot init tracer: %w", err)
	}
	defer tp.Shutdown(ctx)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer.(*prometheus.Registry))
	idmgr := identity.NewManager(cfg.IdentitySecret, cfg.IdentityTTL)
	botMgr := bot.NewManager()

	reg := registry.New(ctx, logger, metrics, botMgr.Policy())
	gw := gateway.New(reg, logger)

	restServer := api.NewServer(idmgr, cfg.IdentityTTL, logger)
	wsServer := realtime.NewServer(idmgr, gw, logger, metrics)
	restServer.Router.Handle("/ws", wsServer)

	srv := &http.Server{Addr: cfg.Addr(), Handler: restServer.Router}
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
