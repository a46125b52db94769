package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/hybrid-memory/internal/api"
	"github.com/rcliao/hybrid-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Serve the memory API over HTTP and run the scheduled repair sweep until interrupted.",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default from config)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")

	a, err := openApp(true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()
	logger := a.logger
	cfg := a.cfg
	if addr == "" {
		addr = cfg.Addr()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Sweep.Enabled {
		sweeper, err := memory.NewSweeper(a.svc, cfg.Sweep.Schedule, a.repairOptions(), logger)
		if err != nil {
			exitErr("sweep", err)
		}
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	router := api.NewRouter(a.svc, a.metrics, logger, api.Options{
		CORSOrigins:   cfg.Server.CORSOrigins,
		MinSimilarity: cfg.Search.MinSimilarity,
		Repair:        a.repairOptions(),
		RateLimit:     cfg.Server.RateLimit,
		RateWindow:    cfg.Server.RateWindow,
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment),
			zap.String("embedding_provider", cfg.Embedding.Provider),
			zap.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
			return
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
