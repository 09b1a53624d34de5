package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/schedule2cal/internal/server"
	"github.com/jo-hoe/schedule2cal/internal/storage"
)

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local web upload page",
	Long: `Serve runs a small web page where a browser can pick a schedule image,
preview it and download the converted schedule.ics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides config, e.g. :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}

	conv, err := newConversion(cfg)
	if err != nil {
		return err
	}
	store, err := openHistory(cfg)
	if err != nil {
		return err
	}

	svc := &server.Service{
		Log:        logger,
		Cfg:        cfg,
		Conversion: conv,
		Previews:   storage.NewPreviewStore(cfg.Server.StorageDir),
		Validate:   strictValidator(cfg),
	}
	if store != nil {
		defer func() { _ = store.Close() }()
		svc.Recorder = store
	}
	defer svc.Close()

	stopJanitor, err := svc.StartJanitor()
	if err != nil {
		return err
	}
	defer stopJanitor()

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpSrv := server.NewHTTPServer(svc)

	// Run server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", cfg.Server.Addr).Str("backend", cfg.Backend.Provider).Msg("http server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	var serveErr error
	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error().Err(serveErr).Msg("server error")
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	logger.Info().Msg("server stopped")
	return serveErr
}
