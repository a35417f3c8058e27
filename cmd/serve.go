package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmuoria/cv-shortlist-agent/internal/api"
	"github.com/fmuoria/cv-shortlist-agent/internal/ingestion"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP screening API",
	Long: `Start the HTTP screening API.

Endpoints:
  POST /screen       upload CVs (files, ZIP archives or JSON documents) with a job description
  GET  /report       last screening report
  GET  /report.xlsx  last screening report as an Excel workbook
  GET  /health       health check`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("port", "", "port to listen on (overrides the config file)")
	serveCmd.Flags().Bool("gmail", false, "enable the gmail_subject field using the cached Gmail token")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := getConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shortlistAgent := newAgent(ctx, cfg, logger)
	defer shortlistAgent.Close()

	server := api.NewServer(shortlistAgent, archiveOptions(cfg), logger)

	if enabled, _ := cmd.Flags().GetBool("gmail"); enabled {
		// A server cannot answer the consent prompt, so only a cached token is usable.
		if _, err := os.Stat(cfg.GmailTokenPath); err != nil {
			return fmt.Errorf("gmail token %s not found, authorize once with the screen command: %w", cfg.GmailTokenPath, err)
		}
		gh, err := ingestion.NewGmailHandlerWithCallback(ctx, gmailOptions(cfg), noInteractiveAuth, logger)
		if err != nil {
			return err
		}
		server.SetGmailHandler(gh)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", httpServer.Addr), zap.Bool("ai_enabled", shortlistAgent.AIEnabled()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-stop:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func noInteractiveAuth(string) (string, error) {
	return "", errors.New("gmail token is invalid and interactive authorization is unavailable")
}
