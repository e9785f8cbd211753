package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/docvec/internal/api/handlers"
	"github.com/cloo-solutions/docvec/internal/config"
	"github.com/cloo-solutions/docvec/internal/jobs"
	"github.com/cloo-solutions/docvec/internal/server"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the docvec API server and the background processing worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides DOCVEC_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	defer initTelemetry(cfg)()

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	app, err := NewApp(ctx, cfg, AppOptions{Migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer app.Close()

	var worker *jobs.Worker
	if app.Jobs != nil {
		runner := jobs.NewProcessingRunner(app.Jobs, app.Pipeline, jobs.RunnerConfig{
			Concurrency: cfg.WorkerConcurrency,
			MaxRetries:  cfg.JobMaxRetries,
		})
		worker = jobs.NewWorker(runner, cfg.WorkerPollInterval)
		go worker.Start(ctx)
		log.Println("processing worker started")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewHandler(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Println("shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	if worker != nil {
		worker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// NewHandler builds the HTTP router over app. Async submission is only
// offered when a job queue exists.
func NewHandler(app *App) http.Handler {
	var queue handlers.JobEnqueuer
	if app.Queue != nil {
		queue = app.Queue
	}
	return server.NewRouter(server.RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(app.Pipeline, queue),
		SearchHandler:   handlers.NewSearchHandler(app.Search),
	})
}
