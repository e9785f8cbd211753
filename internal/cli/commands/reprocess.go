package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/docvec/internal/config"
	"github.com/cloo-solutions/docvec/internal/service"
)

// ReprocessCmd returns the reprocess command
func ReprocessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reprocess <document-id>",
		Short: "Rebuild a document's chunks and embeddings",
		Long:  "Rebuilds a document's chunks and embeddings, optionally with new chunk settings.",
		Args:  cobra.ExactArgs(1),
		RunE:  runReprocess,
	}

	cmd.Flags().Int("chunk-size", 0, "New chunk size in characters (default: keep)")
	cmd.Flags().Int("chunk-overlap", 0, "New chunk overlap in characters (default: keep)")

	return cmd
}

func runReprocess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer initTelemetry(cfg)()

	app, err := NewApp(ctx, cfg, AppOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	var opts service.ReprocessOptions
	opts.ChunkSize, _ = cmd.Flags().GetInt("chunk-size")
	if cmd.Flags().Changed("chunk-overlap") {
		overlap, _ := cmd.Flags().GetInt("chunk-overlap")
		opts.ChunkOverlap = &overlap
	}

	return reprocess(ctx, app, args[0], opts, cmd.OutOrStdout())
}

func reprocess(ctx context.Context, app *App, documentID string, opts service.ReprocessOptions, out io.Writer) error {
	doc, err := app.Pipeline.Reprocess(ctx, documentID, opts)
	if err != nil {
		return fmt.Errorf("reprocess failed: %w", err)
	}
	chunks, err := app.Pipeline.ListChunks(ctx, doc.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s: %s, %d chunks (size %d, overlap %d)\n",
		doc.ID, doc.Location, doc.Status, len(chunks), doc.ChunkSize, doc.ChunkOverlap)
	return nil
}
