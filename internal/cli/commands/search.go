package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/docvec/internal/api/handlers"
	"github.com/cloo-solutions/docvec/internal/config"
	"github.com/cloo-solutions/docvec/internal/service"
)

const previewLen = 100

// SearchCmd returns the search command
func SearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents",
		Long:  "Embeds the query and returns the most similar chunks, re-ranked by usage unless disabled.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().IntP("limit", "n", 0, "Maximum number of results (default: DOCVEC_MAX_SEARCH_RESULTS)")
	cmd.Flags().Float64("threshold", 0, "Minimum cosine similarity (default: DOCVEC_SEARCH_SIMILARITY_THRESHOLD)")
	cmd.Flags().StringP("type", "t", "", "Only search documents of this type")
	cmd.Flags().Bool("no-usage-ranking", false, "Order by similarity only")
	cmd.Flags().Bool("json", false, "Output as JSON")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
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

	req := service.SearchRequest{Query: strings.Join(args, " ")}
	req.Limit, _ = cmd.Flags().GetInt("limit")
	req.DocumentType, _ = cmd.Flags().GetString("type")
	if cmd.Flags().Changed("threshold") {
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		req.Threshold = &threshold
	}
	if noUsage, _ := cmd.Flags().GetBool("no-usage-ranking"); noUsage {
		enabled := false
		req.UsageRanking = &enabled
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	return search(ctx, app, req, asJSON, cmd.OutOrStdout())
}

func search(ctx context.Context, app *App, req service.SearchRequest, asJSON bool, out io.Writer) error {
	resp, err := app.Search.Search(ctx, req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(handlers.NewSearchResponse(resp))
	}

	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	fmt.Fprintf(out, "Found %d results (%s, %dms):\n\n", len(resp.Results), resp.Model, resp.DurationMs)
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%d. %s #%d (similarity %.3f, score %.3f, used %d)\n",
			i+1, r.Location, r.ChunkIndex, r.Similarity, r.CombinedScore, r.UsageCount)
		fmt.Fprintf(out, "   %s\n", preview(r.Content))
	}
	return nil
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > previewLen {
		return s[:previewLen-3] + "..."
	}
	return s
}
