package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/docvec/internal/config"
	"github.com/cloo-solutions/docvec/internal/service"
	"github.com/cloo-solutions/docvec/internal/storage"
	"github.com/cloo-solutions/docvec/internal/watch"
)

type ingestOptions struct {
	s3Prefix     string
	documentType string
	chunkSize    int
	chunkOverlap int
	batchSize    int
	watch        bool
}

// IngestCmd returns the ingest command
func IngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest [paths...]",
		Short: "Ingest files, directories or an S3 prefix",
		Long: `Walks the given paths and ingests every non-hidden file in batches.
Documents whose source has not changed since the last run are skipped.
With --watch, files changed on disk afterwards are ingested again and
removed files are deleted from the index.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.s3Prefix == "" {
				return errors.New("at least one path or --s3-prefix is required")
			}
			if opts.watch && len(args) == 0 {
				return errors.New("--watch requires at least one path")
			}
			return runIngest(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.s3Prefix, "s3-prefix", "", "Also ingest every object under this S3 prefix")
	cmd.Flags().StringVarP(&opts.documentType, "type", "t", "", "Document type (default: detected from the file)")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "Chunk size in characters (default: DOCVEC_CHUNK_SIZE)")
	cmd.Flags().IntVar(&opts.chunkOverlap, "chunk-overlap", 0, "Chunk overlap in characters (default: DOCVEC_CHUNK_OVERLAP)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Documents per batch (default: DOCVEC_INGEST_BATCH_SIZE)")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Keep running and re-ingest files changed on disk")

	return cmd
}

func runIngest(cmd *cobra.Command, paths []string, opts ingestOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.batchSize > 0 {
		cfg.IngestBatchSize = opts.batchSize
	}
	defer initTelemetry(cfg)()

	app, err := NewApp(ctx, cfg, AppOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()

	reqs, err := fileRequests(paths, opts)
	if err != nil {
		return err
	}
	if opts.s3Prefix != "" {
		s3Reqs, err := s3Requests(ctx, cfg, opts)
		if err != nil {
			releaseAll(reqs)
			return err
		}
		reqs = append(reqs, s3Reqs...)
	}

	res := app.Pipeline.IngestBatch(ctx, reqs)
	printBatch(out, res)

	if opts.watch {
		return watchPaths(ctx, app, paths, opts, out)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed", res.Failed, len(res.Items))
	}
	return nil
}

// fileRequests walks paths and returns one request per regular, non-hidden
// file. Locations are absolute paths.
func fileRequests(paths []string, opts ingestOptions) ([]service.IngestRequest, error) {
	var reqs []service.IngestRequest
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			req, err := fileRequest(path, info, opts)
			if err != nil {
				return err
			}
			reqs = append(reqs, req)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}
	return reqs, nil
}

func fileRequest(path string, info fs.FileInfo, opts ingestOptions) (service.IngestRequest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return service.IngestRequest{}, err
	}
	modTime := info.ModTime().UTC()
	return service.IngestRequest{
		Location:      abs,
		Path:          abs,
		DocumentType:  opts.documentType,
		Metadata:      map[string]any{"source": "file", "filename": info.Name()},
		ChunkSize:     opts.chunkSize,
		ChunkOverlap:  opts.chunkOverlap,
		SourceModTime: &modTime,
	}, nil
}

func s3Requests(ctx context.Context, cfg *config.Config, opts ingestOptions) ([]service.IngestRequest, error) {
	if !cfg.HasS3() {
		return nil, errors.New("--s3-prefix requires DOCVEC_S3_ENDPOINT, DOCVEC_S3_ACCESS_KEY_ID and DOCVEC_S3_SECRET_ACCESS_KEY")
	}
	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	reqs, err := client.IngestRequests(ctx, opts.s3Prefix, opts.documentType)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		reqs[i].ChunkSize = opts.chunkSize
		reqs[i].ChunkOverlap = opts.chunkOverlap
	}
	return reqs, nil
}

func releaseAll(reqs []service.IngestRequest) {
	for _, r := range reqs {
		if r.Release != nil {
			r.Release()
		}
	}
}

func watchPaths(ctx context.Context, app *App, paths []string, opts ingestOptions, out io.Writer) error {
	w, err := watch.New(paths, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "watching %s for changes\n", strings.Join(paths, ", "))
	return w.Run(ctx, changeHandler(app, opts, out))
}

// changeHandler ingests written files again and deletes the documents of
// removed ones.
func changeHandler(app *App, opts ingestOptions, out io.Writer) watch.Handler {
	return func(ctx context.Context, changes []watch.Change) {
		var reqs []service.IngestRequest
		for _, c := range changes {
			if c.Removed {
				location, err := filepath.Abs(c.Path)
				if err != nil {
					continue
				}
				deleted, err := app.Pipeline.DeleteByLocation(ctx, location)
				if err != nil {
					log.Printf("ingest: failed to delete %s: %v", location, err)
					continue
				}
				if deleted {
					fmt.Fprintf(out, "deleted    %s\n", location)
				}
				continue
			}

			info, err := os.Stat(c.Path)
			if err != nil {
				continue
			}
			req, err := fileRequest(c.Path, info, opts)
			if err != nil {
				continue
			}
			reqs = append(reqs, req)
		}
		if len(reqs) > 0 {
			printBatch(out, app.Pipeline.IngestBatch(ctx, reqs))
		}
	}
}

func printBatch(out io.Writer, res *service.BatchResult) {
	for _, item := range res.Items {
		switch {
		case item.Err != nil:
			fmt.Fprintf(out, "%-10s %s: %v\n", item.Outcome, item.Location, item.Err)
		case item.DocumentID != "":
			fmt.Fprintf(out, "%-10s %s (%s)\n", item.Outcome, item.Location, item.DocumentID)
		default:
			fmt.Fprintf(out, "%-10s %s\n", item.Outcome, item.Location)
		}
	}
	fmt.Fprintf(out, "\n%d processed, %d skipped, %d failed, %d cancelled\n",
		res.Processed, res.Skipped, res.Failed, res.Cancelled)
}
