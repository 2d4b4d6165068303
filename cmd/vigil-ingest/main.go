package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/vigil/internal/config"
	"github.com/MikeSquared-Agency/vigil/internal/embedding"
	"github.com/MikeSquared-Agency/vigil/internal/ingest"
	"github.com/MikeSquared-Agency/vigil/internal/knowledge"
	"github.com/MikeSquared-Agency/vigil/internal/store"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

type options struct {
	out       string
	toDB      bool
	statePath string
	maxRunes  int
	batchSize int
	retries   int
	dryRun    bool
}

// embedderFactory is replaced in tests.
var embedderFactory = func(cfg config.Config) (knowledge.Embedder, error) {
	if cfg.EmbeddingAPIKey == "" {
		return nil, errors.New("VIGIL_EMBEDDING_API_KEY is required")
	}
	return embedding.NewClient(cfg.EmbeddingURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel), nil
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "vigil-ingest <corpus-dir>",
		Short: "Embed a directory of theory documents into the retrieval corpus",
		Long: "Walks a directory of .md and .txt documents, splits them into passages, " +
			"embeds each passage and writes the result to a JSONL corpus file (--out) " +
			"or the theory_chunks table (--db). The parent directory of each file is " +
			"its category.",
		Args:    cobra.ExactArgs(1),
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "append chunks to this JSONL corpus file")
	cmd.Flags().BoolVar(&opts.toDB, "db", false, "write chunks to the theory_chunks table at DATABASE_URL")
	cmd.Flags().StringVar(&opts.statePath, "state", "~/.vigil/ingest-state.json", "resume state file (empty disables resume)")
	cmd.Flags().IntVar(&opts.maxRunes, "max-runes", ingest.DefaultMaxRunes, "maximum passage length in runes")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 32, "chunks per write")
	cmd.Flags().IntVar(&opts.retries, "retries", 2, "embedding retries per passage")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "embed but do not write")
	return cmd
}

func run(cmd *cobra.Command, dir string, opts options) error {
	if !opts.dryRun && (opts.out == "") == !opts.toDB {
		return errors.New("exactly one of --out or --db is required")
	}

	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emb, err := embedderFactory(cfg)
	if err != nil {
		return err
	}

	var writer ingest.Writer
	switch {
	case opts.dryRun:
		writer = ingest.NewJSONLWriter(cmd.OutOrStdout())
	case opts.out != "":
		f, err := os.OpenFile(opts.out, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open corpus file: %w", err)
		}
		defer f.Close()
		writer = ingest.NewJSONLWriter(f)
	default:
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required with --db")
		}
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		writer = ingest.StoreWriter{Store: db}
	}

	runner := ingest.NewRunner(ingest.Config{
		Dir:       dir,
		MaxRunes:  opts.maxRunes,
		StatePath: opts.statePath,
		DryRun:    opts.dryRun,
		BatchSize: opts.batchSize,
		Retries:   opts.retries,
		Backoff:   time.Second,
	}, emb, writer, logger)

	sum, err := runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n=== Ingest Summary ===\n")
	fmt.Fprintf(out, "Files ingested: %d\n", sum.Files)
	fmt.Fprintf(out, "Chunks written: %d\n", sum.Chunks)
	fmt.Fprintf(out, "Duplicates skipped: %d\n", sum.DuplicatesSkipped)
	fmt.Fprintf(out, "Errors: %d\n", sum.Errors)
	if opts.dryRun {
		fmt.Fprintf(out, "Mode: DRY RUN (nothing written)\n")
	}
	return err
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
