package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/papyrus-search/papyrus/internal/autocomplete"
	"github.com/papyrus-search/papyrus/internal/index"
	"github.com/papyrus-search/papyrus/internal/indexer"
	"github.com/papyrus-search/papyrus/internal/indexer/merge"
	"github.com/papyrus-search/papyrus/internal/indexer/stream"
	"github.com/papyrus-search/papyrus/internal/metadata"
	"github.com/papyrus-search/papyrus/pkg/config"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
	"github.com/papyrus-search/papyrus/pkg/logger"
	"github.com/papyrus-search/papyrus/pkg/metrics"
	"github.com/papyrus-search/papyrus/pkg/postgres"
)

const metadataBatchSize = 500

func main() {
	os.Exit(run())
}

func run() int {
	input := flag.String("i", "", "cleaned-document JSONL input file")
	output := flag.String("o", "", "output index directory")
	blockBudget := flag.Int64("block-budget", 0, "block memory budget in bytes")
	barrels := flag.Int("barrels", 0, "number of posting barrels")
	source := flag.String("source", "", "document source: file or kafka")
	buildAC := flag.Bool("autocomplete", false, "also build the autocomplete table")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return apperrors.ExitUsage
	}
	if *input != "" {
		cfg.Index.InputPath = *input
	}
	if *output != "" {
		cfg.Index.OutputDir = *output
	}
	if *blockBudget > 0 {
		cfg.Index.BlockBudget = *blockBudget
	}
	if *barrels > 0 {
		cfg.Index.Barrels = *barrels
	}
	if *source != "" {
		cfg.Index.Source = *source
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Index.OutputDir == "" {
		fmt.Fprintln(os.Stderr, "usage: indexer -i cleaned.jsonl -o indexdir [-block-budget N] [-barrels N] [-source file|kafka]")
		return apperrors.ExitUsage
	}
	if cfg.Index.Source == "file" && cfg.Index.InputPath == "" {
		fmt.Fprintln(os.Stderr, "file source requires -i input path")
		return apperrors.ExitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, nil)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", "error", err)
			}
		}()
	}

	skipped := func(line int, err error) {
		slog.Warn("skipping malformed record", "line", line, "error", err)
		m.RecordsSkippedTotal.Inc()
	}
	var src stream.Source
	switch cfg.Index.Source {
	case "kafka":
		slog.Info("consuming documents from kafka",
			"brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.DocumentTopic)
		src = &stream.KafkaSource{Cfg: cfg.Kafka, Topic: cfg.Kafka.DocumentTopic, Skipped: skipped}
	default:
		src = &stream.FileSource{Path: cfg.Index.InputPath, Skipped: skipped}
	}

	var store *metadata.Store
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, metadata store disabled", "error", err)
		} else {
			defer db.Close()
			store = metadata.NewStore(db)
			slog.Info("metadata store enabled", "host", cfg.Postgres.Host)
		}
	}
	if store != nil {
		src = &metadataTee{ctx: ctx, inner: src, store: store}
	}

	stats, err := indexer.Build(ctx, src, indexer.Options{
		OutputDir:   cfg.Index.OutputDir,
		BlockBudget: cfg.Index.BlockBudget,
		Barrels:     cfg.Index.Barrels,
		Metrics:     m,
	})
	if err != nil {
		slog.Error("build failed", "error", err)
		return apperrors.ExitCode(err)
	}
	if tee, ok := src.(*metadataTee); ok {
		tee.flush()
	}

	if *buildAC {
		lex, err := index.LoadLexicon(filepath.Join(cfg.Index.OutputDir, merge.LexiconName))
		if err != nil {
			slog.Error("loading lexicon for autocomplete", "error", err)
			return apperrors.ExitCode(err)
		}
		if _, err := autocomplete.Build(lex, filepath.Join(cfg.Index.OutputDir, autocomplete.IndexName), autocomplete.BuilderOptions{
			MaxPrefix: cfg.Autocomplete.MaxPrefixLen,
			TopK:      cfg.Autocomplete.TopKPerPrefix,
		}); err != nil {
			slog.Error("autocomplete build failed", "error", err)
			return apperrors.ExitCode(err)
		}
	}

	slog.Info("index written",
		"dir", cfg.Index.OutputDir,
		"docs", stats.Docs,
		"skipped", stats.Skipped,
		"terms", stats.Terms,
		"elapsed", stats.Elapsed,
	)
	return apperrors.ExitOK
}

// metadataTee mirrors document metadata into the external store while the
// build pipeline consumes the stream.
type metadataTee struct {
	ctx   context.Context
	inner stream.Source
	store *metadata.Store
	batch []*metadata.Meta
}

func (t *metadataTee) Run(ctx context.Context, yield func(*stream.Document) bool) error {
	return t.inner.Run(ctx, func(doc *stream.Document) bool {
		if doc.Title != "" || len(doc.Authors) > 0 || doc.PubDate != "" {
			t.batch = append(t.batch, &metadata.Meta{
				ExtID:   doc.ExtID,
				Title:   doc.Title,
				Authors: doc.Authors,
				PubDate: doc.PubDate,
			})
			if len(t.batch) >= metadataBatchSize {
				t.flush()
			}
		}
		return yield(doc)
	})
}

func (t *metadataTee) flush() {
	if len(t.batch) == 0 {
		return
	}
	if err := t.store.UpsertBatch(t.ctx, t.batch); err != nil {
		slog.Warn("metadata batch write failed", "docs", len(t.batch), "error", err)
	}
	t.batch = t.batch[:0]
}
