// Package indexer orchestrates the full index build: stream documents,
// accumulate blocks, merge into barrels, remap the forward index, and
// persist the doc-ID registry.
package indexer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/papyrus-search/papyrus/internal/index"
	"github.com/papyrus-search/papyrus/internal/indexer/block"
	"github.com/papyrus-search/papyrus/internal/indexer/forward"
	"github.com/papyrus-search/papyrus/internal/indexer/merge"
	"github.com/papyrus-search/papyrus/internal/indexer/stream"
	"github.com/papyrus-search/papyrus/internal/registry"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
	"github.com/papyrus-search/papyrus/pkg/metrics"
)

// Options configure one build run.
type Options struct {
	OutputDir   string
	BlockBudget int64
	Barrels     int
	Metrics     *metrics.Metrics
}

// Stats summarise a completed build.
type Stats struct {
	Docs    int
	Skipped int
	Blocks  int
	Terms   int
	Elapsed time.Duration
}

// Build runs the whole pipeline over source. The output directory is created
// if absent. Fatal errors leave no usable index behind.
func Build(ctx context.Context, source stream.Source, opts Options) (*Stats, error) {
	logger := slog.Default().With("component", "indexer")
	start := time.Now()

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "creating output dir %s: %v", opts.OutputDir, err)
	}

	reg := registry.New()
	builder := block.NewBuilder(opts.OutputDir, opts.BlockBudget, opts.Metrics)
	stats := &Stats{}

	var buildErr error
	err := source.Run(ctx, func(doc *stream.Document) bool {
		docID, err := reg.Assign(doc.ExtID)
		if err != nil {
			buildErr = err
			return false
		}
		if err := builder.Add(docID, doc); err != nil {
			if errors.Is(err, apperrors.ErrMalformedRecord) {
				logger.Warn("skipping malformed document", "ext_id", doc.ExtID, "error", err)
				stats.Skipped++
				if opts.Metrics != nil {
					opts.Metrics.RecordsSkippedTotal.Inc()
				}
				return true
			}
			buildErr = err
			return false
		}
		stats.Docs++
		if opts.Metrics != nil {
			opts.Metrics.DocsIndexedTotal.Inc()
		}
		return true
	})
	if buildErr != nil {
		return nil, buildErr
	}
	if err != nil {
		return nil, err
	}
	if stats.Docs == 0 {
		return nil, apperrors.New(apperrors.ErrMissingInput, "no documents in input stream")
	}

	blocks, err := builder.Finish()
	if err != nil {
		return nil, err
	}
	stats.Blocks = blocks
	logger.Info("block building complete", "docs", stats.Docs, "skipped", stats.Skipped, "blocks", blocks)

	merger := merge.New(opts.OutputDir, blocks, opts.Barrels, opts.Metrics)
	res, err := merger.Run(ctx)
	if err != nil {
		return nil, err
	}
	stats.Terms = res.Terms
	logger.Info("merge complete", "terms", res.Terms, "barrels", len(res.BarrelSizes))

	lex, err := index.LoadLexicon(filepath.Join(opts.OutputDir, merge.LexiconName))
	if err != nil {
		return nil, err
	}
	if _, err := forward.Remap(opts.OutputDir, blocks, lex.WordID); err != nil {
		return nil, err
	}

	if err := reg.Save(filepath.Join(opts.OutputDir, registry.MapFileName)); err != nil {
		return nil, err
	}
	removeBlockFiles(opts.OutputDir, blocks, logger)

	stats.Elapsed = time.Since(start)
	logger.Info("build complete",
		"docs", stats.Docs,
		"terms", stats.Terms,
		"blocks", stats.Blocks,
		"elapsed", stats.Elapsed,
	)
	return stats, nil
}

// removeBlockFiles deletes the intermediate block spills once the final
// index is on disk. Failures only warn; the index itself is complete.
func removeBlockFiles(dir string, blocks int, logger *slog.Logger) {
	for i := 0; i < blocks; i++ {
		for _, name := range []string{block.InvName(i), block.FwdName(i)} {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				logger.Warn("could not remove block file", "file", name, "error", err)
			}
		}
	}
}
