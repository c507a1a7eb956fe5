package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/papyrus-search/papyrus/internal/index"
	"github.com/papyrus-search/papyrus/internal/indexer/forward"
	"github.com/papyrus-search/papyrus/internal/indexer/merge"
	"github.com/papyrus-search/papyrus/internal/metadata"
	"github.com/papyrus-search/papyrus/internal/registry"
	"github.com/papyrus-search/papyrus/internal/searcher"
	"github.com/papyrus-search/papyrus/pkg/config"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
	"github.com/papyrus-search/papyrus/pkg/health"
	"github.com/papyrus-search/papyrus/pkg/logger"
	"github.com/papyrus-search/papyrus/pkg/metrics"
	"github.com/papyrus-search/papyrus/pkg/postgres"
	pkgredis "github.com/papyrus-search/papyrus/pkg/redis"
)

func main() {
	os.Exit(run())
}

func run() int {
	indexDir := flag.String("d", "", "index directory")
	orQuery := flag.String("q", "", "one-shot OR query")
	andQuery := flag.String("a", "", "one-shot AND query")
	phraseQuery := flag.String("p", "", "one-shot phrase query")
	topK := flag.Int("k", 0, "number of results")
	timeout := flag.Duration("timeout", 0, "per-query deadline")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return apperrors.ExitUsage
	}
	if *indexDir != "" {
		cfg.Search.IndexDir = *indexDir
	}
	if *topK > 0 {
		cfg.Search.TopK = *topK
	}
	if *timeout > 0 {
		cfg.Search.QueryTimeout = *timeout
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Search.IndexDir == "" {
		fmt.Fprintln(os.Stderr, `usage: searcher -d indexdir [-q|-a|-p "terms"] [-k N] [-timeout D]`)
		return apperrors.ExitUsage
	}

	m := metrics.New()
	idx, err := index.Open(cfg.Search.IndexDir, index.Options{
		CacheCapacity: cfg.Cache.BarrelCapacity,
		Preload:       cfg.Cache.PreloadBarrels,
		Metrics:       m,
	})
	if err != nil {
		slog.Error("opening index failed", "dir", cfg.Search.IndexDir, "error", err)
		return apperrors.ExitCode(err)
	}

	opts := []searcher.Option{searcher.WithMetrics(m)}

	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled && cfg.Search.CacheResults {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, result caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			opts = append(opts, searcher.WithCache(searcher.NewQueryCache(redisClient, cfg.Redis)))
			slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var db *postgres.Client
	if cfg.Postgres.Enabled {
		db, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, metadata overrides disabled", "error", err)
		} else {
			defer db.Close()
			opts = append(opts, searcher.WithMetadata(metadata.NewStore(db)))
			slog.Info("metadata store enabled", "host", cfg.Postgres.Host)
		}
	}

	engine := searcher.New(idx, opts...)
	defer engine.Stats().Report()

	if cfg.Metrics.Enabled {
		checker := health.NewChecker()
		checker.Register("index_files", health.IndexFilesCheck(cfg.Search.IndexDir,
			merge.LexiconName, registry.MapFileName, forward.IndexName, merge.BarrelMetaName))
		if redisClient != nil {
			checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
				if err := redisClient.Ping(ctx); err != nil {
					return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
				}
				return health.ComponentHealth{Status: health.StatusUp}
			})
		}
		if db != nil {
			checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
				if err := db.DB.PingContext(ctx); err != nil {
					return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
				}
				return health.ComponentHealth{Status: health.StatusUp}
			})
		}
		shutdown := metrics.StartServer(cfg.Metrics.Port, checker)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *orQuery != "":
		return oneShot(ctx, engine, cfg, "or", *orQuery)
	case *andQuery != "":
		return oneShot(ctx, engine, cfg, "and", *andQuery)
	case *phraseQuery != "":
		return oneShot(ctx, engine, cfg, "phrase", *phraseQuery)
	}
	return interactive(ctx, engine, cfg)
}

func oneShot(ctx context.Context, engine *searcher.Engine, cfg *config.Config, mode, query string) int {
	resp, err := execute(ctx, engine, cfg, mode, query)
	if err != nil {
		slog.Error("query failed", "mode", mode, "query", query, "error", err)
		return apperrors.ExitCode(err)
	}
	printResponse(resp)
	return apperrors.ExitOK
}

// interactive reads queries from stdin until EOF. A leading + switches to
// AND; a quoted query runs as a phrase.
func interactive(ctx context.Context, engine *searcher.Engine, cfg *config.Config) int {
	fmt.Println("papyrus interactive search")
	fmt.Println(`  terms        OR query`)
	fmt.Println(`  +terms       AND query`)
	fmt.Println(`  "terms"      phrase query`)
	fmt.Println("  ctrl-d to exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		mode, query := parseQuery(line)
		resp, err := execute(ctx, engine, cfg, mode, query)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		printResponse(resp)
	}
	fmt.Println()
	return apperrors.ExitOK
}

func parseQuery(line string) (mode, query string) {
	switch {
	case strings.HasPrefix(line, "+"):
		return "and", strings.TrimPrefix(line, "+")
	case strings.HasPrefix(line, `"`):
		return "phrase", strings.Trim(line, `"`)
	default:
		return "or", line
	}
}

func execute(ctx context.Context, engine *searcher.Engine, cfg *config.Config, mode, query string) (*searcher.Response, error) {
	if cfg.Search.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Search.QueryTimeout)
		defer cancel()
	}
	switch mode {
	case "and":
		return engine.SearchAND(ctx, query, cfg.Search.TopK)
	case "phrase":
		return engine.SearchPhrase(ctx, query, cfg.Search.TopK)
	default:
		return engine.SearchOR(ctx, query, cfg.Search.TopK)
	}
}

func printResponse(resp *searcher.Response) {
	if len(resp.Results) == 0 {
		fmt.Printf("no results (%.3f ms)\n", resp.ElapsedMS)
		return
	}
	for i, r := range resp.Results {
		fmt.Printf("%2d. %s  score=%.4f (bm25=%.4f recency=%.4f)\n",
			i+1, r.ExtID, r.Final, r.BM25, r.Recency)
		if r.Title != "" {
			fmt.Printf("    %s\n", r.Title)
		}
		if r.PubDate != "" {
			fmt.Printf("    published %s\n", r.PubDate)
		}
		if len(r.TFs) > 0 {
			parts := make([]string, 0, len(r.TFs))
			for term, tf := range r.TFs {
				parts = append(parts, fmt.Sprintf("%s:%d", term, tf))
			}
			fmt.Printf("    tf %s\n", strings.Join(parts, " "))
		}
	}
	suffix := ""
	if resp.TimedOut {
		suffix = " (partial: deadline exceeded)"
	}
	fmt.Printf("%d results in %.3f ms%s\n", len(resp.Results), resp.ElapsedMS, suffix)
}
