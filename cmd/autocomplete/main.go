package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/papyrus-search/papyrus/internal/autocomplete"
	"github.com/papyrus-search/papyrus/internal/index"
	"github.com/papyrus-search/papyrus/pkg/config"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
	"github.com/papyrus-search/papyrus/pkg/logger"
	"github.com/papyrus-search/papyrus/pkg/metrics"
)

func main() {
	os.Exit(run())
}

func usage() int {
	fmt.Fprintln(os.Stderr, "usage: autocomplete build -i indexdir/lexicon -o autocomplete.idx [-max-prefix N] [-top-k N]")
	fmt.Fprintln(os.Stderr, "       autocomplete serve -i autocomplete.idx [-limit N]")
	return apperrors.ExitUsage
}

func run() int {
	if len(os.Args) < 2 {
		return usage()
	}
	switch os.Args[1] {
	case "build":
		return runBuild(os.Args[2:])
	case "serve":
		return runServe(os.Args[2:])
	default:
		return usage()
	}
}

func runBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	input := fs.String("i", "", "lexicon file")
	output := fs.String("o", autocomplete.IndexName, "output table file")
	maxPrefix := fs.Int("max-prefix", 0, "maximum prefix length")
	topK := fs.Int("top-k", 0, "suggestions kept per prefix")
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return apperrors.ExitUsage
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if *input == "" {
		return usage()
	}
	if *maxPrefix <= 0 {
		*maxPrefix = cfg.Autocomplete.MaxPrefixLen
	}
	if *topK <= 0 {
		*topK = cfg.Autocomplete.TopKPerPrefix
	}

	lex, err := index.LoadLexicon(*input)
	if err != nil {
		slog.Error("loading lexicon failed", "path", *input, "error", err)
		return apperrors.ExitCode(err)
	}
	stats, err := autocomplete.Build(lex, *output, autocomplete.BuilderOptions{
		MaxPrefix: *maxPrefix,
		TopK:      *topK,
	})
	if err != nil {
		slog.Error("build failed", "error", err)
		return apperrors.ExitCode(err)
	}
	slog.Info("autocomplete table written",
		"path", *output,
		"prefixes", stats.Prefixes,
		"suggestions", stats.Suggestions,
	)
	return apperrors.ExitOK
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	input := fs.String("i", autocomplete.IndexName, "table file to load")
	limit := fs.Int("limit", 0, "suggestions returned per lookup")
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return apperrors.ExitUsage
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if *limit <= 0 {
		*limit = cfg.Autocomplete.SuggestionLimit
	}

	srv, err := autocomplete.Load(*input, autocomplete.WithServerMetrics(metrics.New()))
	if err != nil {
		slog.Error("loading table failed", "path", *input, "error", err)
		return apperrors.ExitCode(err)
	}

	fmt.Printf("papyrus autocomplete (%d prefixes loaded, ctrl-d to exit)\n", srv.Prefixes())
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		prefix := strings.TrimSpace(scanner.Text())
		if prefix == "" {
			continue
		}
		suggestions := srv.Suggest(prefix, *limit)
		if len(suggestions) == 0 {
			fmt.Println("no suggestions")
			continue
		}
		for i, s := range suggestions {
			fmt.Printf("%2d. %-20s pop=%.3f df=%d cf=%d\n", i+1, s.Term, s.Popularity, s.DF, s.CF)
		}
	}
	fmt.Println()
	return apperrors.ExitOK
}
