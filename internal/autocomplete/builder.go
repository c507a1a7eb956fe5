// Package autocomplete builds and serves the prefix-completion table derived
// from the lexicon.
package autocomplete

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"
	"sort"
	"time"

	"github.com/papyrus-search/papyrus/internal/index"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
	"github.com/papyrus-search/papyrus/pkg/logger"
)

// Defaults for the builder tunables.
const (
	DefaultMaxPrefix = 15
	DefaultTopK      = 20
	MinPrefixLen     = 2

	// IndexName is the conventional output file name.
	IndexName = "autocomplete.idx"
)

// Suggestion is one completion candidate.
type Suggestion struct {
	Term       string  `json:"term"`
	Popularity float64 `json:"popularity"`
	WordID     uint32  `json:"word_id"`
	DF         uint32  `json:"df"`
	CF         uint64  `json:"cf"`
}

// Popularity scores a term by log(1+df) * log(1+cf).
func Popularity(df uint32, cf uint64) float64 {
	return math.Log(1+float64(df)) * math.Log(1+float64(cf))
}

// BuilderOptions configure Build.
type BuilderOptions struct {
	MaxPrefix int
	TopK      int
}

// BuildStats summarise one build.
type BuildStats struct {
	Terms       int
	Prefixes    int
	Suggestions int
	Elapsed     time.Duration
}

// Build derives the prefix table from the lexicon and writes it to path.
// Every term of length >= 2 contributes to each of its prefixes of length
// 2..MaxPrefix; each prefix keeps its TopK candidates by popularity.
func Build(lex *index.Lexicon, path string, opts BuilderOptions) (*BuildStats, error) {
	log := logger.WithComponent("autocomplete-builder")
	if opts.MaxPrefix <= 0 {
		opts.MaxPrefix = DefaultMaxPrefix
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}

	start := time.Now()
	table := make(map[string][]Suggestion)
	terms := 0
	lex.Each(func(e *index.Entry) bool {
		if len(e.Term) < MinPrefixLen {
			return true
		}
		terms++
		s := Suggestion{
			Term:       e.Term,
			Popularity: Popularity(e.DF, e.CF),
			WordID:     e.WordID,
			DF:         e.DF,
			CF:         e.CF,
		}
		maxLen := len(e.Term)
		if maxLen > opts.MaxPrefix {
			maxLen = opts.MaxPrefix
		}
		for n := MinPrefixLen; n <= maxLen; n++ {
			table[e.Term[:n]] = append(table[e.Term[:n]], s)
		}
		return true
	})

	suggestions := 0
	for prefix, cands := range table {
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].Popularity != cands[j].Popularity {
				return cands[i].Popularity > cands[j].Popularity
			}
			return cands[i].Term < cands[j].Term
		})
		if len(cands) > opts.TopK {
			cands = cands[:opts.TopK]
		}
		table[prefix] = cands
		suggestions += len(cands)
	}

	if err := writeTable(path, table); err != nil {
		return nil, err
	}

	stats := &BuildStats{
		Terms:       terms,
		Prefixes:    len(table),
		Suggestions: suggestions,
		Elapsed:     time.Since(start),
	}
	avg := 0.0
	if stats.Prefixes > 0 {
		avg = float64(stats.Suggestions) / float64(stats.Prefixes)
	}
	log.Info("autocomplete table built",
		"terms", stats.Terms,
		"prefixes", stats.Prefixes,
		"suggestions", stats.Suggestions,
		"avg_per_prefix", avg,
		"elapsed", stats.Elapsed,
	)
	return stats, nil
}

// writeTable serialises the prefix table. Prefixes are written in sorted
// order so builds are byte-for-byte reproducible.
func writeTable(path string, table map[string][]Suggestion) error {
	prefixes := make([]string, 0, len(table))
	for p := range table {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return apperrors.Newf(apperrors.ErrIO, "creating %s: %v", tmp, err)
	}
	w := bufio.NewWriter(f)

	write := func(v interface{}) error {
		return binary.Write(w, binary.LittleEndian, v)
	}
	fail := func(err error) error {
		f.Close()
		os.Remove(tmp)
		return apperrors.Newf(apperrors.ErrIO, "writing %s: %v", tmp, err)
	}

	if err := write(uint32(len(prefixes))); err != nil {
		return fail(err)
	}
	for _, prefix := range prefixes {
		if err := write(uint16(len(prefix))); err != nil {
			return fail(err)
		}
		if _, err := w.WriteString(prefix); err != nil {
			return fail(err)
		}
		entries := table[prefix]
		if err := write(uint16(len(entries))); err != nil {
			return fail(err)
		}
		for _, s := range entries {
			if err := write(uint16(len(s.Term))); err != nil {
				return fail(err)
			}
			if _, err := w.WriteString(s.Term); err != nil {
				return fail(err)
			}
			if err := write(s.Popularity); err != nil {
				return fail(err)
			}
			if err := write(s.WordID); err != nil {
				return fail(err)
			}
			if err := write(s.DF); err != nil {
				return fail(err)
			}
			if err := write(s.CF); err != nil {
				return fail(err)
			}
		}
	}

	if err := w.Flush(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return apperrors.Newf(apperrors.ErrIO, "closing %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "renaming %s: %v", tmp, err)
	}
	return nil
}
