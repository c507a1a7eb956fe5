// Package planner turns a free-form query string into lexicon-resolved
// terms for one of the three query modes.
package planner

import (
	"log/slog"

	"github.com/papyrus-search/papyrus/internal/index"
	"github.com/papyrus-search/papyrus/internal/indexer/tokenizer"
)

// Mode selects the match semantics of a query.
type Mode string

const (
	ModeOR     Mode = "or"
	ModeAND    Mode = "and"
	ModePhrase Mode = "phrase"
)

// Plan is a resolved query: the surviving terms with their lexicon entries.
// Empty is set when a missing term makes the result set empty by definition
// (AND and PHRASE modes).
type Plan struct {
	Mode    Mode
	Terms   []string
	Entries []*index.Entry
	Missing []string
	Empty   bool
}

// Build tokenizes query on whitespace, lower-cases, and resolves each term
// against the lexicon. Missing terms are dropped with a warning for OR; for
// AND and PHRASE any missing term empties the plan.
func Build(query string, mode Mode, lex *index.Lexicon) *Plan {
	logger := slog.Default().With("component", "planner")
	plan := &Plan{Mode: mode}

	for _, term := range tokenizer.Terms(query) {
		entry, ok := lex.Find(term)
		if !ok {
			plan.Missing = append(plan.Missing, term)
			logger.Warn("term not in lexicon", "term", term, "mode", mode)
			if mode == ModeAND || mode == ModePhrase {
				plan.Empty = true
			}
			continue
		}
		plan.Terms = append(plan.Terms, term)
		plan.Entries = append(plan.Entries, entry)
	}
	if len(plan.Entries) == 0 {
		plan.Empty = true
	}
	return plan
}

// BarrelIDs returns the distinct barrels the plan touches, for preloading.
func (p *Plan) BarrelIDs() []int {
	seen := make(map[int]struct{}, len(p.Entries))
	ids := make([]int, 0, len(p.Entries))
	for _, e := range p.Entries {
		if _, ok := seen[e.BarrelID]; ok {
			continue
		}
		seen[e.BarrelID] = struct{}{}
		ids = append(ids, e.BarrelID)
	}
	return ids
}
