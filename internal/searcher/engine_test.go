package searcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/papyrus-search/papyrus/internal/index"
	"github.com/papyrus-search/papyrus/internal/indexer"
	"github.com/papyrus-search/papyrus/internal/indexer/stream"
	"github.com/papyrus-search/papyrus/internal/searcher/planner"
)

func buildIndex(t *testing.T, records []string) *index.Index {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "corpus.jsonl")
	var data []byte
	for _, r := range records {
		data = append(data, r...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(input, data, 0o644); err != nil {
		t.Fatalf("writing corpus: %v", err)
	}

	outDir := filepath.Join(dir, "index")
	_, err := indexer.Build(context.Background(), &stream.FileSource{Path: input}, indexer.Options{
		OutputDir: outDir,
		Barrels:   2,
	})
	if err != nil {
		t.Fatalf("building index: %v", err)
	}

	idx, err := index.Open(outDir, index.Options{})
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	return idx
}

func testCorpus(t *testing.T) *index.Index {
	t.Helper()
	return buildIndex(t, []string{
		`{"ext_id":"d1","text":"the quick brown fox"}`,
		`{"ext_id":"d2","text":"quick brown dogs"}`,
		`{"ext_id":"d3","text":"lazy dogs"}`,
	})
}

func extIDs(resp *Response) []string {
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.ExtID
	}
	return ids
}

func asSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func TestSearchOR(t *testing.T) {
	e := New(testCorpus(t))
	resp, err := e.SearchOR(context.Background(), "quick dogs", 10)
	if err != nil {
		t.Fatalf("SearchOR: %v", err)
	}
	got := asSet(extIDs(resp))
	for _, want := range []string{"d1", "d2", "d3"} {
		if !got[want] {
			t.Errorf("OR result missing %s, got %v", want, extIDs(resp))
		}
	}
	if len(resp.Results) != 3 {
		t.Errorf("OR returned %d results, want 3", len(resp.Results))
	}
}

func TestSearchAND(t *testing.T) {
	e := New(testCorpus(t))

	resp, err := e.SearchAND(context.Background(), "quick brown", 10)
	if err != nil {
		t.Fatalf("SearchAND: %v", err)
	}
	got := asSet(extIDs(resp))
	if len(got) != 2 || !got["d1"] || !got["d2"] {
		t.Errorf("AND quick brown = %v, want {d1, d2}", extIDs(resp))
	}

	resp, err = e.SearchAND(context.Background(), "quick dogs", 10)
	if err != nil {
		t.Fatalf("SearchAND: %v", err)
	}
	if ids := extIDs(resp); len(ids) != 1 || ids[0] != "d2" {
		t.Errorf("AND quick dogs = %v, want [d2]", ids)
	}
}

func TestSearchPhrase(t *testing.T) {
	e := New(testCorpus(t))

	resp, err := e.SearchPhrase(context.Background(), "quick brown", 10)
	if err != nil {
		t.Fatalf("SearchPhrase: %v", err)
	}
	got := asSet(extIDs(resp))
	if len(got) != 2 || !got["d1"] || !got["d2"] {
		t.Errorf("PHRASE quick brown = %v, want {d1, d2}", extIDs(resp))
	}

	resp, err = e.SearchPhrase(context.Background(), "brown quick", 10)
	if err != nil {
		t.Fatalf("SearchPhrase: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("PHRASE brown quick = %v, want empty", extIDs(resp))
	}
}

// Every mode's result set contains the stricter mode's set for the same
// query.
func TestModeContainment(t *testing.T) {
	e := New(testCorpus(t))
	ctx := context.Background()

	or, err := e.SearchOR(ctx, "quick brown", 10)
	if err != nil {
		t.Fatalf("SearchOR: %v", err)
	}
	and, err := e.SearchAND(ctx, "quick brown", 10)
	if err != nil {
		t.Fatalf("SearchAND: %v", err)
	}
	phrase, err := e.SearchPhrase(ctx, "quick brown", 10)
	if err != nil {
		t.Fatalf("SearchPhrase: %v", err)
	}

	orSet := asSet(extIDs(or))
	andSet := asSet(extIDs(and))
	for id := range andSet {
		if !orSet[id] {
			t.Errorf("AND result %s not in OR results", id)
		}
	}
	for _, id := range extIDs(phrase) {
		if !andSet[id] {
			t.Errorf("PHRASE result %s not in AND results", id)
		}
	}
}

func TestMissingTermPolicy(t *testing.T) {
	e := New(testCorpus(t))
	ctx := context.Background()

	or, err := e.SearchOR(ctx, "quick zebra", 10)
	if err != nil {
		t.Fatalf("SearchOR: %v", err)
	}
	got := asSet(extIDs(or))
	if len(got) != 2 || !got["d1"] || !got["d2"] {
		t.Errorf("OR with missing term = %v, want {d1, d2}", extIDs(or))
	}

	and, err := e.SearchAND(ctx, "quick zebra", 10)
	if err != nil {
		t.Fatalf("SearchAND: %v", err)
	}
	if len(and.Results) != 0 {
		t.Errorf("AND with missing term = %v, want empty", extIDs(and))
	}

	phrase, err := e.SearchPhrase(ctx, "quick zebra", 10)
	if err != nil {
		t.Fatalf("SearchPhrase: %v", err)
	}
	if len(phrase.Results) != 0 {
		t.Errorf("PHRASE with missing term = %v, want empty", extIDs(phrase))
	}
}

func TestEmptyQuery(t *testing.T) {
	e := New(testCorpus(t))
	resp, err := e.SearchOR(context.Background(), "   ", 10)
	if err != nil {
		t.Fatalf("SearchOR: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("empty query returned %v", extIDs(resp))
	}
}

func TestTopKTruncation(t *testing.T) {
	e := New(testCorpus(t))
	resp, err := e.SearchOR(context.Background(), "quick dogs", 2)
	if err != nil {
		t.Fatalf("SearchOR: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Errorf("topK=2 returned %d results", len(resp.Results))
	}
}

// Identical text, different publication years. BM25 ties, so the recency
// prior decides the order.
func TestRecencyBreaksTies(t *testing.T) {
	idx := buildIndex(t, []string{
		`{"ext_id":"new","text":"neural networks","pub_date":"2020-06-01"}`,
		`{"ext_id":"old","text":"neural networks","pub_date":"2010-06-01"}`,
		`{"ext_id":"unknown","text":"neural networks"}`,
	})
	e := New(idx)
	resp, err := e.SearchAND(context.Background(), "neural networks", 10)
	if err != nil {
		t.Fatalf("SearchAND: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Results))
	}
	if resp.Results[0].ExtID != "new" {
		t.Errorf("top result = %s, want new", resp.Results[0].ExtID)
	}
	if resp.Results[0].Recency <= resp.Results[1].Recency {
		t.Errorf("recency not descending: %v then %v",
			resp.Results[0].Recency, resp.Results[1].Recency)
	}
}

func TestResultScoreComponents(t *testing.T) {
	e := New(testCorpus(t))
	resp, err := e.SearchOR(context.Background(), "fox", 10)
	if err != nil {
		t.Fatalf("SearchOR: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(resp.Results))
	}
	r := resp.Results[0]
	if r.ExtID != "d1" {
		t.Errorf("ExtID = %s, want d1", r.ExtID)
	}
	if r.BM25 <= 0 {
		t.Errorf("BM25 component = %v, want > 0", r.BM25)
	}
	if r.Final <= 0 {
		t.Errorf("final score = %v, want > 0", r.Final)
	}
	if tf := r.TFs["fox"]; tf != 1 {
		t.Errorf("TFs[fox] = %d, want 1", tf)
	}
}

func TestStatsRecorded(t *testing.T) {
	e := New(testCorpus(t))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := e.SearchOR(ctx, "quick", 10); err != nil {
			t.Fatalf("SearchOR: %v", err)
		}
	}
	if _, err := e.SearchAND(ctx, "quick brown", 10); err != nil {
		t.Fatalf("SearchAND: %v", err)
	}

	summaries := e.Stats().Summaries()
	byMode := make(map[planner.Mode]ModeSummary, len(summaries))
	for _, s := range summaries {
		byMode[s.Mode] = s
	}
	if got := byMode[planner.ModeOR].Count; got != 3 {
		t.Errorf("OR count = %d, want 3", got)
	}
	if got := byMode[planner.ModeAND].Count; got != 1 {
		t.Errorf("AND count = %d, want 1", got)
	}
}

func TestDeadlineProducesPartialResults(t *testing.T) {
	var records []string
	for i := 0; i < 50; i++ {
		records = append(records, fmt.Sprintf(`{"ext_id":"d%d","text":"common term number %d"}`, i, i))
	}
	idx := buildIndex(t, records)
	e := New(idx)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	resp, err := e.SearchOR(ctx, "common", 10)
	if err != nil {
		t.Fatalf("SearchOR with expired deadline: %v", err)
	}
	if !resp.TimedOut {
		t.Error("TimedOut not set on expired-deadline query")
	}
}
