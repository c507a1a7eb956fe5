package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/papyrus-search/papyrus/internal/index"
	"github.com/papyrus-search/papyrus/internal/indexer/block"
	"github.com/papyrus-search/papyrus/internal/indexer/forward"
	"github.com/papyrus-search/papyrus/internal/indexer/merge"
	"github.com/papyrus-search/papyrus/internal/indexer/stream"
	"github.com/papyrus-search/papyrus/internal/registry"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
)

func writeCorpus(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cleaned.jsonl")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("writing corpus: %v", err)
	}
	return path
}

const sampleCorpus = `{"ext_id":"p1","text":"the quick brown fox","title":"Foxes","pub_date":"2021"}` + "\n" +
	`{"ext_id":"p2","text":"quick brown dogs"}` + "\n" +
	`{"ext_id":"p3","text":"lazy dogs sleep"}` + "\n"

func TestBuildEndToEnd(t *testing.T) {
	out := t.TempDir()
	src := &stream.FileSource{Path: writeCorpus(t, sampleCorpus)}
	stats, err := Build(context.Background(), src, Options{OutputDir: out, Barrels: 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Docs != 3 {
		t.Errorf("Docs = %d, want 3", stats.Docs)
	}
	if stats.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", stats.Skipped)
	}
	// the quick brown fox dogs lazy sleep
	if stats.Terms != 7 {
		t.Errorf("Terms = %d, want 7", stats.Terms)
	}

	for _, name := range []string{
		merge.LexiconName,
		merge.BarrelMetaName,
		merge.BarrelName(0),
		merge.BarrelName(1),
		registry.MapFileName,
		forward.IndexName,
	} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("missing output file %s: %v", name, err)
		}
	}
	// Intermediate spills are gone.
	for i := 0; i < stats.Blocks; i++ {
		for _, name := range []string{block.InvName(i), block.FwdName(i)} {
			if _, err := os.Stat(filepath.Join(out, name)); !os.IsNotExist(err) {
				t.Errorf("block file %s survived the build", name)
			}
		}
	}

	idx, err := index.Open(out, index.Options{})
	if err != nil {
		t.Fatalf("opening built index: %v", err)
	}
	if idx.N() != 3 {
		t.Errorf("N = %d, want 3", idx.N())
	}
	entry, ok := idx.Lexicon.Find("quick")
	if !ok {
		t.Fatal("quick not in lexicon")
	}
	if entry.DF != 2 || entry.CF != 2 {
		t.Errorf("quick df/cf = %d/%d, want 2/2", entry.DF, entry.CF)
	}
	dec, handle, err := idx.Postings(context.Background(), entry)
	if err != nil {
		t.Fatalf("Postings: %v", err)
	}
	defer handle.Release()
	postings, err := dec.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(postings) != 2 {
		t.Fatalf("quick has %d postings, want 2", len(postings))
	}
	// p1: "the quick ..." puts quick at position 1; p2 leads with it.
	if postings[0].Positions[0] != 1 || postings[1].Positions[0] != 0 {
		t.Errorf("quick positions = %v %v", postings[0].Positions, postings[1].Positions)
	}
	if info := idx.Docs[1]; info.Title != "Foxes" || info.PubDate != "2021" || info.Length != 4 {
		t.Errorf("doc 1 info = %+v", info)
	}
}

func TestBuildSpillsMultipleBlocks(t *testing.T) {
	out := t.TempDir()
	src := &stream.FileSource{Path: writeCorpus(t, sampleCorpus)}
	// A tiny budget forces a flush after every document.
	stats, err := Build(context.Background(), src, Options{OutputDir: out, BlockBudget: 1, Barrels: 1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Blocks < 2 {
		t.Errorf("Blocks = %d, want multiple spills", stats.Blocks)
	}
	idx, err := index.Open(out, index.Options{})
	if err != nil {
		t.Fatalf("opening built index: %v", err)
	}
	if idx.Lexicon.Count() != 7 {
		t.Errorf("terms = %d, want 7", idx.Lexicon.Count())
	}
}

func TestBuildSkipsMalformedRecords(t *testing.T) {
	lines := `{"ext_id":"p1","text":"alpha"}` + "\n" +
		"not json\n" +
		`{"ext_id":"p2","text":"beta"}` + "\n"
	var skipped int
	src := &stream.FileSource{
		Path:    writeCorpus(t, lines),
		Skipped: func(int, error) { skipped++ },
	}
	stats, err := Build(context.Background(), src, Options{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Docs != 2 {
		t.Errorf("Docs = %d, want 2", stats.Docs)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
}

func TestBuildDuplicateExtID(t *testing.T) {
	lines := `{"ext_id":"p1","text":"alpha"}` + "\n" +
		`{"ext_id":"p1","text":"beta"}` + "\n"
	src := &stream.FileSource{Path: writeCorpus(t, lines)}
	_, err := Build(context.Background(), src, Options{OutputDir: t.TempDir()})
	if !errors.Is(err, apperrors.ErrDuplicateExternalID) {
		t.Fatalf("err = %v, want ErrDuplicateExternalID", err)
	}
}

func TestBuildEmptyInput(t *testing.T) {
	src := &stream.FileSource{Path: writeCorpus(t, "")}
	_, err := Build(context.Background(), src, Options{OutputDir: t.TempDir()})
	if !errors.Is(err, apperrors.ErrMissingInput) {
		t.Fatalf("err = %v, want ErrMissingInput", err)
	}
}

func TestBuildMissingInputFile(t *testing.T) {
	src := &stream.FileSource{Path: filepath.Join(t.TempDir(), "absent.jsonl")}
	_, err := Build(context.Background(), src, Options{OutputDir: t.TempDir()})
	if !errors.Is(err, apperrors.ErrMissingInput) {
		t.Fatalf("err = %v, want ErrMissingInput", err)
	}
}
