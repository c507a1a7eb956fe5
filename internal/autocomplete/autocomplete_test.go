package autocomplete

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/papyrus-search/papyrus/internal/index"
)

func writeLexicon(t *testing.T, lines string) *index.Lexicon {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lexicon")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("writing lexicon: %v", err)
	}
	lex, err := index.LoadLexicon(path)
	if err != nil {
		t.Fatalf("loading lexicon: %v", err)
	}
	return lex
}

// word_id term df cf offset length barrel_id
const sampleLexicon = "1\ta\t5\t9\t0\t4\t0\n" +
	"2\tquack\t1\t1\t4\t4\t0\n" +
	"3\tquery\t3\t7\t8\t6\t1\n" +
	"4\tquick\t10\t25\t14\t9\t1\n" +
	"5\tquiet\t2\t3\t23\t5\t0\n"

func buildTable(t *testing.T, opts BuilderOptions) (*Server, *BuildStats) {
	t.Helper()
	lex := writeLexicon(t, sampleLexicon)
	path := filepath.Join(t.TempDir(), IndexName)
	stats, err := Build(lex, path, opts)
	if err != nil {
		t.Fatalf("building table: %v", err)
	}
	srv, err := Load(path)
	if err != nil {
		t.Fatalf("loading table: %v", err)
	}
	return srv, stats
}

func TestPopularity(t *testing.T) {
	want := math.Log(1+10.0) * math.Log(1+25.0)
	if got := Popularity(10, 25); math.Abs(got-want) > 1e-12 {
		t.Errorf("Popularity(10, 25) = %v, want %v", got, want)
	}
	if Popularity(0, 0) != 0 {
		t.Errorf("Popularity(0, 0) = %v, want 0", Popularity(0, 0))
	}
}

func TestSuggestOrdering(t *testing.T) {
	srv, _ := buildTable(t, BuilderOptions{})

	got := srv.Suggest("qui", 10)
	if len(got) != 2 {
		t.Fatalf("Suggest(qui) returned %d entries, want 2", len(got))
	}
	// quick (df=10, cf=25) outranks quiet (df=2, cf=3).
	if got[0].Term != "quick" || got[1].Term != "quiet" {
		t.Errorf("Suggest(qui) order = [%s %s], want [quick quiet]", got[0].Term, got[1].Term)
	}
	if got[0].DF != 10 || got[0].CF != 25 {
		t.Errorf("quick carries df=%d cf=%d, want 10/25", got[0].DF, got[0].CF)
	}
	if got[0].Popularity <= got[1].Popularity {
		t.Error("popularity not descending")
	}

	// The two-byte prefix covers all qu* terms.
	qu := srv.Suggest("qu", 10)
	if len(qu) != 4 {
		t.Errorf("Suggest(qu) returned %d entries, want 4", len(qu))
	}
	if qu[0].Term != "quick" {
		t.Errorf("Suggest(qu) top = %s, want quick", qu[0].Term)
	}
}

func TestSuggestExactTerm(t *testing.T) {
	srv, _ := buildTable(t, BuilderOptions{})
	got := srv.Suggest("quick", 10)
	if len(got) != 1 || got[0].Term != "quick" {
		t.Errorf("Suggest(quick) = %v, want [quick]", got)
	}
}

func TestSuggestNormalisesInput(t *testing.T) {
	srv, _ := buildTable(t, BuilderOptions{})
	if got := srv.Suggest("  QUI ", 10); len(got) != 2 || got[0].Term != "quick" {
		t.Errorf("Suggest(QUI) = %v, want quick first", got)
	}
}

func TestSuggestShortPrefix(t *testing.T) {
	srv, _ := buildTable(t, BuilderOptions{})
	if got := srv.Suggest("q", 10); got != nil {
		t.Errorf("Suggest(q) = %v, want nil", got)
	}
	if got := srv.Suggest("", 10); got != nil {
		t.Errorf("Suggest(empty) = %v, want nil", got)
	}
}

func TestSuggestLimit(t *testing.T) {
	srv, _ := buildTable(t, BuilderOptions{})
	if got := srv.Suggest("qu", 2); len(got) != 2 {
		t.Errorf("limit=2 returned %d entries", len(got))
	}
}

func TestSuggestLongPrefixTruncated(t *testing.T) {
	srv, _ := buildTable(t, BuilderOptions{MaxPrefix: 3})
	if srv.MaxPrefix() != 3 {
		t.Fatalf("MaxPrefix = %d, want 3", srv.MaxPrefix())
	}
	// Longer input degrades to the deepest stored prefix.
	got := srv.Suggest("quickest", 10)
	if len(got) != 2 || got[0].Term != "quick" {
		t.Errorf("Suggest(quickest) = %v, want qui completions", got)
	}
}

func TestTopKTruncation(t *testing.T) {
	srv, _ := buildTable(t, BuilderOptions{TopK: 1})
	got := srv.Suggest("qu", 10)
	if len(got) != 1 || got[0].Term != "quick" {
		t.Errorf("TopK=1 Suggest(qu) = %v, want [quick]", got)
	}
}

func TestShortTermsExcluded(t *testing.T) {
	_, stats := buildTable(t, BuilderOptions{})
	// "a" is below the minimum prefix length.
	if stats.Terms != 4 {
		t.Errorf("builder counted %d terms, want 4", stats.Terms)
	}
}

func TestBuildStats(t *testing.T) {
	_, stats := buildTable(t, BuilderOptions{})
	// Prefixes: qu, qua, quac, quack, que, quer, query, qui, quic, quick,
	// quie, quiet.
	if stats.Prefixes != 12 {
		t.Errorf("prefixes = %d, want 12", stats.Prefixes)
	}
	if stats.Suggestions == 0 {
		t.Error("no suggestions counted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.idx")); err == nil {
		t.Fatal("loading a missing file succeeded")
	}
}

func TestLoadTruncatedFile(t *testing.T) {
	lex := writeLexicon(t, sampleLexicon)
	path := filepath.Join(t.TempDir(), IndexName)
	if _, err := Build(lex, path, BuilderOptions{}); err != nil {
		t.Fatalf("building table: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading table: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-5], 0o644); err != nil {
		t.Fatalf("truncating table: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("loading a truncated file succeeded")
	}
}
