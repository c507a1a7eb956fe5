package forward

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/papyrus-search/papyrus/internal/indexer/block"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
)

func writeForwardBlock(t *testing.T, dir string, n int, lines string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, block.FwdName(n)), []byte(lines), 0o644); err != nil {
		t.Fatalf("writing forward block %d: %v", n, err)
	}
}

func readRecords(t *testing.T, dir string) []Record {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, IndexName))
	if err != nil {
		t.Fatalf("opening forward index: %v", err)
	}
	defer f.Close()
	var out []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("decoding record: %v", err)
		}
		out = append(out, rec)
	}
	return out
}

func TestRemap(t *testing.T) {
	dir := t.TempDir()
	writeForwardBlock(t, dir, 0,
		`{"doc_id":1,"title":"First","pub_date":"2020","terms":[{"t":"quick","p":[0,5]},{"t":"fox","p":[3]}]}`+"\n")
	writeForwardBlock(t, dir, 1,
		`{"doc_id":2,"terms":[{"t":"quick","p":[2]}]}`+"\n")

	ids := map[string]uint32{"fox": 1, "quick": 2}
	lookup := func(term string) (uint32, bool) {
		id, ok := ids[term]
		return id, ok
	}
	docs, err := Remap(dir, 2, lookup)
	if err != nil {
		t.Fatalf("Remap: %v", err)
	}
	if docs != 2 {
		t.Fatalf("docs = %d, want 2", docs)
	}

	records := readRecords(t, dir)
	if len(records) != 2 {
		t.Fatalf("forward index holds %d records, want 2", len(records))
	}
	first := records[0]
	if first.DocID != 1 || first.Title != "First" || first.PubDate != "2020" {
		t.Errorf("record 1 = %+v", first)
	}
	if first.Length != 3 {
		t.Errorf("record 1 length = %d, want 3", first.Length)
	}
	if len(first.Terms) != 2 || first.Terms[0].WordID != 2 || first.Terms[0].TF != 2 {
		t.Errorf("record 1 terms = %+v", first.Terms)
	}
	if records[1].DocID != 2 || records[1].Length != 1 {
		t.Errorf("record 2 = %+v", records[1])
	}
}

func TestRemapDropsUnknownTerms(t *testing.T) {
	dir := t.TempDir()
	writeForwardBlock(t, dir, 0,
		`{"doc_id":1,"terms":[{"t":"known","p":[0]},{"t":"unknown","p":[1]}]}`+"\n")
	docs, err := Remap(dir, 1, func(term string) (uint32, bool) {
		if term == "known" {
			return 1, true
		}
		return 0, false
	})
	if err != nil {
		t.Fatalf("Remap: %v", err)
	}
	if docs != 1 {
		t.Fatalf("docs = %d, want 1", docs)
	}
	records := readRecords(t, dir)
	if len(records[0].Terms) != 1 || records[0].Terms[0].WordID != 1 {
		t.Errorf("terms = %+v", records[0].Terms)
	}
	if records[0].Length != 1 {
		t.Errorf("length = %d, want 1", records[0].Length)
	}
}

func TestRemapMissingBlock(t *testing.T) {
	_, err := Remap(t.TempDir(), 1, func(string) (uint32, bool) { return 0, false })
	if !errors.Is(err, apperrors.ErrMissingInput) {
		t.Fatalf("err = %v, want ErrMissingInput", err)
	}
}

func TestRemapCorruptBlock(t *testing.T) {
	dir := t.TempDir()
	writeForwardBlock(t, dir, 0, "not json\n")
	_, err := Remap(dir, 1, func(string) (uint32, bool) { return 0, false })
	if !errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatalf("err = %v, want ErrCorruptData", err)
	}
}
