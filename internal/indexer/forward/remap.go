// Package forward rewrites the per-block forward files into the final
// forward_index, replacing term strings with word IDs from the lexicon.
package forward

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/papyrus-search/papyrus/internal/indexer/block"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
)

// IndexName is the final forward index file name.
const IndexName = "forward_index"

// TermEntry is one (word_id, tf, positions) element of a forward record.
type TermEntry struct {
	WordID    uint32   `json:"w"`
	TF        uint32   `json:"tf"`
	Positions []uint32 `json:"p"`
}

// Record is one document's forward entry: its length (sum of term
// frequencies), display metadata, and term list.
type Record struct {
	DocID   uint32      `json:"doc_id"`
	Length  uint32      `json:"dl"`
	Title   string      `json:"title,omitempty"`
	Authors []string    `json:"authors,omitempty"`
	PubDate string      `json:"pub_date,omitempty"`
	Terms   []TermEntry `json:"terms"`
}

// Remap concatenates blocks 0..blocks-1 into the forward_index in dir.
// lookup resolves a term to its word ID; terms it cannot resolve are logged
// and skipped. Returns the number of documents written.
func Remap(dir string, blocks int, lookup func(term string) (uint32, bool)) (int, error) {
	logger := slog.Default().With("component", "forward-remapper")

	outPath := filepath.Join(dir, IndexName)
	tmp := outPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, apperrors.Newf(apperrors.ErrIO, "creating %s: %v", tmp, err)
	}
	w := bufio.NewWriterSize(out, 1<<20)
	enc := json.NewEncoder(w)

	docs := 0
	missing := 0
	for i := 0; i < blocks; i++ {
		path := filepath.Join(dir, block.FwdName(i))
		n, miss, err := remapBlock(path, enc, lookup, logger)
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return docs, err
		}
		docs += n
		missing += miss
	}

	if err := w.Flush(); err != nil {
		out.Close()
		os.Remove(tmp)
		return docs, apperrors.Newf(apperrors.ErrIO, "flushing %s: %v", tmp, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return docs, apperrors.Newf(apperrors.ErrIO, "closing %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		os.Remove(tmp)
		return docs, apperrors.Newf(apperrors.ErrIO, "renaming %s: %v", tmp, err)
	}
	logger.Info("forward index written", "docs", docs, "missing_terms", missing)
	return docs, nil
}

func remapBlock(path string, enc *json.Encoder, lookup func(string) (uint32, bool), logger *slog.Logger) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, apperrors.Newf(apperrors.ErrMissingInput, "forward block %s: %v", path, err)
		}
		return 0, 0, apperrors.Newf(apperrors.ErrIO, "opening forward block %s: %v", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
	docs := 0
	missing := 0
	line := 0
	for scanner.Scan() {
		line++
		var src block.ForwardDoc
		if err := json.Unmarshal(scanner.Bytes(), &src); err != nil {
			return docs, missing, apperrors.Newf(apperrors.ErrCorruptData,
				"forward block %s line %d: %v", path, line, err)
		}

		rec := Record{
			DocID:   src.DocID,
			Title:   src.Title,
			Authors: src.Authors,
			PubDate: src.PubDate,
			Terms:   make([]TermEntry, 0, len(src.Terms)),
		}
		for _, t := range src.Terms {
			wordID, ok := lookup(t.Term)
			if !ok {
				missing++
				logger.Warn("term missing from lexicon, dropping",
					"term", t.Term, "doc_id", src.DocID)
				continue
			}
			rec.Terms = append(rec.Terms, TermEntry{
				WordID:    wordID,
				TF:        uint32(len(t.Positions)),
				Positions: t.Positions,
			})
			rec.Length += uint32(len(t.Positions))
		}
		if err := enc.Encode(&rec); err != nil {
			return docs, missing, apperrors.Newf(apperrors.ErrIO, "writing forward record: %v", err)
		}
		docs++
	}
	if err := scanner.Err(); err != nil {
		return docs, missing, apperrors.Newf(apperrors.ErrIO, "reading forward block %s: %v", path, err)
	}
	return docs, missing, nil
}
