// Package block implements the in-memory posting accumulator of the build
// pipeline. Postings collect in a term dictionary until the byte budget is
// reached, then spill to disk as one sorted inverted block plus a forward
// block.
package block

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/papyrus-search/papyrus/internal/indexer/stream"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
	"github.com/papyrus-search/papyrus/pkg/metrics"
)

// DefaultBudget is the in-memory block size limit.
const DefaultBudget = 256 << 20

// Rough per-entry accounting used against the byte budget.
const (
	termOverhead    = 48
	postingOverhead = 16
	positionBytes   = 8
)

// InvName returns the inverted file name for block n.
func InvName(n int) string {
	return "block_" + strconv.Itoa(n) + ".inv"
}

// FwdName returns the forward file name for block n.
func FwdName(n int) string {
	return "block_" + strconv.Itoa(n) + ".fwd.jsonl"
}

type posting struct {
	docID     uint32
	positions []uint32
}

// ForwardDoc is one forward-block record: a document's terms with their
// positions, plus the display metadata carried through to the final index.
type ForwardDoc struct {
	DocID   uint32            `json:"doc_id"`
	Title   string            `json:"title,omitempty"`
	Authors []string          `json:"authors,omitempty"`
	PubDate string            `json:"pub_date,omitempty"`
	Terms   []ForwardTermJSON `json:"terms"`
}

// ForwardTermJSON is one (term, positions) pair inside a forward record.
type ForwardTermJSON struct {
	Term      string   `json:"t"`
	Positions []uint32 `json:"p"`
}

// Builder accumulates postings for the current block.
type Builder struct {
	dir    string
	budget int64

	dict      map[string][]posting
	fwdDocs   []ForwardDoc
	bytesUsed int64
	blocks    int

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBuilder creates a Builder spilling into dir. A budget <= 0 selects
// DefaultBudget. Metrics may be nil.
func NewBuilder(dir string, budget int64, m *metrics.Metrics) *Builder {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Builder{
		dir:     dir,
		budget:  budget,
		dict:    make(map[string][]posting),
		logger:  slog.Default().With("component", "block-builder"),
		metrics: m,
	}
}

// Add folds one document into the current block. Tokens are grouped by term
// with ascending positions, and the block is flushed once the byte budget is
// met.
func (b *Builder) Add(docID uint32, doc *stream.Document) error {
	tokens := doc.Tokens()
	if len(tokens) == 0 {
		return apperrors.Newf(apperrors.ErrMalformedRecord, "document %q has no tokens", doc.ExtID)
	}

	byTerm := make(map[string][]uint32)
	order := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, seen := byTerm[tok.Term]; !seen {
			order = append(order, tok.Term)
		}
		byTerm[tok.Term] = append(byTerm[tok.Term], tok.Position)
	}

	fwd := ForwardDoc{
		DocID:   docID,
		Title:   doc.Title,
		Authors: doc.Authors,
		PubDate: doc.PubDate,
		Terms:   make([]ForwardTermJSON, 0, len(order)),
	}
	for _, term := range order {
		positions := byTerm[term]
		sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })

		if _, exists := b.dict[term]; !exists {
			b.bytesUsed += int64(len(term)) + termOverhead
		}
		b.dict[term] = append(b.dict[term], posting{docID: docID, positions: positions})
		b.bytesUsed += postingOverhead + positionBytes*int64(len(positions))

		fwd.Terms = append(fwd.Terms, ForwardTermJSON{Term: term, Positions: positions})
	}
	b.fwdDocs = append(b.fwdDocs, fwd)
	b.bytesUsed += 64

	if b.bytesUsed >= b.budget {
		return b.Flush()
	}
	return nil
}

// Flush spills the current block to disk and resets the accumulator. It is a
// no-op when the block is empty. Write failures are fatal to the build.
func (b *Builder) Flush() error {
	if len(b.dict) == 0 {
		return nil
	}
	n := b.blocks
	start := time.Now()

	if err := b.writeInverted(n); err != nil {
		return err
	}
	if err := b.writeForward(n); err != nil {
		return err
	}

	b.logger.Info("block flushed",
		"block", n,
		"terms", len(b.dict),
		"docs", len(b.fwdDocs),
		"bytes_estimated", b.bytesUsed,
		"elapsed", time.Since(start),
	)
	if b.metrics != nil {
		b.metrics.BlocksFlushedTotal.Inc()
		b.metrics.BlockFlushDuration.Observe(time.Since(start).Seconds())
	}

	b.dict = make(map[string][]posting)
	b.fwdDocs = b.fwdDocs[:0]
	b.bytesUsed = 0
	b.blocks++
	return nil
}

// Finish issues the final flush and returns the number of blocks written.
func (b *Builder) Finish() (int, error) {
	if err := b.Flush(); err != nil {
		return b.blocks, err
	}
	return b.blocks, nil
}

func (b *Builder) writeInverted(n int) error {
	path := filepath.Join(b.dir, InvName(n))
	f, err := os.Create(path)
	if err != nil {
		return apperrors.Newf(apperrors.ErrIO, "creating block %s: %v", path, err)
	}
	w := bufio.NewWriterSize(f, 1<<20)

	terms := make([]string, 0, len(b.dict))
	for term := range b.dict {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	for _, term := range terms {
		if _, err := w.WriteString(term); err != nil {
			f.Close()
			return apperrors.Newf(apperrors.ErrIO, "writing block %s: %v", path, err)
		}
		w.WriteByte('\t')
		for _, p := range b.dict[term] {
			w.WriteString(strconv.FormatUint(uint64(p.docID), 10))
			w.WriteByte(':')
			for i, pos := range p.positions {
				if i > 0 {
					w.WriteByte(',')
				}
				w.WriteString(strconv.FormatUint(uint64(pos), 10))
			}
			w.WriteByte(';')
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return apperrors.Newf(apperrors.ErrIO, "writing block %s: %v", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return apperrors.Newf(apperrors.ErrIO, "flushing block %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "closing block %s: %v", path, err)
	}
	return nil
}

func (b *Builder) writeForward(n int) error {
	path := filepath.Join(b.dir, FwdName(n))
	f, err := os.Create(path)
	if err != nil {
		return apperrors.Newf(apperrors.ErrIO, "creating forward block %s: %v", path, err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	enc := json.NewEncoder(w)
	for i := range b.fwdDocs {
		if err := enc.Encode(&b.fwdDocs[i]); err != nil {
			f.Close()
			return apperrors.Newf(apperrors.ErrIO, "writing forward block %s: %v", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return apperrors.Newf(apperrors.ErrIO, "flushing forward block %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "closing forward block %s: %v", path, err)
	}
	return nil
}

// BytesUsed reports the current budget consumption, for logging.
func (b *Builder) BytesUsed() int64 {
	return b.bytesUsed
}

// Blocks reports how many blocks have been flushed so far.
func (b *Builder) Blocks() int {
	return b.blocks
}
