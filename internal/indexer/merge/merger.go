// Package merge turns the spilled inverted blocks into the final barrel
// files and lexicon. Each barrel is produced by an independent worker running
// a heap-based K-way merge over all blocks; word IDs are assigned globally in
// lexicographic term order once every barrel has finished.
package merge

import (
	"bufio"
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/papyrus-search/papyrus/internal/codec"
	"github.com/papyrus-search/papyrus/internal/indexer/block"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
	"github.com/papyrus-search/papyrus/pkg/metrics"
)

// Index directory file names.
const (
	LexiconName    = "lexicon"
	BarrelMetaName = "barrel_meta"
)

// DefaultBarrels is the default barrel count.
const DefaultBarrels = 4

// BarrelName returns the file name of barrel i.
func BarrelName(i int) string {
	return fmt.Sprintf("barrel_%d", i)
}

// BarrelFor maps a term to its barrel.
func BarrelFor(term string, barrels int) int {
	return int(xxhash.Sum64String(term) % uint64(barrels))
}

// lexEntry is one term's lexicon row before word-ID assignment.
type lexEntry struct {
	term     string
	df       uint32
	cf       uint64
	offset   int64
	length   int64
	barrelID int
}

// Merger drives the block merge for one index build.
type Merger struct {
	dir     string
	blocks  int
	barrels int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Result summarises a completed merge.
type Result struct {
	Terms       int
	BarrelSizes []int64
	BarrelTerms []int
}

// New creates a Merger over blocks 0..blocks-1 in dir. barrels <= 0 selects
// DefaultBarrels. Metrics may be nil.
func New(dir string, blocks, barrels int, m *metrics.Metrics) *Merger {
	if barrels <= 0 {
		barrels = DefaultBarrels
	}
	return &Merger{
		dir:     dir,
		blocks:  blocks,
		barrels: barrels,
		logger:  slog.Default().With("component", "block-merger"),
		metrics: m,
	}
}

// Run merges all blocks, writes the barrel files, the lexicon, and the
// barrel_meta summary. Barrels are built concurrently.
func (m *Merger) Run(ctx context.Context) (*Result, error) {
	if m.blocks == 0 {
		return nil, apperrors.New(apperrors.ErrMissingInput, "no blocks to merge")
	}

	fragments := make([][]lexEntry, m.barrels)
	sizes := make([]int64, m.barrels)

	g, gctx := errgroup.WithContext(ctx)
	for b := 0; b < m.barrels; b++ {
		b := b
		g.Go(func() error {
			start := time.Now()
			entries, size, err := m.mergeBarrel(gctx, b)
			if err != nil {
				return fmt.Errorf("barrel %d: %w", b, err)
			}
			fragments[b] = entries
			sizes[b] = size
			if m.metrics != nil {
				m.metrics.MergeDuration.WithLabelValues(fmt.Sprint(b)).Observe(time.Since(start).Seconds())
			}
			m.logger.Info("barrel merged",
				"barrel", b,
				"terms", len(entries),
				"bytes", size,
				"elapsed", time.Since(start),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make([]lexEntry, 0)
	for _, frag := range fragments {
		all = append(all, frag...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].term < all[j].term })

	if err := m.writeLexicon(all); err != nil {
		return nil, err
	}

	res := &Result{
		Terms:       len(all),
		BarrelSizes: sizes,
		BarrelTerms: make([]int, m.barrels),
	}
	for b, frag := range fragments {
		res.BarrelTerms[b] = len(frag)
	}
	if err := m.writeBarrelMeta(res); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.TermsMergedTotal.Add(float64(len(all)))
	}
	return res, nil
}

// mergeBarrel runs a full K-way merge over all blocks but encodes only the
// terms hashing to barrelID.
func (m *Merger) mergeBarrel(ctx context.Context, barrelID int) ([]lexEntry, int64, error) {
	readers := make([]*blockReader, 0, m.blocks)
	defer func() {
		for _, r := range readers {
			r.close()
		}
	}()
	h := &readerHeap{}
	for i := 0; i < m.blocks; i++ {
		r, err := newBlockReader(filepath.Join(m.dir, block.InvName(i)))
		if err != nil {
			return nil, 0, err
		}
		readers = append(readers, r)
		if !r.done {
			heap.Push(h, r)
		}
	}

	path := filepath.Join(m.dir, BarrelName(barrelID))
	f, err := os.Create(path)
	if err != nil {
		return nil, 0, apperrors.Newf(apperrors.ErrIO, "creating barrel %s: %v", path, err)
	}
	w := bufio.NewWriterSize(f, 1<<20)

	var (
		entries []lexEntry
		offset  int64
		encBuf  []byte
		runs    []string
		paths   []string
	)
	for h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			f.Close()
			return nil, 0, err
		}
		term := (*h)[0].term
		mine := BarrelFor(term, m.barrels) == barrelID

		runs = runs[:0]
		paths = paths[:0]
		for h.Len() > 0 && (*h)[0].term == term {
			r := (*h)[0]
			if mine {
				runs = append(runs, r.postings)
				paths = append(paths, r.path)
			}
			if err := r.advance(); err != nil {
				f.Close()
				return nil, 0, err
			}
			if r.done {
				heap.Pop(h)
			} else {
				heap.Fix(h, 0)
			}
		}
		if !mine {
			continue
		}

		docs := make(map[uint32][]uint32)
		for i, raw := range runs {
			if err := parsePostings(raw, term, paths[i], docs); err != nil {
				f.Close()
				return nil, 0, err
			}
		}

		var entry lexEntry
		encBuf, entry = encodePostings(encBuf[:0], term, barrelID, docs)
		entry.offset = offset
		if _, err := w.Write(encBuf); err != nil {
			f.Close()
			return nil, 0, apperrors.Newf(apperrors.ErrIO, "writing barrel %s: %v", path, err)
		}
		offset += entry.length
		entries = append(entries, entry)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return nil, 0, apperrors.Newf(apperrors.ErrIO, "flushing barrel %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, 0, apperrors.Newf(apperrors.ErrIO, "closing barrel %s: %v", path, err)
	}
	return entries, offset, nil
}

// encodePostings emits one term's posting list in the barrel wire format:
// vbyte(doc_count), then per posting vbyte(doc_delta) vbyte(tf)
// vbyte(pos_delta)*tf. Doc deltas start from 0; position deltas restart per
// posting.
func encodePostings(dst []byte, term string, barrelID int, docs map[uint32][]uint32) ([]byte, lexEntry) {
	docIDs := make([]uint32, 0, len(docs))
	for id := range docs {
		docIDs = append(docIDs, id)
	}
	sort.Slice(docIDs, func(i, j int) bool { return docIDs[i] < docIDs[j] })

	entry := lexEntry{term: term, df: uint32(len(docIDs)), barrelID: barrelID}
	dst = codec.Encode(dst, uint32(len(docIDs)))
	prevDoc := uint32(0)
	for _, id := range docIDs {
		positions := normalizePositions(docs[id])
		tf := uint32(len(positions))
		entry.cf += uint64(tf)

		dst = codec.Encode(dst, id-prevDoc)
		prevDoc = id
		dst = codec.Encode(dst, tf)
		prevPos := uint32(0)
		for i, p := range positions {
			if i == 0 {
				dst = codec.Encode(dst, p)
			} else {
				dst = codec.Encode(dst, p-prevPos)
			}
			prevPos = p
		}
	}
	entry.length = int64(len(dst))
	return dst, entry
}

// writeLexicon assigns word IDs 1..T in lexicographic order and writes the
// tab-separated lexicon file.
func (m *Merger) writeLexicon(entries []lexEntry) error {
	path := filepath.Join(m.dir, LexiconName)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return apperrors.Newf(apperrors.ErrIO, "creating lexicon %s: %v", tmp, err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	for i, e := range entries {
		_, err := fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%d\n",
			i+1, e.term, e.df, e.cf, e.offset, e.length, e.barrelID)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return apperrors.Newf(apperrors.ErrIO, "writing lexicon: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return apperrors.Newf(apperrors.ErrIO, "flushing lexicon: %v", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return apperrors.Newf(apperrors.ErrIO, "closing lexicon: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return apperrors.Newf(apperrors.ErrIO, "renaming lexicon: %v", err)
	}
	return nil
}

// writeBarrelMeta records per-barrel size and term count for startup
// validation.
func (m *Merger) writeBarrelMeta(res *Result) error {
	path := filepath.Join(m.dir, BarrelMetaName)
	f, err := os.Create(path)
	if err != nil {
		return apperrors.Newf(apperrors.ErrIO, "creating %s: %v", path, err)
	}
	w := bufio.NewWriter(f)
	for b := 0; b < m.barrels; b++ {
		if _, err := fmt.Fprintf(w, "%d\t%d\t%d\n", b, res.BarrelSizes[b], res.BarrelTerms[b]); err != nil {
			f.Close()
			return apperrors.Newf(apperrors.ErrIO, "writing %s: %v", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return apperrors.Newf(apperrors.ErrIO, "flushing %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "closing %s: %v", path, err)
	}
	return nil
}

// readerHeap orders block readers by current term.
type readerHeap []*blockReader

func (h readerHeap) Len() int            { return len(h) }
func (h readerHeap) Less(i, j int) bool  { return h[i].term < h[j].term }
func (h readerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readerHeap) Push(x interface{}) { *h = append(*h, x.(*blockReader)) }
func (h *readerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
