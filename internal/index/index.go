package index

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/papyrus-search/papyrus/internal/indexer/forward"
	"github.com/papyrus-search/papyrus/internal/indexer/merge"
	"github.com/papyrus-search/papyrus/internal/registry"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
	"github.com/papyrus-search/papyrus/pkg/metrics"
)

// DocInfo is the per-document data the query engine needs: length for BM25
// normalisation plus display metadata.
type DocInfo struct {
	Length  uint32
	Title   string
	Authors []string
	PubDate string
}

// Index is the immutable query-time view of one index directory. The barrel
// cache is its only mutable member and is safe for concurrent readers.
type Index struct {
	Dir       string
	Lexicon   *Lexicon
	Registry  *registry.Registry
	Docs      map[uint32]DocInfo
	AvgDocLen float64
	Barrels   int
	Cache     *BarrelCache
}

// Options configure Open.
type Options struct {
	CacheCapacity int
	Preload       bool
	Metrics       *metrics.Metrics
}

// Open loads the lexicon, doc-ID map, and forward metadata from dir,
// validates the barrels against barrel_meta, and prepares the barrel cache.
func Open(dir string, opts Options) (*Index, error) {
	logger := slog.Default().With("component", "index")

	lex, err := LoadLexicon(filepath.Join(dir, merge.LexiconName))
	if err != nil {
		return nil, err
	}
	reg, err := registry.Load(filepath.Join(dir, registry.MapFileName))
	if err != nil {
		return nil, err
	}
	docs, totalLen, err := loadForwardMeta(filepath.Join(dir, forward.IndexName))
	if err != nil {
		return nil, err
	}

	barrels, err := validateBarrels(dir)
	if err != nil {
		return nil, err
	}

	capacity := opts.CacheCapacity
	if capacity <= 0 {
		capacity = barrels
	}
	idx := &Index{
		Dir:      dir,
		Lexicon:  lex,
		Registry: reg,
		Docs:     docs,
		Barrels:  barrels,
		Cache:    NewBarrelCache(dir, capacity, opts.Metrics),
	}
	if n := len(docs); n > 0 {
		idx.AvgDocLen = float64(totalLen) / float64(n)
	}

	if opts.Preload {
		ids := make([]int, barrels)
		for i := range ids {
			ids[i] = i
		}
		if err := idx.Cache.Preload(ids); err != nil {
			return nil, err
		}
	}

	logger.Info("index opened",
		"dir", dir,
		"terms", lex.Count(),
		"docs", len(docs),
		"barrels", barrels,
		"avg_doc_len", idx.AvgDocLen,
	)
	return idx, nil
}

// N returns the corpus size.
func (i *Index) N() int {
	return i.Registry.Count()
}

// Postings opens a decoder for the lexicon entry, pinning its barrel. The
// caller must Release the handle after decoding.
func (i *Index) Postings(ctx context.Context, entry *Entry) (*Decoder, *Handle, error) {
	handle, err := i.Cache.Get(entry.BarrelID)
	if err != nil {
		return nil, nil, err
	}
	dec, err := NewDecoder(entry, handle.Bytes())
	if err != nil {
		handle.Release()
		return nil, nil, err
	}
	return dec, handle, nil
}

// loadForwardMeta reads doc lengths and display metadata from the forward
// index. Term lists are not retained.
func loadForwardMeta(path string) (map[uint32]DocInfo, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, apperrors.Newf(apperrors.ErrMissingInput, "forward index %s: %v", path, err)
		}
		return nil, 0, apperrors.Newf(apperrors.ErrIO, "opening forward index %s: %v", path, err)
	}
	defer f.Close()

	docs := make(map[uint32]DocInfo)
	var totalLen uint64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
	line := 0
	for scanner.Scan() {
		line++
		var rec forward.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, 0, apperrors.Newf(apperrors.ErrCorruptData,
				"forward index %s line %d: %v", path, line, err)
		}
		docs[rec.DocID] = DocInfo{
			Length:  rec.Length,
			Title:   rec.Title,
			Authors: rec.Authors,
			PubDate: rec.PubDate,
		}
		totalLen += uint64(rec.Length)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, apperrors.Newf(apperrors.ErrIO, "reading forward index %s: %v", path, err)
	}
	return docs, totalLen, nil
}

// validateBarrels cross-checks barrel_meta against the barrel files on disk
// and returns the barrel count.
func validateBarrels(dir string) (int, error) {
	path := filepath.Join(dir, merge.BarrelMetaName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, apperrors.Newf(apperrors.ErrMissingInput, "barrel meta %s: %v", path, err)
		}
		return 0, apperrors.Newf(apperrors.ErrIO, "opening %s: %v", path, err)
	}
	defer f.Close()

	barrels := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) != 3 {
			return 0, apperrors.Newf(apperrors.ErrCorruptData,
				"barrel meta %s: malformed line %q", path, scanner.Text())
		}
		id, err1 := strconv.Atoi(fields[0])
		size, err2 := strconv.ParseInt(fields[1], 10, 64)
		if err1 != nil || err2 != nil || id != barrels {
			return 0, apperrors.Newf(apperrors.ErrCorruptData,
				"barrel meta %s: bad entry %q", path, scanner.Text())
		}
		info, err := os.Stat(filepath.Join(dir, merge.BarrelName(id)))
		if err != nil {
			return 0, apperrors.Newf(apperrors.ErrMissingInput, "barrel %d: %v", id, err)
		}
		if info.Size() != size {
			return 0, apperrors.Newf(apperrors.ErrCorruptData,
				"barrel %d is %d bytes, meta records %d", id, info.Size(), size)
		}
		barrels++
	}
	if err := scanner.Err(); err != nil {
		return 0, apperrors.Newf(apperrors.ErrIO, "reading %s: %v", path, err)
	}
	if barrels == 0 {
		return 0, apperrors.Newf(apperrors.ErrCorruptData, "barrel meta %s is empty", path)
	}
	return barrels, nil
}
