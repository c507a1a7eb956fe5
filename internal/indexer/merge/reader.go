package merge

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
)

// blockReader streams one sorted inverted block file term by term.
type blockReader struct {
	path    string
	file    *os.File
	scanner *bufio.Scanner
	line    int

	term     string
	postings string
	done     bool
}

func newBlockReader(path string) (*blockReader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.ErrMissingInput, "block %s: %v", path, err)
		}
		return nil, apperrors.Newf(apperrors.ErrIO, "opening block %s: %v", path, err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 256<<20)
	r := &blockReader{path: path, file: f, scanner: scanner}
	if err := r.advance(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// advance loads the next term line. Sets done at end of file.
func (r *blockReader) advance() error {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return apperrors.Newf(apperrors.ErrIO, "reading block %s: %v", r.path, err)
		}
		r.done = true
		return nil
	}
	r.line++
	term, postings, ok := strings.Cut(r.scanner.Text(), "\t")
	if !ok || term == "" {
		return apperrors.Newf(apperrors.ErrCorruptData,
			"block %s line %d: malformed term line", r.path, r.line)
	}
	r.term = term
	r.postings = postings
	return nil
}

func (r *blockReader) close() error {
	return r.file.Close()
}

// parsePostings accumulates one block's "doc:pos,pos;doc:pos;" run for term
// into docs. Positions for a repeated (term, doc) pair union together.
func parsePostings(raw, term, path string, docs map[uint32][]uint32) error {
	for _, entry := range strings.Split(raw, ";") {
		if entry == "" {
			continue
		}
		docStr, posStr, ok := strings.Cut(entry, ":")
		if !ok {
			return apperrors.Newf(apperrors.ErrCorruptData,
				"block %s term %q: malformed posting %q", path, term, entry)
		}
		docID, err := strconv.ParseUint(docStr, 10, 32)
		if err != nil {
			return apperrors.Newf(apperrors.ErrCorruptData,
				"block %s term %q: bad doc id %q", path, term, docStr)
		}
		for _, p := range strings.Split(posStr, ",") {
			if p == "" {
				continue
			}
			pos, err := strconv.ParseUint(p, 10, 32)
			if err != nil {
				return apperrors.Newf(apperrors.ErrCorruptData,
					"block %s term %q: bad position %q", path, term, p)
			}
			docs[uint32(docID)] = append(docs[uint32(docID)], uint32(pos))
		}
	}
	return nil
}

// normalizePositions sorts ascending and removes duplicates in place.
func normalizePositions(positions []uint32) []uint32 {
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	out := positions[:0]
	for i, p := range positions {
		if i > 0 && p == positions[i-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}
