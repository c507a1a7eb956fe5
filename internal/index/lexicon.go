// Package index holds the immutable query-time view of an index directory:
// the lexicon, the document table, and the barrel cache feeding the posting
// decoder.
package index

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
)

// Entry is one lexicon row locating a term's posting list.
type Entry struct {
	WordID   uint32
	Term     string
	DF       uint32
	CF       uint64
	Offset   int64
	Length   int64
	BarrelID int
}

// Lexicon is the full in-memory term table. Entries are immutable after
// load; iteration in word-ID order yields terms in ascending lexicographic
// order.
type Lexicon struct {
	entries []Entry // word_id - 1 -> entry
	byTerm  map[string]*Entry
}

// LoadLexicon reads the tab-separated lexicon file and validates that word
// IDs are dense from 1 and that terms ascend lexicographically.
func LoadLexicon(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.ErrMissingInput, "lexicon %s: %v", path, err)
		}
		return nil, apperrors.Newf(apperrors.ErrIO, "opening lexicon %s: %v", path, err)
	}
	defer f.Close()

	lex := &Lexicon{byTerm: make(map[string]*Entry)}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) != 7 {
			return nil, apperrors.Newf(apperrors.ErrCorruptData,
				"lexicon %s line %d: expected 7 fields, got %d", path, line, len(fields))
		}
		entry, err := parseEntry(fields)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrCorruptData,
				"lexicon %s line %d: %v", path, line, err)
		}
		if entry.WordID != uint32(len(lex.entries)+1) {
			return nil, apperrors.Newf(apperrors.ErrCorruptData,
				"lexicon %s line %d: word id %d out of sequence", path, line, entry.WordID)
		}
		if n := len(lex.entries); n > 0 && lex.entries[n-1].Term >= entry.Term {
			return nil, apperrors.Newf(apperrors.ErrCorruptData,
				"lexicon %s line %d: term %q out of order", path, line, entry.Term)
		}
		lex.entries = append(lex.entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "reading lexicon %s: %v", path, err)
	}
	for i := range lex.entries {
		lex.byTerm[lex.entries[i].Term] = &lex.entries[i]
	}
	return lex, nil
}

func parseEntry(fields []string) (Entry, error) {
	var e Entry
	wordID, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return e, err
	}
	df, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return e, err
	}
	cf, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return e, err
	}
	offset, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return e, err
	}
	length, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return e, err
	}
	barrelID, err := strconv.Atoi(fields[6])
	if err != nil {
		return e, err
	}
	return Entry{
		WordID:   uint32(wordID),
		Term:     fields[1],
		DF:       uint32(df),
		CF:       cf,
		Offset:   offset,
		Length:   length,
		BarrelID: barrelID,
	}, nil
}

// Find returns the entry for term, if present.
func (l *Lexicon) Find(term string) (*Entry, bool) {
	e, ok := l.byTerm[term]
	return e, ok
}

// WordID resolves a term to its word ID.
func (l *Lexicon) WordID(term string) (uint32, bool) {
	e, ok := l.byTerm[term]
	if !ok {
		return 0, false
	}
	return e.WordID, true
}

// Count returns the number of distinct terms.
func (l *Lexicon) Count() int {
	return len(l.entries)
}

// ByWordID returns the entry with the given word ID.
func (l *Lexicon) ByWordID(id uint32) (*Entry, bool) {
	if id == 0 || int(id) > len(l.entries) {
		return nil, false
	}
	return &l.entries[id-1], true
}

// Each iterates entries in word-ID order until fn returns false.
func (l *Lexicon) Each(fn func(*Entry) bool) {
	for i := range l.entries {
		if !fn(&l.entries[i]) {
			return
		}
	}
}
