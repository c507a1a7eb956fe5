// Package stream supplies cleaned documents to the build pipeline. A
// Document arrives as one JSON record carrying the external id, optional
// display metadata, and the token fields produced by the upstream cleaner.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/papyrus-search/papyrus/internal/indexer/tokenizer"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
)

// Document is one cleaned input record. Fields hold position-ordered tokens;
// the builder flattens all fields into a single position stream. Text is a
// convenience for corpora that ship whole cleaned strings instead of token
// lists.
type Document struct {
	ExtID   string     `json:"ext_id"`
	Fields  [][]string `json:"fields,omitempty"`
	Text    string     `json:"text,omitempty"`
	Title   string     `json:"title,omitempty"`
	Authors []string   `json:"authors,omitempty"`
	PubDate string     `json:"pub_date,omitempty"`
}

// Tokens flattens the document's fields into one normalised token stream
// with a running position counter. When no token fields are present the Text
// field is tokenised instead.
func (d *Document) Tokens() []tokenizer.Token {
	if len(d.Fields) == 0 {
		return tokenizer.Tokenize(d.Text)
	}
	var tokens []tokenizer.Token
	pos := uint32(0)
	for _, field := range d.Fields {
		for _, term := range tokenizer.Terms(joinField(field)) {
			tokens = append(tokens, tokenizer.Token{Term: term, Position: pos})
			pos++
		}
	}
	return tokens
}

func joinField(field []string) string {
	switch len(field) {
	case 0:
		return ""
	case 1:
		return field[0]
	}
	n := len(field) - 1
	for _, t := range field {
		n += len(t)
	}
	buf := make([]byte, 0, n)
	for i, t := range field {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, t...)
	}
	return string(buf)
}

// ParseRecord decodes one JSON input line. A record without an external id
// or without any tokens is malformed.
func ParseRecord(line []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(line, &doc); err != nil {
		return nil, apperrors.Newf(apperrors.ErrMalformedRecord, "invalid json: %v", err)
	}
	if doc.ExtID == "" {
		return nil, apperrors.New(apperrors.ErrMalformedRecord, "record missing ext_id")
	}
	if len(doc.Tokens()) == 0 {
		return nil, apperrors.Newf(apperrors.ErrMalformedRecord, "record %q has no tokens", doc.ExtID)
	}
	return &doc, nil
}

// Source yields cleaned documents until the input is exhausted or ctx is
// cancelled. Implementations call yield for every well-formed record; a
// false return from yield stops the stream.
type Source interface {
	Run(ctx context.Context, yield func(*Document) bool) error
}

// FileSource streams newline-delimited JSON records from a file. Malformed
// lines are counted and skipped via the Skipped callback.
type FileSource struct {
	Path    string
	Skipped func(line int, err error)
}

// Run reads the file line by line.
func (s *FileSource) Run(ctx context.Context, yield func(*Document) bool) error {
	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.Newf(apperrors.ErrMissingInput, "input %s: %v", s.Path, err)
		}
		return apperrors.Newf(apperrors.ErrIO, "opening %s: %v", s.Path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("input stream cancelled: %w", err)
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		doc, err := ParseRecord(raw)
		if err != nil {
			if s.Skipped != nil {
				s.Skipped(line, err)
			}
			continue
		}
		if !yield(doc) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "reading %s: %v", s.Path, err)
	}
	return nil
}
