package index

import (
	"context"
	"errors"

	"github.com/papyrus-search/papyrus/internal/codec"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
)

// Posting is one decoded (doc, tf, positions) tuple. Positions are absolute
// and strictly ascending.
type Posting struct {
	DocID     uint32
	TF        uint32
	Positions []uint32
}

// Decoder lazily walks one term's posting list inside a resident barrel.
// Callers may abandon it mid-list; Reset restarts from the beginning.
type Decoder struct {
	entry *Entry
	buf   []byte // exactly the term's byte range

	cursor    int
	remaining uint32
	docCount  uint32
	prevDoc   uint32
}

// NewDecoder slices the term's byte range out of barrel and reads the
// posting count. Bounds violations report corrupt data with the term and
// offset.
func NewDecoder(entry *Entry, barrel []byte) (*Decoder, error) {
	end := entry.Offset + entry.Length
	if entry.Offset < 0 || entry.Length <= 0 || end > int64(len(barrel)) {
		return nil, apperrors.Corruptf(entry.Term, entry.Offset,
			"byte range [%d,%d) exceeds barrel size %d", entry.Offset, end, len(barrel))
	}
	d := &Decoder{entry: entry, buf: barrel[entry.Offset:end]}
	if err := d.Reset(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset rewinds the decoder to the first posting.
func (d *Decoder) Reset() error {
	d.cursor = 0
	d.prevDoc = 0
	count, n, err := d.read()
	if err != nil {
		return err
	}
	d.cursor = n
	d.docCount = count
	d.remaining = count
	return nil
}

// DocCount returns the posting-list length recorded in the barrel.
func (d *Decoder) DocCount() uint32 {
	return d.docCount
}

// Next decodes the next posting. The boolean is false once the list is
// exhausted. The context deadline is honoured at per-posting granularity:
// an expired deadline reports ErrTimedOut.
func (d *Decoder) Next(ctx context.Context) (Posting, bool, error) {
	if d.remaining == 0 {
		if d.cursor != len(d.buf) {
			return Posting{}, false, apperrors.Corruptf(d.entry.Term, d.entry.Offset,
				"posting list consumed %d of %d bytes", d.cursor, len(d.buf))
		}
		return Posting{}, false, nil
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Posting{}, false, apperrors.Newf(apperrors.ErrTimedOut,
				"decoding %q", d.entry.Term)
		}
		return Posting{}, false, err
	}

	delta, n, err := d.read()
	if err != nil {
		return Posting{}, false, err
	}
	d.cursor += n
	docID := d.prevDoc + delta
	d.prevDoc = docID

	tf, n, err := d.read()
	if err != nil {
		return Posting{}, false, err
	}
	d.cursor += n
	if tf == 0 {
		return Posting{}, false, apperrors.Corruptf(d.entry.Term, d.entry.Offset,
			"doc %d has zero term frequency", docID)
	}

	positions := make([]uint32, tf)
	prev := uint32(0)
	for i := range positions {
		delta, n, err := d.read()
		if err != nil {
			return Posting{}, false, err
		}
		d.cursor += n
		prev += delta
		positions[i] = prev
	}
	d.remaining--
	return Posting{DocID: docID, TF: tf, Positions: positions}, true, nil
}

// read decodes one varint at the cursor, rewriting codec errors with the
// term and absolute barrel offset.
func (d *Decoder) read() (uint32, int, error) {
	v, n, err := codec.Decode(d.buf, d.cursor)
	if err != nil {
		return 0, 0, apperrors.Corruptf(d.entry.Term, d.entry.Offset+int64(d.cursor),
			"varint decode failed: %v", err)
	}
	return v, n, nil
}

// All decodes the remaining postings eagerly.
func (d *Decoder) All(ctx context.Context) ([]Posting, error) {
	out := make([]Posting, 0, d.remaining)
	for {
		p, ok, err := d.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, p)
	}
}
