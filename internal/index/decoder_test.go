package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/papyrus-search/papyrus/internal/codec"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
)

// encodeList writes postings in the barrel wire format: vbyte(doc_count),
// then per posting vbyte(doc_delta) vbyte(tf) vbyte(pos_delta)*tf.
func encodeList(postings []Posting) []byte {
	var buf []byte
	buf = codec.Encode(buf, uint32(len(postings)))
	prevDoc := uint32(0)
	for _, p := range postings {
		buf = codec.Encode(buf, p.DocID-prevDoc)
		prevDoc = p.DocID
		buf = codec.Encode(buf, p.TF)
		prevPos := uint32(0)
		for i, pos := range p.Positions {
			if i == 0 {
				buf = codec.Encode(buf, pos)
			} else {
				buf = codec.Encode(buf, pos-prevPos)
			}
			prevPos = pos
		}
	}
	return buf
}

func samplePostings() []Posting {
	return []Posting{
		{DocID: 3, TF: 2, Positions: []uint32{0, 7}},
		{DocID: 4, TF: 1, Positions: []uint32{300}},
		{DocID: 900, TF: 3, Positions: []uint32{1, 2, 512}},
	}
}

func sampleEntry(buf []byte) *Entry {
	return &Entry{Term: "sample", DF: 3, Offset: 0, Length: int64(len(buf))}
}

func TestDecoderRoundTrip(t *testing.T) {
	want := samplePostings()
	buf := encodeList(want)
	dec, err := NewDecoder(sampleEntry(buf), buf)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if dec.DocCount() != 3 {
		t.Fatalf("DocCount = %d, want 3", dec.DocCount())
	}

	got, err := dec.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("decoded %d postings, want %d", len(got), len(want))
	}
	for i, p := range want {
		if got[i].DocID != p.DocID || got[i].TF != p.TF {
			t.Errorf("posting %d = %+v, want %+v", i, got[i], p)
		}
		for j, pos := range p.Positions {
			if got[i].Positions[j] != pos {
				t.Errorf("posting %d positions = %v, want %v", i, got[i].Positions, p.Positions)
			}
		}
	}

	// The list is exhausted.
	if _, ok, err := dec.Next(context.Background()); ok || err != nil {
		t.Fatalf("Next after exhaustion = %v %v", ok, err)
	}
}

func TestDecoderReset(t *testing.T) {
	buf := encodeList(samplePostings())
	dec, err := NewDecoder(sampleEntry(buf), buf)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	first, ok, err := dec.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("Next: %v %v", ok, err)
	}
	if err := dec.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	again, ok, err := dec.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("Next after Reset: %v %v", ok, err)
	}
	if again.DocID != first.DocID || again.TF != first.TF {
		t.Errorf("after Reset got %+v, want %+v", again, first)
	}
}

func TestDecoderOffsetWithinBarrel(t *testing.T) {
	list := encodeList(samplePostings())
	barrel := append([]byte{0xff, 0xff, 0xff}, list...)
	entry := &Entry{Term: "sample", Offset: 3, Length: int64(len(list))}
	dec, err := NewDecoder(entry, barrel)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	got, err := dec.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != 3 || got[0].DocID != 3 {
		t.Errorf("decoded %+v", got)
	}
}

func TestDecoderDeadline(t *testing.T) {
	buf := encodeList(samplePostings())
	dec, err := NewDecoder(sampleEntry(buf), buf)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, _, err = dec.Next(ctx)
	if !errors.Is(err, apperrors.ErrTimedOut) {
		t.Fatalf("err = %v, want ErrTimedOut", err)
	}
}

func TestDecoderBadByteRange(t *testing.T) {
	buf := encodeList(samplePostings())
	for name, entry := range map[string]*Entry{
		"past the end":    {Term: "t", Offset: 0, Length: int64(len(buf)) + 1},
		"negative offset": {Term: "t", Offset: -1, Length: 4},
		"zero length":     {Term: "t", Offset: 0, Length: 0},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := NewDecoder(entry, buf); !errors.Is(err, apperrors.ErrCorruptData) {
				t.Fatalf("err = %v, want ErrCorruptData", err)
			}
		})
	}
}

func TestDecoderZeroTF(t *testing.T) {
	var buf []byte
	buf = codec.Encode(buf, 1) // one posting
	buf = codec.Encode(buf, 5) // doc delta
	buf = codec.Encode(buf, 0) // tf
	dec, err := NewDecoder(&Entry{Term: "t", Offset: 0, Length: int64(len(buf))}, buf)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if _, _, err := dec.Next(context.Background()); !errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatalf("err = %v, want ErrCorruptData", err)
	}
}

func TestDecoderTruncatedList(t *testing.T) {
	full := encodeList(samplePostings())
	buf := full[:len(full)-1]
	dec, err := NewDecoder(&Entry{Term: "t", Offset: 0, Length: int64(len(buf))}, buf)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if _, err := dec.All(context.Background()); !errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatalf("err = %v, want ErrCorruptData", err)
	}
}

func TestDecoderTrailingBytes(t *testing.T) {
	buf := encodeList(samplePostings())
	buf = append(buf, 0x81)
	dec, err := NewDecoder(&Entry{Term: "t", Offset: 0, Length: int64(len(buf))}, buf)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if _, err := dec.All(context.Background()); !errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatalf("err = %v, want ErrCorruptData", err)
	}
}
