package image

import (
	"errors"
	"testing"
)

func TestPutSingleRecord(t *testing.T) {
	img := New()
	img.Put(0x8010, []byte{1, 2, 3, 4})

	segs := img.Segments()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	seg := segs[0]
	if seg.AddrFrom() != 0x8010 || seg.AddrTo() != 0x8013 {
		t.Errorf("addr range = [%#x, %#x], want [0x8010, 0x8013]", seg.AddrFrom(), seg.AddrTo())
	}
	if string(seg.Bytes) != "\x01\x02\x03\x04" {
		t.Errorf("bytes = %v", seg.Bytes)
	}
}

func TestPutMergesAdjoiningRecords(t *testing.T) {
	img := New()
	img.Put(0x8000, []byte{1, 2})
	img.Put(0x8002, []byte{3, 4})

	segs := img.Segments()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1 merged segment", len(segs))
	}
	if segs[0].AddrFrom() != 0x8000 || segs[0].AddrTo() != 0x8003 {
		t.Errorf("merged range = [%#x, %#x]", segs[0].AddrFrom(), segs[0].AddrTo())
	}
	if string(segs[0].Bytes) != "\x01\x02\x03\x04" {
		t.Errorf("merged bytes = %v", segs[0].Bytes)
	}
}

func TestPutMergesOutOfOrderRecords(t *testing.T) {
	img := New()
	img.Put(0x8004, []byte{5, 6})
	img.Put(0x8000, []byte{1, 2, 3, 4})

	segs := img.Segments()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if string(segs[0].Bytes) != "\x01\x02\x03\x04\x05\x06" {
		t.Errorf("bytes = %v", segs[0].Bytes)
	}
}

func TestPutOverwritesOverlap(t *testing.T) {
	img := New()
	img.Put(0x8000, []byte{1, 1, 1, 1})
	img.Put(0x8002, []byte{9, 9})

	segs := img.Segments()
	if string(segs[0].Bytes) != "\x01\x01\x09\x09" {
		t.Errorf("bytes = %v", segs[0].Bytes)
	}
}

func TestPutSeparatesDistinctSegmentIDs(t *testing.T) {
	img := New()
	img.Put(0x0000, []byte{1, 2})
	img.Put(0x10000, []byte{3, 4})

	segs := img.Segments()
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2 (distinct segment ids)", len(segs))
	}
	if segs[0].ID == segs[1].ID {
		t.Errorf("expected distinct segment ids, both = %#x", segs[0].ID)
	}
}

func TestValidatePassesOnWellFormedImage(t *testing.T) {
	img := New()
	img.Put(0x8000, []byte{1, 2, 3})
	if err := img.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

type failingIterator struct{ err error }

func (f *failingIterator) Next() (Record, bool) { return Record{}, false }
func (f *failingIterator) Err() error           { return f.err }

func TestLoadPropagatesIteratorError(t *testing.T) {
	want := errors.New("truncated record")
	_, err := Load(&failingIterator{err: want})
	if !errors.Is(err, want) {
		t.Fatalf("Load err = %v, want %v", err, want)
	}
}

func TestLoadDrainsSliceIterator(t *testing.T) {
	recs := []Record{
		{Addr: 0x8000, Data: []byte{1, 2}},
		{Addr: 0x8002, Data: []byte{3, 4}},
		{Addr: 0x9000, Data: []byte{5}},
	}
	img, err := Load(NewSliceIterator(recs))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	segs := img.Segments()
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
}

func TestPutIgnoresEmptyData(t *testing.T) {
	img := New()
	img.Put(0x8000, nil)
	if len(img.Segments()) != 0 {
		t.Errorf("expected no segments for empty put")
	}
}
