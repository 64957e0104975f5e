package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gmofishsauce/updiprog/internal/image"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestLoadRecordFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "image.rec", "# comment\n8000:1122\n\n8002:3344\n")

	img, err := loadRecordFile(path)
	if err != nil {
		t.Fatalf("loadRecordFile: %v", err)
	}
	segs := img.Segments()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1 merged segment", len(segs))
	}
	if string(segs[0].Bytes) != "\x11\x22\x33\x44" {
		t.Errorf("bytes = %v", segs[0].Bytes)
	}
}

func TestLoadRecordFileRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.rec", "not a record\n")

	if _, err := loadRecordFile(path); err == nil {
		t.Fatal("expected error for malformed record line")
	}
}

func TestSaveRecordFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.rec")

	img := image.New()
	img.Put(0x8000, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	if err := saveRecordFile(path, img); err != nil {
		t.Fatalf("saveRecordFile: %v", err)
	}

	reloaded, err := loadRecordFile(path)
	if err != nil {
		t.Fatalf("loadRecordFile: %v", err)
	}
	segs := reloaded.Segments()
	if len(segs) != 1 || string(segs[0].Bytes) != "\xde\xad\xbe\xef" {
		t.Errorf("round-tripped segments = %+v", segs)
	}
}
