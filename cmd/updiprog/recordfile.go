package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gmofishsauce/updiprog/internal/image"
)

// loadRecordFile reads --file's argument as a sequence of
// "addr:hexbytes" lines, one record per line, blank lines and lines
// starting with '#' ignored. This is deliberately not an Intel-HEX
// parser: spec.md's non-goals rule that out and call for "a record
// iterator as input" instead. This is the thinnest possible source of
// one: a caller who already has a real HEX/map toolchain can produce
// this format with a one-line awk/sed conversion, or a future record
// iterator can replace this file without touching internal/image.
func loadRecordFile(path string) (*image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var recs []image.Record
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: expected addr:hexbytes, got %q", path, lineNo, line)
		}
		addr, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad address: %w", path, lineNo, err)
		}
		data, err := hex.DecodeString(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad hex data: %w", path, lineNo, err)
		}
		recs = append(recs, image.Record{Addr: uint32(addr), Data: data})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return image.Load(image.NewSliceIterator(recs))
}

// saveRecordFile writes img back out in the same "addr:hexbytes" format
// loadRecordFile reads, one line per segment.
func saveRecordFile(path string, img *image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, seg := range img.Segments() {
		if len(seg.Bytes) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%x:%s\n", seg.AddrFrom(), hex.EncodeToString(seg.Bytes)); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return w.Flush()
}
