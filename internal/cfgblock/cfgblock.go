// Package cfgblock encodes and decodes the fixed-layout config-block
// record (version c1) the programmer persists alongside the info block:
// a small table of signal-limit entries used at runtime to interpret
// sensor readings, followed by a self-verifying CRC-24.
//
// Block layout (all multi-byte fields little-endian):
//
//	offset 0:          [2]byte  version tag, 'c' '1'
//	offset 2:          uint16   block size (header + body + tail)
//	offset 4:          body     N elements, 8 bytes each:
//	                     uint16 count
//	                     uint16 sig_lo
//	                     uint16 sig_hi
//	                     uint16 range
//	offset 4+8N:       3 bytes  CRC-24 over header+body, little-endian
//	offset 4+8N+3:     byte     reserved, always zero
package cfgblock

import (
	"encoding/binary"
	"fmt"

	"github.com/gmofishsauce/updiprog/internal/crc"
)

const (
	HeaderSize  = 4
	ElementSize = 8
	TailSize    = 4

	verMajor = 'c'
	verMinor = '1'
)

// CrcMismatchError reports that the tail CRC-24 doesn't match a
// recomputation over the header and body.
type CrcMismatchError struct {
	Expected uint32
	Got      uint32
}

func (e *CrcMismatchError) Error() string {
	return fmt.Sprintf("cfgblock: crc mismatch: expected %#06x, got %#06x", e.Expected, e.Got)
}

// FormatError reports a malformed config block: wrong version tag,
// truncated buffer, or a size field that disagrees with its length.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return fmt.Sprintf("cfgblock: %s", e.Reason) }

// Element is one signal-limit entry in the block's body.
type Element struct {
	Count uint16
	SigLo uint16
	SigHi uint16
	Range uint16
}

// Size returns the total encoded length of a block holding n elements.
func Size(n int) int { return HeaderSize + n*ElementSize + TailSize }

// Encode serialises elems into a config block and fills in its CRC-24
// tail.
func Encode(elems []Element) []byte {
	total := Size(len(elems))
	buf := make([]byte, total)

	buf[0] = verMajor
	buf[1] = verMinor
	binary.LittleEndian.PutUint16(buf[2:4], uint16(total))

	off := HeaderSize
	for _, e := range elems {
		binary.LittleEndian.PutUint16(buf[off:off+2], e.Count)
		binary.LittleEndian.PutUint16(buf[off+2:off+4], e.SigLo)
		binary.LittleEndian.PutUint16(buf[off+4:off+6], e.SigHi)
		binary.LittleEndian.PutUint16(buf[off+6:off+8], e.Range)
		off += ElementSize
	}

	sum := crc.CRC24(buf[:off])
	buf[off] = byte(sum)
	buf[off+1] = byte(sum >> 8)
	buf[off+2] = byte(sum >> 16)
	buf[off+3] = 0

	return buf
}

// Decode parses a config block, validating its version tag, declared
// size, and CRC-24 tail before returning its elements.
func Decode(buf []byte) ([]Element, error) {
	if len(buf) < HeaderSize+TailSize {
		return nil, &FormatError{Reason: fmt.Sprintf("buffer too short (%d bytes)", len(buf))}
	}
	if buf[0] != verMajor || buf[1] != verMinor {
		return nil, &FormatError{Reason: fmt.Sprintf("unrecognized version tag %q%q", buf[0], buf[1])}
	}
	declared := int(binary.LittleEndian.Uint16(buf[2:4]))
	if declared != len(buf) {
		return nil, &FormatError{Reason: fmt.Sprintf("declared size %d disagrees with buffer length %d", declared, len(buf))}
	}

	bodyLen := len(buf) - HeaderSize - TailSize
	if bodyLen%ElementSize != 0 {
		return nil, &FormatError{Reason: fmt.Sprintf("body length %d is not a multiple of element size %d", bodyLen, ElementSize)}
	}

	headerAndBody := buf[:len(buf)-TailSize]
	tail := buf[len(buf)-TailSize:]
	stored := uint32(tail[0]) | uint32(tail[1])<<8 | uint32(tail[2])<<16
	got := crc.CRC24(headerAndBody)
	if got != stored {
		return nil, &CrcMismatchError{Expected: stored, Got: got}
	}

	count := bodyLen / ElementSize
	elems := make([]Element, count)
	off := HeaderSize
	for i := range elems {
		elems[i] = Element{
			Count: binary.LittleEndian.Uint16(buf[off : off+2]),
			SigLo: binary.LittleEndian.Uint16(buf[off+2 : off+4]),
			SigHi: binary.LittleEndian.Uint16(buf[off+4 : off+6]),
			Range: binary.LittleEndian.Uint16(buf[off+6 : off+8]),
		}
		off += ElementSize
	}
	return elems, nil
}
