// Package infoblock encodes and decodes the fixed-layout record (version
// s3) the programmer persists into EEPROM or user row to describe a
// flashed firmware image: its version, size, a handful of pointer
// addresses the host side needs to find at runtime, a config-block
// descriptor, a fuse descriptor, and a self-verifying CRC pair.
//
// Block layout (32 bytes, all multi-byte fields little-endian):
//
//	offset 0:  [2]byte  version tag, 's' '3'
//	offset 2:  uint16   block size (== 32)
//	offset 4:  [3]byte  firmware version, ASCII
//	offset 7:  byte     build number (major in high nibble, minor in low)
//	offset 8:  uint32   firmware size
//	offset 12: uint16   signal pointer
//	offset 14: uint16   reference pointer
//	offset 16: uint16   acq pointer
//	offset 18: uint16   node pointer
//	offset 20: [2]byte  config-block version tag
//	offset 22: uint16   config-block size
//	offset 24: [2]byte  fuse descriptor tag, 'f' '1'
//	offset 26: byte     fuse descriptor size
//	offset 27: byte     fuse descriptor crc
//	offset 28: 3 bytes  firmware CRC-24, little-endian
//	offset 31: byte     block CRC-8, chosen so CRC-8 of the whole
//	                    32-byte block (including this byte) is zero
package infoblock

import (
	"encoding/binary"
	"fmt"

	"github.com/gmofishsauce/updiprog/internal/crc"
)

const (
	// Size is the fixed length of an encoded s3 info block.
	Size = 32

	verMajor = 's'
	verMinor = '3'

	fuseVerMajor = 'f'
	fuseVerMinor = '1'
)

// CrcMismatchError reports that a recomputed CRC does not match the
// value stored in the block being verified.
type CrcMismatchError struct {
	What     string
	Expected uint32
	Got      uint32
}

func (e *CrcMismatchError) Error() string {
	return fmt.Sprintf("infoblock: %s crc mismatch: expected %#06x, got %#06x", e.What, e.Expected, e.Got)
}

// FormatError reports that a buffer being decoded isn't a well-formed
// s3 block: wrong length, wrong version tag, or a failing self-check.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return fmt.Sprintf("infoblock: %s", e.Reason) }

// Info is the decoded content of one s3 block.
type Info struct {
	FWVersion  [3]byte
	BuildMajor byte // low nibble used
	BuildMinor byte // low nibble used
	FWSize     uint32

	SignalPtr    uint16
	ReferencePtr uint16
	AcqPtr       uint16
	NodePtr      uint16

	ConfigVersion [2]byte
	ConfigSize    uint16

	FuseSize byte
	FuseCRC  byte

	FWCRC24 uint32 // low 24 bits significant
}

// Encode serialises info into a 32-byte s3 block and fills in the
// trailing firmware CRC-24 and block CRC-8.
func Encode(info Info) []byte {
	buf := make([]byte, Size)

	buf[0] = verMajor
	buf[1] = verMinor
	binary.LittleEndian.PutUint16(buf[2:4], Size)

	copy(buf[4:7], info.FWVersion[:])
	buf[7] = (info.BuildMajor&0x0F)<<4 | (info.BuildMinor & 0x0F)

	binary.LittleEndian.PutUint32(buf[8:12], info.FWSize)

	binary.LittleEndian.PutUint16(buf[12:14], info.SignalPtr)
	binary.LittleEndian.PutUint16(buf[14:16], info.ReferencePtr)
	binary.LittleEndian.PutUint16(buf[16:18], info.AcqPtr)
	binary.LittleEndian.PutUint16(buf[18:20], info.NodePtr)

	copy(buf[20:22], info.ConfigVersion[:])
	binary.LittleEndian.PutUint16(buf[22:24], info.ConfigSize)

	buf[24] = fuseVerMajor
	buf[25] = fuseVerMinor
	buf[26] = info.FuseSize
	buf[27] = info.FuseCRC

	buf[28] = byte(info.FWCRC24)
	buf[29] = byte(info.FWCRC24 >> 8)
	buf[30] = byte(info.FWCRC24 >> 16)

	buf[31] = crc.CRC8(buf[:31])

	return buf
}

// Decode parses a 32-byte s3 block, rejecting a wrong length, wrong
// version tag, or a block whose self-check CRC-8 doesn't vanish.
func Decode(buf []byte) (Info, error) {
	if len(buf) != Size {
		return Info{}, &FormatError{Reason: fmt.Sprintf("want %d bytes, got %d", Size, len(buf))}
	}
	if buf[0] != verMajor || buf[1] != verMinor {
		return Info{}, &FormatError{Reason: fmt.Sprintf("unrecognized version tag %q%q", buf[0], buf[1])}
	}
	if crc.CRC8(buf) != 0 {
		return Info{}, &FormatError{Reason: "block self-check CRC-8 is non-zero"}
	}

	var info Info
	copy(info.FWVersion[:], buf[4:7])
	info.BuildMajor = buf[7] >> 4
	info.BuildMinor = buf[7] & 0x0F
	info.FWSize = binary.LittleEndian.Uint32(buf[8:12])
	info.SignalPtr = binary.LittleEndian.Uint16(buf[12:14])
	info.ReferencePtr = binary.LittleEndian.Uint16(buf[14:16])
	info.AcqPtr = binary.LittleEndian.Uint16(buf[16:18])
	info.NodePtr = binary.LittleEndian.Uint16(buf[18:20])
	copy(info.ConfigVersion[:], buf[20:22])
	info.ConfigSize = binary.LittleEndian.Uint16(buf[22:24])
	info.FuseSize = buf[26]
	info.FuseCRC = buf[27]
	info.FWCRC24 = uint32(buf[28]) | uint32(buf[29])<<8 | uint32(buf[30])<<16

	return info, nil
}

// VerifyFirmware recomputes CRC-24 over firmware and compares it against
// the value stored in buf's block, without mutating or rewriting buf.
func VerifyFirmware(buf []byte, firmware []byte) error {
	info, err := Decode(buf)
	if err != nil {
		return err
	}
	got := crc.CRC24(firmware)
	if got != info.FWCRC24 {
		return &CrcMismatchError{What: "firmware", Expected: info.FWCRC24, Got: got}
	}
	return nil
}
