// Package program is the operation driver: it composes NVM, the
// info-block and config-block codecs, and an image into the end-to-end
// commands an operator actually asks for — erase, program, dump, write
// and verify the info block, update the config block — the way
// cupdi.c's top-level command dispatch does, minus the HEX/map-file
// plumbing that isn't this package's job.
package program

import (
	"fmt"

	"github.com/gmofishsauce/updiprog/internal/app"
	"github.com/gmofishsauce/updiprog/internal/cfgblock"
	"github.com/gmofishsauce/updiprog/internal/crc"
	"github.com/gmofishsauce/updiprog/internal/device"
	"github.com/gmofishsauce/updiprog/internal/image"
	"github.com/gmofishsauce/updiprog/internal/infoblock"
	"github.com/gmofishsauce/updiprog/internal/nvm"
	"github.com/gmofishsauce/updiprog/internal/proglog"
)

// Options configures where the info block and config block live. Both
// records may be placed in EEPROM or the user row; cupdi.c hardcodes
// EEPROM at a fixed offset, this keeps that as the default returned by
// DefaultOptions (the zero Options value selects flash, which
// writeBlock/readBlock reject).
type Options struct {
	InfoBlockRegion device.RegionKind
	InfoBlockOffset uint32
	CfgBlockRegion  device.RegionKind
	CfgBlockOffset  uint32
}

// DefaultOptions places both records in EEPROM: the info block first,
// the config block immediately after it, mirroring
// INFO_BLOCK_ADDRESS_IN_EEPROM in the original.
func DefaultOptions() Options {
	return Options{
		InfoBlockRegion: device.EEPROM,
		InfoBlockOffset: 0,
		CfgBlockRegion:  device.EEPROM,
		CfgBlockOffset:  uint32(infoblock.Size),
	}
}

// Driver is the operation driver. It owns no transport of its own; all
// wire activity happens through the *nvm.NVM it was built with.
type Driver struct {
	nvm  *nvm.NVM
	log  *proglog.Logger
	opts Options
}

// New builds a Driver over an already-constructed NVM.
func New(n *nvm.NVM, log *proglog.Logger, opts Options) *Driver {
	return &Driver{nvm: n, log: log, opts: opts}
}

// DeviceInfo reads chip identity via the SIB, negotiating the address
// width the rest of the session uses (app.DeviceInfo switches to 24-bit
// addressing when the SIB reports NVM revision "P:2"). cupdi.c's main()
// calls nvm_get_device_info right after connecting and again right after
// entering programming mode; callers here are expected to do the same.
func (d *Driver) DeviceInfo() (app.Info, error) { return d.nvm.DeviceInfo() }

// EnsureProgMode tries to enter NVM programming mode and, if that is
// refused, unlocks the chip with a chip erase instead — the same fallback
// cupdi.c's main() applies before any write, fuse, or flag operation.
// After the unlock fallback it returns without entering programming mode
// a second time.
func (d *Driver) EnsureProgMode() error {
	if err := d.nvm.EnterProgMode(); err != nil {
		d.log.Warnf("program: enter_progmode failed (%v), unlocking with chip erase", err)
		if err := d.nvm.Unlock(); err != nil {
			return fmt.Errorf("program: unlock device: %w", err)
		}
	}
	return nil
}

// Close leaves programming mode. Callers should defer it right after a
// successful EnsureProgMode, so it always runs on the way out, matching
// the original's unconditional nvm_leave_progmode in main()'s cleanup.
func (d *Driver) Close() error { return d.nvm.LeaveProgMode() }

// Erase performs a full chip erase.
func (d *Driver) Erase() error {
	if err := d.nvm.ChipErase(); err != nil {
		return fmt.Errorf("program: erase: %w", err)
	}
	return nil
}

// ProgramImage erases the chip, then writes every populated segment of
// img to its region via NVM's address-based dispatch.
func (d *Driver) ProgramImage(img *image.Image) error {
	if err := img.Validate(); err != nil {
		return fmt.Errorf("program: program image: %w", err)
	}
	if err := d.Erase(); err != nil {
		return err
	}
	for _, seg := range img.Segments() {
		if len(seg.Bytes) == 0 {
			continue
		}
		if err := d.nvm.WriteAuto(seg.AddrFrom(), seg.Bytes); err != nil {
			return fmt.Errorf("program: program image: segment %#x: %w", seg.ID, err)
		}
	}
	return nil
}

// DumpImage reads every region named in kinds in full and returns their
// contents as image segments addressed at the region's base, the way
// updi_save walks the flash region to produce a HEX file.
func (d *Driver) DumpImage(kinds []device.RegionKind) (*image.Image, error) {
	img := image.New()
	for _, kind := range kinds {
		r, err := d.nvm.Region(kind)
		if err != nil {
			return nil, fmt.Errorf("program: dump image: %w", err)
		}
		buf := make([]byte, r.Size)
		if err := d.nvm.ReadRegion(kind, r.Start, buf); err != nil {
			return nil, fmt.Errorf("program: dump image: %s: %w", kind, err)
		}
		img.Put(r.Start, buf)
	}
	return img, nil
}

// BuildInfo fills in the size and firmware-CRC fields of an info-block
// template from the programmed firmware bytes, the way write_infoblock
// computes len(data) and calc_crc24(data, len) before encoding. Every
// other field (version strings, variable pointers, config/fuse
// descriptors) is the caller's responsibility to resolve, since locating
// them in a map file is out of scope here.
func (d *Driver) BuildInfo(firmware []byte, template infoblock.Info) infoblock.Info {
	info := template
	info.FWSize = uint32(len(firmware))
	info.FWCRC24 = crc.CRC24(firmware)
	return info
}

// WriteInfoBlock resets the chip (so any SRAM-resident state the info
// is built from is fresh), encodes info, and writes it to the
// configured region and offset.
func (d *Driver) WriteInfoBlock(info infoblock.Info) error {
	if err := d.nvm.Reset(true, resetDelayMs); err != nil {
		return fmt.Errorf("program: write info block: %w", err)
	}
	return d.writeBlock(d.opts.InfoBlockRegion, d.opts.InfoBlockOffset, infoblock.Encode(info))
}

// resetDelayMs is the pause nvm.Reset waits after it has toggled (applied
// and released) reset, before re-entering programming mode, matching
// TIMEOUT_WAIT_CHIP_RESET's scale in the
// original (a handful of milliseconds, not the 100ms/1000ms status-poll
// timeouts).
const resetDelayMs = 5

// ReadInfoBlock reads and decodes the info block without verifying
// firmware content, the read-only counterpart to updi_read_infoblock
// ("--info": report what's there, don't check it against flash).
func (d *Driver) ReadInfoBlock() (infoblock.Info, error) {
	buf := make([]byte, infoblock.Size)
	if err := d.readBlock(d.opts.InfoBlockRegion, d.opts.InfoBlockOffset, buf); err != nil {
		return infoblock.Info{}, fmt.Errorf("program: read info block: %w", err)
	}
	info, err := infoblock.Decode(buf)
	if err != nil {
		return infoblock.Info{}, fmt.Errorf("program: read info block: %w", err)
	}
	return info, nil
}

// VerifyInfoBlock reads the info block back, decodes it (which fails if
// the block's own CRC-8 self-check doesn't vanish), re-reads that many
// bytes from the start of flash, and compares their CRC-24 against the
// value recorded in the block — updi_verify_infoblock's flow.
func (d *Driver) VerifyInfoBlock() error {
	buf := make([]byte, infoblock.Size)
	if err := d.readBlock(d.opts.InfoBlockRegion, d.opts.InfoBlockOffset, buf); err != nil {
		return fmt.Errorf("program: verify info block: %w", err)
	}
	info, err := infoblock.Decode(buf)
	if err != nil {
		return fmt.Errorf("program: verify info block: %w", err)
	}
	firmware := make([]byte, info.FWSize)
	flash, err := d.nvm.Region(device.Flash)
	if err != nil {
		return fmt.Errorf("program: verify info block: %w", err)
	}
	if err := d.nvm.ReadRegion(device.Flash, flash.Start, firmware); err != nil {
		return fmt.Errorf("program: verify info block: %w", err)
	}
	if err := infoblock.VerifyFirmware(buf, firmware); err != nil {
		return fmt.Errorf("program: verify info block: %w", err)
	}
	return nil
}

// Verify is the standalone check-only path (cupdi.c's "-t" test flag):
// read back and CRC-check an already-programmed image without erasing
// or writing anything. It is exactly VerifyInfoBlock, exposed under its
// own name so the CLI's --check flag reads as a distinct operation from
// the verify step folded into --program.
func (d *Driver) Verify() error { return d.VerifyInfoBlock() }

// UpdateConfigBlock encodes elems as a config block and writes it to the
// configured region and offset, independent of a program run — cb_c1's
// build step invoked standalone rather than only as part of programming
// firmware.
func (d *Driver) UpdateConfigBlock(elems []cfgblock.Element) error {
	return d.writeBlock(d.opts.CfgBlockRegion, d.opts.CfgBlockOffset, cfgblock.Encode(elems))
}

// ReadConfigBlock reads and decodes the config block at the configured
// location.
func (d *Driver) ReadConfigBlock(n int) ([]cfgblock.Element, error) {
	buf := make([]byte, cfgblock.Size(n))
	if err := d.readBlock(d.opts.CfgBlockRegion, d.opts.CfgBlockOffset, buf); err != nil {
		return nil, fmt.Errorf("program: read config block: %w", err)
	}
	elems, err := cfgblock.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("program: read config block: %w", err)
	}
	return elems, nil
}

// ReadMem reads len(data) bytes starting at addr from whichever region
// claims it, for the CLI's bare --read.
func (d *Driver) ReadMem(addr uint32, data []byte) error {
	if err := d.nvm.ReadAuto(addr, data); err != nil {
		return fmt.Errorf("program: read: %w", err)
	}
	return nil
}

// WriteMem writes data starting at addr to whichever region claims it,
// for the CLI's bare --write (and, byte by byte, --fuses).
func (d *Driver) WriteMem(addr uint32, data []byte) error {
	if err := d.nvm.WriteAuto(addr, data); err != nil {
		return fmt.Errorf("program: write: %w", err)
	}
	return nil
}

// Reset exposes nvm.Reset directly, so a bare --reset doesn't need to
// go through a program or write operation to reach it.
func (d *Driver) Reset(progmode bool, delayMs int) error {
	if err := d.nvm.Reset(progmode, delayMs); err != nil {
		return fmt.Errorf("program: reset: %w", err)
	}
	return nil
}

func (d *Driver) writeBlock(kind device.RegionKind, offset uint32, data []byte) error {
	switch kind {
	case device.EEPROM:
		return d.nvm.WriteEEPROM(offset, data)
	case device.UserRow:
		return d.nvm.WriteUserrow(offset, data)
	default:
		return fmt.Errorf("program: info/config block region must be eeprom or userrow, got %s", kind)
	}
}

func (d *Driver) readBlock(kind device.RegionKind, offset uint32, data []byte) error {
	if kind != device.EEPROM && kind != device.UserRow {
		return fmt.Errorf("program: info/config block region must be eeprom or userrow, got %s", kind)
	}
	return d.nvm.ReadRegion(kind, offset, data)
}
