// Package nvm is the region-aware layer on top of internal/app: it knows
// which memory region an address belongs to and picks the right read,
// write, or erase sequence for it, so callers above this point never
// juggle NVM command opcodes directly.
package nvm

import (
	"fmt"
	"time"

	"github.com/gmofishsauce/updiprog/internal/app"
	"github.com/gmofishsauce/updiprog/internal/device"
	"github.com/gmofishsauce/updiprog/internal/proglog"
)

// NVM composes an *app.App with the chip's region catalog.
type NVM struct {
	app *app.App
	dev *device.Chip
	log *proglog.Logger
}

// New builds an NVM driver over an already-constructed App.
func New(a *app.App, dev *device.Chip, log *proglog.Logger) *NVM {
	return &NVM{app: a, dev: dev, log: log}
}

// Unlock, EnterProgMode, LeaveProgMode, ChipErase and DeviceInfo pass
// straight through to the APP layer; NVM adds nothing to them beyond
// the region bookkeeping its own read/write entry points need.

// Region returns the region descriptor for kind from the device catalog.
func (n *NVM) Region(kind device.RegionKind) (device.Region, error) { return n.dev.Region(kind) }

func (n *NVM) Unlock() error               { return n.app.Unlock() }
func (n *NVM) EnterProgMode() error         { return n.app.EnterProgMode() }
func (n *NVM) LeaveProgMode() error         { return n.app.LeaveProgMode() }
func (n *NVM) ChipErase() error             { return n.app.ChipErase() }
func (n *NVM) DeviceInfo() (app.Info, error) { return n.app.DeviceInfo() }

// OutOfRangeError reports a write or read whose address span straddles
// or exceeds a region's bounds — spec.md §7's OutOfRange{region, addr,
// len}.
type OutOfRangeError struct {
	Region device.RegionKind
	Addr   uint32
	Len    int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("nvm: %s: address %#x length %d out of range", e.Region, e.Addr, e.Len)
}

// assertProgMode enforces spec.md §4.4's write invariant: every write
// operation asserts progmode == true before touching NVM (reads warn but
// proceed, so only the write paths call this).
func (n *NVM) assertProgMode(op string) error {
	inProg, err := n.app.InProgMode()
	if err != nil {
		return fmt.Errorf("nvm: %s: checking prog mode: %w", op, err)
	}
	if !inProg {
		return &app.LockedError{Op: op}
	}
	return nil
}

// checkBounds mirrors _nvm_read_common's address-relocation and overflow
// check: addr is taken as region-relative if it falls below the region's
// start address (callers may pass either a bare offset or the true
// chip-memory address), and the whole [addr, addr+len) span must fit.
func checkBounds(kind device.RegionKind, r device.Region, addr uint32, length int) (uint32, error) {
	if addr < r.Start {
		addr += r.Start
	}
	if addr+uint32(length) > r.End() {
		return 0, &OutOfRangeError{Region: kind, Addr: addr, Len: length}
	}
	return addr, nil
}

// ReadRegion reads len(data) bytes from kind starting at addr, which may
// be either a bare offset into the region or the full chip address.
func (n *NVM) ReadRegion(kind device.RegionKind, addr uint32, data []byte) error {
	r, err := n.dev.Region(kind)
	if err != nil {
		return err
	}
	addr, err = checkBounds(kind, r, addr, len(data))
	if err != nil {
		return err
	}
	if err := n.app.ReadData(addr, data); err != nil {
		return fmt.Errorf("nvm: read %s at %#x: %w", kind, addr, err)
	}
	return nil
}

// pageLoop walks data in r.PageSize chunks, calling write for each page.
// Grounded on nvm_write_flash/_nvm_write_eeprom's shared for-loop shape.
func pageLoop(r device.Region, addr uint32, data []byte, write func(pageAddr uint32, page []byte) error) error {
	pageSize := int(r.PageSize)
	if pageSize <= 0 {
		pageSize = len(data)
	}
	off := 0
	for off < len(data) {
		size := len(data) - off
		if size > pageSize {
			size = pageSize
		}
		if err := write(addr+uint32(off), data[off:off+size]); err != nil {
			return err
		}
		off += pageSize
		if off > len(data) {
			off = len(data)
		}
	}
	return nil
}

// WriteFlash writes data to flash, a page (region PageSize) at a time,
// each page committed through the device's controller generation.
func (n *NVM) WriteFlash(addr uint32, data []byte) error {
	if err := n.assertProgMode("write flash"); err != nil {
		return err
	}
	r := n.dev.Flash
	addr, err := checkBounds(device.Flash, r, addr, len(data))
	if err != nil {
		return err
	}
	cmd := app.FlashWriteCommand(n.dev.NVMVersion)
	return pageLoop(r, addr, data, func(pageAddr uint32, page []byte) error {
		if err := n.app.WriteNVM(pageAddr, page, cmd, true); err != nil {
			return fmt.Errorf("nvm: write flash at %#x: %w", pageAddr, err)
		}
		return nil
	})
}

// writeEraseWrite is the shared body of WriteEEPROM and WriteUserrow:
// both regions share the same page-erase-write command on both
// controller generations (_nvm_write_eeprom serves userrow too).
func (n *NVM) writeEraseWrite(kind device.RegionKind, r device.Region, addr uint32, data []byte) error {
	if err := n.assertProgMode(fmt.Sprintf("write %s", kind)); err != nil {
		return err
	}
	addr, err := checkBounds(kind, r, addr, len(data))
	if err != nil {
		return err
	}
	cmd := app.EepromWriteCommand(n.dev.NVMVersion)
	return pageLoop(r, addr, data, func(pageAddr uint32, page []byte) error {
		if err := n.app.WriteNVM(pageAddr, page, cmd, false); err != nil {
			return fmt.Errorf("nvm: write %s at %#x: %w", kind, pageAddr, err)
		}
		return nil
	})
}

// WriteEEPROM writes data to EEPROM, page by page.
func (n *NVM) WriteEEPROM(addr uint32, data []byte) error {
	return n.writeEraseWrite(device.EEPROM, n.dev.EEPROM, addr, data)
}

// WriteUserrow writes data to the user row, page by page. The user row
// shares EEPROM's write command and page semantics in both controller
// generations (nvm_write_userrow delegates to _nvm_write_eeprom).
func (n *NVM) WriteUserrow(addr uint32, data []byte) error {
	return n.writeEraseWrite(device.UserRow, n.dev.UserRow, addr, data)
}

// WriteFuse writes len(data) fuse bytes starting at addr, one byte at a
// time, skipping any byte whose current value already matches — the
// read-before-write optimization in nvm_write_fuse, which avoids wearing
// out fuse cells (and a page-buffered erase cycle) for a byte that isn't
// actually changing.
func (n *NVM) WriteFuse(addr uint32, data []byte) error {
	if err := n.assertProgMode("write fuse"); err != nil {
		return err
	}
	r := n.dev.Fuses
	base, err := checkBounds(device.Fuses, r, addr, len(data))
	if err != nil {
		return err
	}
	for i, want := range data {
		cur := make([]byte, 1)
		target := base + uint32(i)
		if err := n.app.ReadData(target, cur); err != nil || cur[0] != want {
			if err := n.app.WriteFuse(target, want); err != nil {
				return fmt.Errorf("nvm: write fuse byte %d at %#x: %w", i, target, err)
			}
		}
	}
	return nil
}

// ReadAuto dispatches to ReadRegion for whichever region claims addr,
// the read-side counterpart to WriteAuto used by the CLI's bare --read.
func (n *NVM) ReadAuto(addr uint32, data []byte) error {
	kind, r, err := n.dev.RegionFor(addr)
	if err != nil {
		return fmt.Errorf("nvm: read auto: %w", err)
	}
	if addr+uint32(len(data)) > r.End() {
		return &OutOfRangeError{Region: kind, Addr: addr, Len: len(data)}
	}
	return n.ReadRegion(kind, addr, data)
}

// WriteAuto dispatches to the write method for whichever region claims
// addr, rejecting a span that crosses a region boundary. SRAM has no
// writer of its own in the original (nvm_write_mem is the generic
// fallback used when no region table entry fits); WriteAuto mirrors
// that by erroring rather than silently no-op'ing.
func (n *NVM) WriteAuto(addr uint32, data []byte) error {
	if err := n.assertProgMode("write auto"); err != nil {
		return err
	}
	kind, r, err := n.dev.RegionFor(addr)
	if err != nil {
		return fmt.Errorf("nvm: write auto: %w", err)
	}
	if addr+uint32(len(data)) > r.End() {
		return &OutOfRangeError{Region: kind, Addr: addr, Len: len(data)}
	}
	switch kind {
	case device.Flash:
		return n.WriteFlash(addr, data)
	case device.EEPROM:
		return n.WriteEEPROM(addr, data)
	case device.UserRow:
		return n.WriteUserrow(addr, data)
	case device.Fuses:
		return n.WriteFuse(addr, data)
	default:
		return fmt.Errorf("nvm: write auto: %s has no NVM writer", kind)
	}
}

// Reset toggles the chip's reset line and, if progmode was active,
// re-enters programming mode afterward.
func (n *NVM) Reset(progmode bool, delayMs int) error {
	if err := n.app.ToggleReset(true); err != nil {
		return fmt.Errorf("nvm: reset: %w", err)
	}
	if delayMs > 0 {
		time.Sleep(time.Duration(delayMs) * time.Millisecond)
	}
	if progmode {
		if err := n.app.EnterProgMode(); err != nil {
			return fmt.Errorf("nvm: reset: re-enter prog mode: %w", err)
		}
	}
	return nil
}
