// Package app orchestrates the UPDI chip-state machine on top of the
// opcode codec in internal/link: identity discovery, the locked →
// key-accepted → reset-toggled → NVMPROG transitions, NVM-command
// execution, and the two page-write algorithms the NVM controller
// generations require. It owns no transport details of its own.
package app

import (
	"fmt"
	"time"

	"github.com/gmofishsauce/updiprog/internal/device"
	"github.com/gmofishsauce/updiprog/internal/link"
	"github.com/gmofishsauce/updiprog/internal/proglog"
)

// TimeoutError reports that wait_unlocked or wait_flash_ready expired.
type TimeoutError struct {
	What string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("app: timeout waiting for %s", e.What) }

// LockedError reports a privileged operation attempted outside NVMPROG.
type LockedError struct {
	Op string
}

func (e *LockedError) Error() string { return fmt.Sprintf("app: %s requires NVM programming mode", e.Op) }

// DeviceErrorStatus reports that the NVM controller's status register
// flagged a write error after an operation completed.
type DeviceErrorStatus struct {
	Status byte
}

func (e *DeviceErrorStatus) Error() string {
	return fmt.Sprintf("app: device reported a write error, status %#02x", e.Status)
}

// Info is everything device_info() extracts from the SIB, and (when the
// chip is already in NVMPROG) SIGROW/REVID.
type Info struct {
	FamilyID    string
	NVMRevision string
	OCDRevision string
	PDIOscMHz   byte
	StatusA     byte
	DeviceID    [3]byte
	Serial      [10]byte
	DeviceRev   byte
	HasSigrow   bool
}

// App drives one chip over a Link. The address width is carried by the
// Link; since it can change mid-session (device_info may flip it after
// the first read), App replaces its Link with a re-widthed copy rather
// than mutating the one it was given.
type App struct {
	link *link.Link
	dev  *device.Chip
	log  *proglog.Logger
}

// New constructs an App for dev over l, which New assumes starts at
// dev's nominal address width (16-bit; device_info corrects this if the
// SIB reports P:2 NVM revision).
func New(l *link.Link, dev *device.Chip, log *proglog.Logger) *App {
	return &App{link: l, dev: dev, log: log}
}

// DeviceInfo reads the SIB and, when already in programming mode,
// SIGROW and REVID. A "P:2" NVM revision switches this App's Link to
// 24-bit addressing for the rest of the session.
func (a *App) DeviceInfo() (Info, error) {
	sib, err := a.link.ReadSIB(16)
	if err != nil {
		return Info{}, fmt.Errorf("app: device info: %w", err)
	}

	info := Info{
		FamilyID:    string(sib[0:7]),
		NVMRevision: string(sib[8:11]),
		OCDRevision: string(sib[11:14]),
		PDIOscMHz:   sib[15],
	}

	if info.NVMRevision == "P:2" {
		a.log.Infof("app: NVM revision P:2, switching to 24-bit addressing")
		a.link = a.link.SetWidth(link.Width24)
	}

	statusA, err := a.link.LDCS(regStatusA)
	if err != nil {
		return Info{}, fmt.Errorf("app: device info: read STATUSA: %w", err)
	}
	info.StatusA = statusA

	inProg, err := a.InProgMode()
	if err != nil {
		return Info{}, err
	}
	if inProg {
		sigrow := make([]byte, 13)
		if err := a.readData(a.dev.SigrowAddress, sigrow); err != nil {
			return Info{}, fmt.Errorf("app: device info: read sigrow: %w", err)
		}
		copy(info.DeviceID[:], sigrow[0:3])
		copy(info.Serial[:], sigrow[3:13])

		revid := make([]byte, 1)
		if err := a.readData(a.dev.SyscfgAddress+1, revid); err != nil {
			return Info{}, fmt.Errorf("app: device info: read revid: %w", err)
		}
		info.DeviceRev = revid[0]
		info.HasSigrow = true
	}

	return info, nil
}

// InProgMode reports whether ASI_SYS_STATUS.NVMPROG is set.
func (a *App) InProgMode() (bool, error) {
	status, err := a.link.LDCS(regAsiSysStat)
	if err != nil {
		return false, fmt.Errorf("app: in prog mode: %w", err)
	}
	return status&(1<<bitSysStatNVMProg) != 0, nil
}

// WaitUnlocked polls ASI_SYS_STATUS.LOCKSTATUS until it clears or
// timeoutMs elapses.
func (a *App) WaitUnlocked(timeoutMs int) error {
	if timeoutMs <= 0 {
		timeoutMs = defaultWaitUnlockedMs
	}
	for {
		status, err := a.link.LDCS(regAsiSysStat)
		if err == nil && status&(1<<bitSysStatLock) == 0 {
			return nil
		}
		timeoutMs--
		if timeoutMs <= 0 {
			return &TimeoutError{What: "wait_unlocked"}
		}
		time.Sleep(time.Millisecond)
	}
}

// WaitFlashReady polls the NVM controller's STATUS register until
// neither FLASH_BUSY nor EEPROM_BUSY is set, or timeoutMs elapses.
// WRITE_ERROR fails immediately without waiting out the timeout.
func (a *App) WaitFlashReady(timeoutMs int) error {
	if timeoutMs <= 0 {
		timeoutMs = defaultWaitFlashReadyMs
	}
	for {
		status, err := a.link.LDS(a.dev.NVMCtrlAddress + uint32(nvmctrlStat))
		if err != nil {
			return fmt.Errorf("app: wait flash ready: %w", err)
		}
		if status&(1<<nvmStatusWriteError) != 0 {
			return &DeviceErrorStatus{Status: status}
		}
		if status&((1<<nvmStatusEepromBusy)|(1<<nvmStatusFlashBusy)) == 0 {
			return nil
		}
		timeoutMs--
		if timeoutMs <= 0 {
			return &TimeoutError{What: "wait_flash_ready"}
		}
		time.Sleep(time.Millisecond)
	}
}

// Unlock writes the chip-erase key, confirms it was accepted, and
// toggles reset. Used on a locked chip when a full erase is acceptable.
func (a *App) Unlock() error {
	if err := a.link.Key(keySize64, keyChipErase); err != nil {
		return fmt.Errorf("app: unlock: %w", err)
	}
	status, err := a.link.LDCS(regAsiKeyStat)
	if err != nil || status&(1<<bitKeyStatErase) == 0 {
		return fmt.Errorf("app: unlock: chip-erase key not accepted (status %#02x): %w", status, err)
	}
	if err := a.ToggleReset(true); err != nil {
		return fmt.Errorf("app: unlock: %w", err)
	}
	if err := a.WaitUnlocked(defaultWaitUnlockedMs); err != nil {
		return fmt.Errorf("app: unlock: %w", err)
	}
	return nil
}

// EnterProgMode writes the NVM key and confirms NVMPROG. A no-op if
// already in programming mode.
func (a *App) EnterProgMode() error {
	if inProg, err := a.InProgMode(); err != nil {
		return err
	} else if inProg {
		return nil
	}

	if err := a.link.Key(keySize64, keyNVM); err != nil {
		return fmt.Errorf("app: enter prog mode: %w", err)
	}
	status, err := a.link.LDCS(regAsiKeyStat)
	if err != nil || status&(1<<bitKeyStatNVMProg) == 0 {
		return fmt.Errorf("app: enter prog mode: NVM key not accepted (status %#02x): %w", status, err)
	}
	if err := a.ToggleReset(true); err != nil {
		return fmt.Errorf("app: enter prog mode: %w", err)
	}
	if err := a.WaitUnlocked(defaultWaitUnlockedMs); err != nil {
		return fmt.Errorf("app: enter prog mode: %w", err)
	}
	inProg, err := a.InProgMode()
	if err != nil {
		return err
	}
	if !inProg {
		return &LockedError{Op: "enter prog mode"}
	}
	return nil
}

// LeaveProgMode toggles reset once more and disables UPDI, releasing
// any key that was in effect.
func (a *App) LeaveProgMode() error {
	if err := a.ToggleReset(true); err != nil {
		return fmt.Errorf("app: leave prog mode: %w", err)
	}
	if err := a.Disable(); err != nil {
		return fmt.Errorf("app: leave prog mode: %w", err)
	}
	return nil
}

// Disable temporarily disables the UPDI interface via CTRLB.
func (a *App) Disable() error {
	return a.link.STCS(regCtrlB, (1<<bitCtrlBUpdiDis)|(1<<bitCtrlBCcDetDis))
}

// Reset applies or releases the UPDI reset condition.
func (a *App) Reset(apply bool) error {
	if apply {
		return a.link.STCS(regAsiReset, resetReqValue)
	}
	return a.link.STCS(regAsiReset, 0)
}

// ToggleReset applies reset, waits 1ms, then optionally releases it
// (reset_or_halt=true releases to let the chip run; false leaves it
// halted in reset).
func (a *App) ToggleReset(resetOrHalt bool) error {
	if err := a.Reset(true); err != nil {
		return fmt.Errorf("toggle reset: %w", err)
	}
	time.Sleep(time.Millisecond)
	if resetOrHalt {
		if err := a.Reset(false); err != nil {
			return fmt.Errorf("toggle reset: %w", err)
		}
	}
	return nil
}

// ExecuteNVMCommand writes command to the NVM controller's CTRLA register.
func (a *App) ExecuteNVMCommand(command byte) error {
	return a.link.STS(a.dev.NVMCtrlAddress+uint32(nvmctrlCtrlA), command)
}

// ChipErase drives a full chip erase through the NVM controller
// (available once unlocked; a locked chip must instead go through
// Unlock's KEY_CHIPERASE path).
func (a *App) ChipErase() error {
	if err := a.WaitFlashReady(defaultWaitFlashReadyMs); err != nil {
		return fmt.Errorf("app: chip erase: %w", err)
	}
	cmd := nvmV0CmdChipErase
	if a.dev.NVMVersion == device.NVMv1 {
		cmd = nvmV1CmdChipErase
	}
	if err := a.ExecuteNVMCommand(cmd); err != nil {
		return fmt.Errorf("app: chip erase: %w", err)
	}
	if err := a.WaitFlashReady(defaultWaitFlashReadyMs); err != nil {
		return fmt.Errorf("app: chip erase: %w", err)
	}
	return nil
}

// ReadData reads len(data) bytes starting at addr, auto-selecting
// word-mode access when the length is even and byte mode when it is odd;
// the address's alignment is not considered.
func (a *App) ReadData(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return a.readData(addr, data)
}

func (a *App) readData(addr uint32, data []byte) error {
	if len(data)%2 == 0 {
		return a.readDataWords(addr, data)
	}
	return a.readDataBytes(addr, data)
}

func (a *App) readDataBytes(addr uint32, data []byte) error {
	off := 0
	for off < len(data) {
		size := len(data) - off
		if size > MaxByteBurst {
			size = MaxByteBurst
		}
		if err := a.readBurstBytes(addr+uint32(off), data[off:off+size]); err != nil {
			return fmt.Errorf("app: read data at off %d: %w", off, err)
		}
		off += size
	}
	return nil
}

func (a *App) readBurstBytes(addr uint32, data []byte) error {
	if len(data) == 1 {
		b, err := a.link.LDS(addr)
		if err != nil {
			return err
		}
		data[0] = b
		return nil
	}
	if err := a.link.SetPointer(addr); err != nil {
		return err
	}
	if err := a.link.Repeat(len(data)); err != nil {
		return err
	}
	out, err := a.link.LoadIndirect(len(data))
	if err != nil {
		return err
	}
	copy(data, out)
	return nil
}

func (a *App) readDataWords(addr uint32, data []byte) error {
	off := 0
	wordCap := MaxWordBurst * 2
	for off < len(data) {
		size := len(data) - off
		if size > wordCap {
			size = wordCap
		}
		if err := a.readBurstWords(addr+uint32(off), data[off:off+size]); err != nil {
			return fmt.Errorf("app: read data (words) at off %d: %w", off, err)
		}
		off += size
	}
	return nil
}

func (a *App) readBurstWords(addr uint32, data []byte) error {
	if len(data) == 2 {
		w, err := a.link.LDS16(addr)
		if err != nil {
			return err
		}
		data[0] = byte(w)
		data[1] = byte(w >> 8)
		return nil
	}
	if err := a.link.SetPointer(addr); err != nil {
		return err
	}
	if err := a.link.Repeat16(len(data) / 2); err != nil {
		return err
	}
	words, err := a.link.LoadIndirect16(len(data) / 2)
	if err != nil {
		return err
	}
	for i, w := range words {
		data[2*i] = byte(w)
		data[2*i+1] = byte(w >> 8)
	}
	return nil
}

// WriteData writes data to addr, using word-mode access when useWords is
// true and len(data) is even, byte mode otherwise.
func (a *App) WriteData(addr uint32, data []byte, useWords bool) error {
	if len(data) == 0 {
		return nil
	}
	if useWords && len(data)%2 == 0 {
		return a.writeDataWords(addr, data)
	}
	return a.writeDataBytes(addr, data)
}

func (a *App) writeDataBytes(addr uint32, data []byte) error {
	off := 0
	for off < len(data) {
		size := len(data) - off
		if size > MaxByteBurst {
			size = MaxByteBurst
		}
		if err := a.writeBurstBytes(addr+uint32(off), data[off:off+size]); err != nil {
			return fmt.Errorf("app: write data at off %d: %w", off, err)
		}
		off += size
	}
	return nil
}

func (a *App) writeBurstBytes(addr uint32, data []byte) error {
	if len(data) == 1 {
		return a.link.STS(addr, data[0])
	}
	if err := a.link.SetPointer(addr); err != nil {
		return err
	}
	if err := a.link.Repeat(len(data)); err != nil {
		return err
	}
	return a.link.StoreIndirect(data)
}

func (a *App) writeDataWords(addr uint32, data []byte) error {
	off := 0
	wordCap := MaxWordBurst * 2
	for off < len(data) {
		size := len(data) - off
		if size > wordCap {
			size = wordCap
		}
		if err := a.writeBurstWords(addr+uint32(off), data[off:off+size]); err != nil {
			return fmt.Errorf("app: write data (words) at off %d: %w", off, err)
		}
		off += size
	}
	return nil
}

func (a *App) writeBurstWords(addr uint32, data []byte) error {
	if len(data) == 2 {
		return a.link.STS16(addr, uint16(data[0])|uint16(data[1])<<8)
	}
	if err := a.link.SetPointer(addr); err != nil {
		return err
	}
	if err := a.link.Repeat16(len(data) / 2); err != nil {
		return err
	}
	words := make([]uint16, len(data)/2)
	for i := range words {
		words[i] = uint16(data[2*i]) | uint16(data[2*i+1])<<8
	}
	return a.link.StoreIndirect16(words)
}

// WriteNVM stages data into the NVM controller and commits it with
// nvmCommand, selecting the page-buffered (v0) or direct-write (v1)
// algorithm per the device's controller generation.
func (a *App) WriteNVM(addr uint32, data []byte, nvmCommand byte, useWords bool) error {
	if a.dev.NVMVersion == device.NVMv1 {
		return a.writeNVMv1(addr, data, nvmCommand, useWords)
	}
	return a.writeNVMv0(addr, data, nvmCommand, useWords)
}

// writeNVMv0 clears the controller's page buffer, stages data with
// ordinary writes, then commits with nvmCommand.
func (a *App) writeNVMv0(addr uint32, data []byte, nvmCommand byte, useWords bool) error {
	if err := a.WaitFlashReady(defaultWaitFlashReadyMs); err != nil {
		return fmt.Errorf("app: write nvm v0: %w", err)
	}
	if err := a.ExecuteNVMCommand(nvmV0CmdPageBufferClear); err != nil {
		return fmt.Errorf("app: write nvm v0: clear page buffer: %w", err)
	}
	if err := a.WaitFlashReady(defaultWaitFlashReadyMs); err != nil {
		return fmt.Errorf("app: write nvm v0: %w", err)
	}
	if err := a.WriteData(addr, data, useWords); err != nil {
		return fmt.Errorf("app: write nvm v0: %w", err)
	}
	if err := a.ExecuteNVMCommand(nvmCommand); err != nil {
		return fmt.Errorf("app: write nvm v0: commit: %w", err)
	}
	return a.WaitFlashReady(defaultWaitFlashReadyMs)
}

// writeNVMv1 arms nvmCommand first, then writes data directly — there is
// no staging buffer on this controller generation.
func (a *App) writeNVMv1(addr uint32, data []byte, nvmCommand byte, useWords bool) error {
	if err := a.WaitFlashReady(defaultWaitFlashReadyMs); err != nil {
		return fmt.Errorf("app: write nvm v1: %w", err)
	}
	if err := a.ExecuteNVMCommand(nvmCommand); err != nil {
		return fmt.Errorf("app: write nvm v1: arm command: %w", err)
	}
	if err := a.WriteData(addr, data, useWords); err != nil {
		return fmt.Errorf("app: write nvm v1: %w", err)
	}
	if err := a.WaitFlashReady(defaultWaitFlashReadyMs); err != nil {
		return fmt.Errorf("app: write nvm v1: %w", err)
	}
	return a.ExecuteNVMCommand(nvmV1CmdNoCmd)
}

// FlashWriteCommand returns the NVM command WriteNVM should commit a
// flash page with, for the given controller generation.
func FlashWriteCommand(v device.NVMVersion) byte {
	if v == device.NVMv1 {
		return nvmV1CmdFlashWrite
	}
	return nvmV0CmdWritePage
}

// EepromWriteCommand returns the NVM command WriteNVM should commit an
// EEPROM or user row page with. Both regions share one erase-write
// command on each controller generation.
func EepromWriteCommand(v device.NVMVersion) byte {
	if v == device.NVMv1 {
		return nvmV1CmdEepromEraseWrite
	}
	return nvmV0CmdEraseWritePage
}

// WriteFuse writes one fuse byte. v0 controllers stage the address and
// value directly into NVMCTRL's ADDR/DATA registers; v1 controllers go
// through the ordinary erase-write NVM path.
func (a *App) WriteFuse(addr uint32, value byte) error {
	if a.dev.NVMVersion == device.NVMv1 {
		return a.writeNVMv1(addr, []byte{value}, nvmV1CmdEepromEraseWrite, false)
	}
	if err := a.WaitFlashReady(defaultWaitFlashReadyMs); err != nil {
		return fmt.Errorf("app: write fuse: %w", err)
	}
	if err := a.link.STS16(a.dev.NVMCtrlAddress+uint32(nvmctrlAddrL), uint16(addr)); err != nil {
		return fmt.Errorf("app: write fuse: address: %w", err)
	}
	if err := a.link.STS(a.dev.NVMCtrlAddress+uint32(nvmctrlDataL), value); err != nil {
		return fmt.Errorf("app: write fuse: data: %w", err)
	}
	return a.ExecuteNVMCommand(nvmV0CmdWriteFuse)
}
