package nvm

import (
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/gmofishsauce/updiprog/internal/app"
	"github.com/gmofishsauce/updiprog/internal/device"
	"github.com/gmofishsauce/updiprog/internal/link"
	"github.com/gmofishsauce/updiprog/internal/phy"
	"github.com/gmofishsauce/updiprog/internal/proglog"
)

const wireAck = 0x40

// scriptedLine is the same echo-then-reply fake used by phy, link and
// app's own tests, redeclared here rather than shared across packages.
type scriptedLine struct {
	echo    []byte
	replies []byte
}

func (s *scriptedLine) Write(p []byte) (int, error) {
	s.echo = append(s.echo, p...)
	return len(p), nil
}

func (s *scriptedLine) Read(p []byte) (int, error) {
	if len(s.echo) > 0 {
		n := copy(p, s.echo)
		s.echo = s.echo[n:]
		return n, nil
	}
	if len(s.replies) > 0 {
		n := copy(p, s.replies)
		s.replies = s.replies[n:]
		return n, nil
	}
	return 0, nil
}

func (s *scriptedLine) ResetInputBuffer() error             { return nil }
func (s *scriptedLine) SetMode(mode *serial.Mode) error      { return nil }
func (s *scriptedLine) SetReadTimeout(t time.Duration) error { return nil }
func (s *scriptedLine) Close() error                         { return nil }

func testChip() *device.Chip {
	c, err := device.Lookup("tiny817")
	if err != nil {
		panic(err)
	}
	return c
}

func newNVM(line *scriptedLine) *NVM {
	p := phy.Wrap(line, 115200, 0, proglog.New(nil, proglog.Silent))
	l := link.New(p, link.Width16, proglog.New(nil, proglog.Silent))
	a := app.New(l, testChip(), proglog.New(nil, proglog.Silent))
	return New(a, testChip(), proglog.New(nil, proglog.Silent))
}

func TestRegionReturnsChipDescriptor(t *testing.T) {
	n := newNVM(&scriptedLine{})
	r, err := n.Region(device.EEPROM)
	if err != nil {
		t.Fatalf("Region: %v", err)
	}
	want := testChip().EEPROM
	if r != want {
		t.Errorf("Region(EEPROM) = %+v, want %+v", r, want)
	}
}

func TestReadRegionSingleByte(t *testing.T) {
	n := newNVM(&scriptedLine{replies: []byte{0x5A}})
	buf := make([]byte, 1)
	if err := n.ReadRegion(device.Flash, 0x0000, buf); err != nil {
		t.Fatalf("ReadRegion: %v", err)
	}
	if buf[0] != 0x5A {
		t.Errorf("ReadRegion = %#x, want 0x5a", buf[0])
	}
}

func TestReadRegionOverflowRejected(t *testing.T) {
	n := newNVM(&scriptedLine{})
	buf := make([]byte, 16)
	// tiny817 flash is 8KiB; an offset near the end plus this length
	// overflows the region.
	err := n.ReadRegion(device.Flash, testChip().Flash.Size-4, buf)
	if err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestWriteFlashSingleWordPage(t *testing.T) {
	replies := []byte{
		1 << 3,           // InProgMode check: NVMPROG set
		0x00,             // wait_flash_ready before page buffer clear
		wireAck, wireAck, // clear page buffer (STS two-phase ack)
		0x00,             // wait_flash_ready after clear
		wireAck, wireAck, // write data (single word, STS16 two-phase ack)
		wireAck, wireAck, // commit command (STS two-phase ack)
		0x00, // wait_flash_ready after commit
	}
	n := newNVM(&scriptedLine{replies: replies})
	if err := n.WriteFlash(0x0000, []byte{0x11, 0x22}); err != nil {
		t.Fatalf("WriteFlash: %v", err)
	}
}

func TestWriteEEPROMSingleBytePage(t *testing.T) {
	replies := []byte{
		1 << 3,           // InProgMode check: NVMPROG set
		0x00,             // wait_flash_ready before clear
		wireAck, wireAck, // clear page buffer
		0x00,             // wait_flash_ready after clear
		wireAck, wireAck, // write data (single byte, STS two-phase ack)
		wireAck, wireAck, // commit (erase-write page)
		0x00, // wait_flash_ready after commit
	}
	n := newNVM(&scriptedLine{replies: replies})
	if err := n.WriteEEPROM(0x0000, []byte{0xAB}); err != nil {
		t.Fatalf("WriteEEPROM: %v", err)
	}
}

func TestWriteUserrowDelegatesToEEPROMPath(t *testing.T) {
	replies := []byte{
		1 << 3, // InProgMode check: NVMPROG set
		0x00,
		wireAck, wireAck,
		0x00,
		wireAck, wireAck,
		wireAck, wireAck,
		0x00,
	}
	n := newNVM(&scriptedLine{replies: replies})
	if err := n.WriteUserrow(0x0000, []byte{0xCD}); err != nil {
		t.Fatalf("WriteUserrow: %v", err)
	}
}

func TestWriteFuseSkipsUnchangedByte(t *testing.T) {
	// ReadData returns the same value being written, so no write happens.
	replies := []byte{
		1 << 3, // InProgMode check: NVMPROG set
		0xC5,   // current value, matches target
	}
	n := newNVM(&scriptedLine{replies: replies})
	if err := n.WriteFuse(0x00, []byte{0xC5}); err != nil {
		t.Fatalf("WriteFuse: %v", err)
	}
}

func TestWriteFuseWritesChangedByte(t *testing.T) {
	replies := []byte{
		1 << 3,           // InProgMode check: NVMPROG set
		0xFF,             // current value (differs from target)
		0x00,             // wait_flash_ready
		wireAck, wireAck, // STS16 address
		wireAck, wireAck, // STS data
		wireAck, wireAck, // STS ctrlA (execute nvm command)
	}
	n := newNVM(&scriptedLine{replies: replies})
	if err := n.WriteFuse(0x00, []byte{0xC5}); err != nil {
		t.Fatalf("WriteFuse: %v", err)
	}
}

func TestReadAutoDispatchesToFlash(t *testing.T) {
	n := newNVM(&scriptedLine{replies: []byte{0x5A}})
	buf := make([]byte, 1)
	if err := n.ReadAuto(testChip().Flash.Start, buf); err != nil {
		t.Fatalf("ReadAuto: %v", err)
	}
	if buf[0] != 0x5A {
		t.Errorf("ReadAuto = %#x, want 0x5a", buf[0])
	}
}

func TestWriteAutoDispatchesToEEPROM(t *testing.T) {
	replies := []byte{
		1 << 3, // InProgMode check in WriteAuto itself
		1 << 3, // InProgMode check in writeEraseWrite
		0x00,
		wireAck, wireAck,
		0x00,
		wireAck, wireAck,
		wireAck, wireAck,
		0x00,
	}
	n := newNVM(&scriptedLine{replies: replies})
	eepromStart := testChip().EEPROM.Start
	if err := n.WriteAuto(eepromStart, []byte{0x42}); err != nil {
		t.Fatalf("WriteAuto: %v", err)
	}
}

func TestWriteAutoRejectsCrossRegionSpan(t *testing.T) {
	n := newNVM(&scriptedLine{replies: []byte{1 << 3}})
	eeprom := testChip().EEPROM
	data := make([]byte, int(eeprom.Size)+1)
	if err := n.WriteAuto(eeprom.Start, data); err == nil {
		t.Fatal("expected cross-region overflow error")
	}
}

func TestWriteFlashRejectedWithoutProgmode(t *testing.T) {
	n := newNVM(&scriptedLine{replies: []byte{0x00}})
	if err := n.WriteFlash(0x0000, []byte{0x11, 0x22}); err == nil {
		t.Fatal("expected locked error when not in programming mode")
	}
}

func TestResetWithoutProgmode(t *testing.T) {
	n := newNVM(&scriptedLine{})
	if err := n.Reset(false, 0); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}

func TestResetReentersProgmode(t *testing.T) {
	replies := []byte{
		0x00,                   // InProgMode: not yet
		1 << 4,                 // key status after Key(nvm) accepted (bitKeyStatNVMProg)
		0x00,                   // wait_unlocked: lockstatus clear
		1 << 3,                 // final InProgMode check (bitSysStatNVMProg)
	}
	n := newNVM(&scriptedLine{replies: replies})
	if err := n.Reset(true, 0); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}
