package phy

import (
	"errors"
	"io"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/gmofishsauce/updiprog/internal/proglog"
)

// fakeLine simulates a half-duplex echo line: every Write is appended to
// an echo queue that the next Read(s) drain first, followed by whatever
// canned reply bytes the test queued up separately.
type fakeLine struct {
	echo   []byte
	replay []byte
	mode   *serial.Mode
	closed bool
}

func (f *fakeLine) Write(p []byte) (int, error) {
	f.echo = append(f.echo, p...)
	return len(p), nil
}

func (f *fakeLine) Read(p []byte) (int, error) {
	if len(f.echo) > 0 {
		n := copy(p, f.echo)
		f.echo = f.echo[n:]
		return n, nil
	}
	if len(f.replay) > 0 {
		n := copy(p, f.replay)
		f.replay = f.replay[n:]
		return n, nil
	}
	return 0, nil
}

func (f *fakeLine) ResetInputBuffer() error { return nil }

func (f *fakeLine) SetMode(mode *serial.Mode) error {
	f.mode = mode
	return nil
}

func (f *fakeLine) SetReadTimeout(t time.Duration) error { return nil }

func (f *fakeLine) Close() error {
	f.closed = true
	return nil
}

func newPhy(line *fakeLine) *Phy {
	return &Phy{
		port: line,
		name: "fake",
		baud: 115200,
		log:  proglog.New(nil, proglog.Silent),
	}
}

func TestSendConsumesEcho(t *testing.T) {
	line := &fakeLine{}
	p := newPhy(line)

	if err := p.Send([]byte{0x55, 0x01, 0x02}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(line.echo) != 0 {
		t.Errorf("echo queue not fully drained: %d bytes left", len(line.echo))
	}
}

func TestSendEchoMismatch(t *testing.T) {
	p := newPhy(&corruptingLine{})

	err := p.Send([]byte{0x55, 0xAA})
	if err == nil {
		t.Fatal("expected echo mismatch error")
	}
	var mismatch *EchoMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want *EchoMismatchError", err)
	}
	if mismatch.Offset != 1 {
		t.Errorf("mismatch offset = %d, want 1", mismatch.Offset)
	}
}

// corruptingLine echoes every byte but the last one faithfully, and
// flips the final byte, to exercise EchoMismatchError's offset field.
type corruptingLine struct {
	fakeLine
}

func (c *corruptingLine) Write(p []byte) (int, error) {
	echoed := make([]byte, len(p))
	copy(echoed, p)
	if len(echoed) > 0 {
		echoed[len(echoed)-1] ^= 0xFF
	}
	c.echo = append(c.echo, echoed...)
	return len(p), nil
}

func TestReceiveNoResponse(t *testing.T) {
	line := &fakeLine{}
	p := newPhy(line)

	_, err := p.Receive(4)
	if err == nil {
		t.Fatal("expected error reading from an empty line")
	}
}

func TestSendDoubleBreakRestoresMode(t *testing.T) {
	line := &fakeLine{}
	p := newPhy(line)
	p.baud = 115200

	if err := p.SendDoubleBreak(); err != nil {
		t.Fatalf("SendDoubleBreak: %v", err)
	}
	if line.mode == nil {
		t.Fatal("SetMode never called")
	}
	if line.mode.BaudRate != 115200 {
		t.Errorf("final baud = %d, want restored 115200", line.mode.BaudRate)
	}
}

func TestSendBreakWritesZeroByte(t *testing.T) {
	line := &fakeLine{}
	p := newPhy(line)

	if err := p.SendBreak(); err != nil {
		t.Fatalf("SendBreak: %v", err)
	}
}

func TestTransferReadsReplyAfterEcho(t *testing.T) {
	line := &fakeLine{replay: []byte{0x11, 0x22}}
	p := newPhy(line)

	reply, err := p.Transfer([]byte{0x55, 0x00}, 2)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if len(reply) != 2 || reply[0] != 0x11 || reply[1] != 0x22 {
		t.Errorf("reply = %v, want [0x11 0x22]", reply)
	}
}

func TestReadSIBClampsLength(t *testing.T) {
	line := &fakeLine{replay: make([]byte, maxSIBLen)}
	p := newPhy(line)

	sib, err := p.ReadSIB(1000)
	if err != nil {
		t.Fatalf("ReadSIB: %v", err)
	}
	if len(sib) != maxSIBLen {
		t.Errorf("len(sib) = %d, want %d", len(sib), maxSIBLen)
	}
}

func TestCloseReleasesLockAndPort(t *testing.T) {
	line := &fakeLine{}
	p := newPhy(line)
	released := false
	p.unlocker = func() { released = true }

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !released {
		t.Error("unlocker was not called")
	}
	if !line.closed {
		t.Error("underlying port was not closed")
	}
}

var _ io.Closer = (*fakeLine)(nil)
