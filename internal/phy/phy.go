// Package phy owns the serial port for a single UPDI session: framing,
// echo consumption, guard time and the BREAK/double-BREAK resynchronise
// gestures described in spec.md §4.1. TX and RX are tied together through
// a resistor on the target hardware, so every byte the host writes comes
// back on RX before any real reply does; Send drains that echo itself so
// every caller above this layer only ever sees reply bytes.
package phy

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/gmofishsauce/updiprog/internal/proglog"
)

// Break is the wire value of a BREAK frame: a zero byte that, held at a
// slow enough baud rate, pulls the line low for longer than one normal
// frame.
const Break byte = 0x00

// doubleBreakBaud, with one stop bit, holds the line low for roughly 30ms
// per BREAK byte, comfortably above the ~24.6ms the
// target's state machine requires to resynchronise.
const doubleBreakBaud = 300

// readTimeout bounds a single Read call; spec.md §5 calls for roughly
// 100ms inter-byte / 1000ms overall, so this sits between those. A read
// that times out is not retried here: wait_unlocked's poll loop keeps
// polling after one, while wait_flash_ready returns it as an error.
const readTimeout = 200 * time.Millisecond

// EchoMismatchError reports that a byte read back after a send did not
// match what was sent — the PHY-level failure mode spec.md §7 calls
// EchoMismatch. It is never retried at this layer.
type EchoMismatchError struct {
	Offset   int
	Expected byte
	Got      byte
}

func (e *EchoMismatchError) Error() string {
	return fmt.Sprintf("phy: echo mismatch at offset %d: sent %#02x, read back %#02x", e.Offset, e.Expected, e.Got)
}

// port is the slice of go.bug.st/serial.Port this package actually
// drives. Naming it narrowly (rather than holding a serial.Port
// directly) lets tests substitute a fake half-duplex echo line without
// depending on the real serial backend.
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetMode(mode *serial.Mode) error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// RawPort is port's exported equivalent, used by Wrap. It exists so
// packages layered on top of phy (link, app, nvm) can drive a Phy over a
// fake half-duplex line in their own tests without importing the real
// serial backend.
type RawPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetMode(mode *serial.Mode) error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Wrap builds a Phy directly over an already-open port, skipping Open's
// device-path handling, mode configuration and advisory locking. It is
// meant for tests.
func Wrap(p RawPort, baud, guardMs int, log *proglog.Logger) *Phy {
	return &Phy{port: p, name: "wrapped", baud: baud, guardMs: guardMs, log: log}
}

// Phy drives one serial port for the lifetime of a session.
type Phy struct {
	port     port
	name     string
	baud     int
	guardMs  int
	log      *proglog.Logger
	unlocker func() // released on Close; no-op unless advisory-locked
}

// Open configures the named serial port at 8E2 (8 data bits, even parity,
// 2 stop bits) and the given
// baud rate, takes an advisory exclusive lock on it (see lock_unix.go /
// lock_other.go), and returns a ready-to-use Phy. guardMs is the
// inter-byte delay inserted after each Send; spec.md §4.1 allows zero.
func Open(name string, baud int, guardMs int, log *proglog.Logger) (*Phy, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.TwoStopBits,
	}

	sp, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("phy: open %s: %w", name, err)
	}

	unlock, err := lockPort(name)
	if err != nil {
		sp.Close()
		return nil, err
	}

	if err := sp.SetReadTimeout(readTimeout); err != nil {
		unlock()
		sp.Close()
		return nil, fmt.Errorf("phy: set read timeout: %w", err)
	}

	p := &Phy{port: sp, name: name, baud: baud, guardMs: guardMs, log: log, unlocker: unlock}
	log.Infof("phy: opened %s at %d baud", name, baud)
	return p, nil
}

// Close releases the advisory lock and closes the underlying port.
func (p *Phy) Close() error {
	if p.unlocker != nil {
		p.unlocker()
	}
	return p.port.Close()
}

// SetBaud reconfigures the port's baud rate without touching data bits,
// parity or stop bits.
func (p *Phy) SetBaud(baud int) error {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.TwoStopBits,
	}
	if err := p.port.SetMode(mode); err != nil {
		return fmt.Errorf("phy: set baud %d: %w", baud, err)
	}
	p.baud = baud
	return nil
}

// SendBreak writes one BREAK byte at the operational baud rate.
func (p *Phy) SendBreak() error {
	p.log.Debugf("phy: send break")
	return p.Send([]byte{Break})
}

// SendDoubleBreak reconfigures the line to 300 baud / 1 stop bit / even
// parity, sends two BREAK bytes (holding the line low for ~30ms each),
// then restores the operational settings. Used to forcibly resynchronise
// a target that has fallen out of step with the host.
func (p *Phy) SendDoubleBreak() error {
	p.log.Debugf("phy: send double break")

	saved := &serial.Mode{BaudRate: p.baud, DataBits: 8, Parity: serial.EvenParity, StopBits: serial.TwoStopBits}
	lowMode := &serial.Mode{BaudRate: doubleBreakBaud, DataBits: 8, Parity: serial.EvenParity, StopBits: serial.OneStopBit}

	if err := p.port.SetMode(lowMode); err != nil {
		return fmt.Errorf("phy: double break: set low-baud mode: %w", err)
	}

	sendErr := p.Send([]byte{Break, Break})

	if err := p.port.SetMode(saved); err != nil {
		return fmt.Errorf("phy: double break: restore mode: %w", err)
	}
	if sendErr != nil {
		return fmt.Errorf("phy: double break: %w", sendErr)
	}
	return nil
}

// Send writes data to the port and consumes exactly len(data) echoed
// bytes, failing with *EchoMismatchError at the first byte that doesn't
// match. It flushes any stale input first so a prior exchange's
// leftovers can never be mistaken for this send's echo.
func (p *Phy) Send(data []byte) error {
	p.log.Wiref("phy: send % 02x", data)

	if err := p.port.ResetInputBuffer(); err != nil {
		p.log.Warnf("phy: reset input buffer: %v", err)
	}

	if err := p.writeAll(data); err != nil {
		return fmt.Errorf("phy: write: %w", err)
	}

	echo, err := p.readAll(len(data))
	if err != nil {
		return fmt.Errorf("phy: read echo: %w", err)
	}
	for i := range data {
		if data[i] != echo[i] {
			return &EchoMismatchError{Offset: i, Expected: data[i], Got: echo[i]}
		}
	}

	if p.guardMs > 0 {
		time.Sleep(time.Duration(p.guardMs) * time.Millisecond)
	}
	return nil
}

// SendByte is a one-byte convenience wrapper around Send.
func (p *Phy) SendByte(b byte) error {
	return p.Send([]byte{b})
}

// Receive reads exactly n reply bytes (after any echo has already been
// drained by a prior Send).
func (p *Phy) Receive(n int) ([]byte, error) {
	buf, err := p.readAll(n)
	if err != nil {
		return nil, fmt.Errorf("phy: receive: %w", err)
	}
	p.log.Wiref("phy: recv % 02x", buf)
	return buf, nil
}

// ReceiveByte reads and returns a single reply byte.
func (p *Phy) ReceiveByte() (byte, error) {
	buf, err := p.Receive(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Transfer sends out, drains its echo, then reads and returns inLen
// reply bytes. This is the shape every LINK opcode uses: write the
// opcode frame, consume the echo, read whatever fixed-length reply the
// opcode defines.
func (p *Phy) Transfer(out []byte, inLen int) ([]byte, error) {
	if err := p.Send(out); err != nil {
		return nil, err
	}
	return p.Receive(inLen)
}

// sibCommand is the KEY-opcode variant that requests the System
// Information Block. It is issued directly at the PHY layer (not routed
// through the opcode codec in internal/link) because the original
// programmer does the same: physical.c's phy_sib() builds this exact
// frame itself rather than calling into link.c.
var sibCommand = []byte{0x55, 0xE5 /* KEY | SIB | 16 bytes */}

// maxSIBLen is the largest System Information Block the target ever
// returns.
const maxSIBLen = 16

// ReadSIB requests and returns the System Information Block, truncated
// to maxSIBLen bytes if a caller asks for more.
func (p *Phy) ReadSIB(length int) ([]byte, error) {
	if length > maxSIBLen {
		length = maxSIBLen
	}
	buf, err := p.Transfer(sibCommand, length)
	if err != nil {
		return nil, fmt.Errorf("phy: read SIB: %w", err)
	}
	return buf, nil
}

func (p *Phy) writeAll(data []byte) error {
	total := 0
	for total < len(data) {
		n, err := p.port.Write(data[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

func (p *Phy) readAll(n int) ([]byte, error) {
	buf := make([]byte, n)
	total := 0
	for total < n {
		read, err := p.port.Read(buf[total:])
		if err != nil {
			return nil, err
		}
		if read == 0 {
			return nil, fmt.Errorf("no response after %v", readTimeout)
		}
		total += read
	}
	return buf, nil
}
