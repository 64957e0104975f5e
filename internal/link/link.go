// Package link implements the UPDI opcode codec described in spec.md
// §4.2/§6: every frame starts with SYNC (0x55), and the instruction byte
// carries a 3-bit opcode family in bits 7..5 plus family-specific
// sub-fields in the low 5 bits. This package only knows how to build and
// exchange those frames over a PHY; it has no idea what a chip-state
// machine or an NVM controller is — that's internal/app and internal/nvm.
package link

import (
	"fmt"

	"github.com/gmofishsauce/updiprog/internal/phy"
	"github.com/gmofishsauce/updiprog/internal/proglog"
)

// AddressWidth selects 16- or 24-bit direct addressing. It is a per-device
// property, discovered once from the SIB's NVM revision field and
// threaded through every direct-addressed opcode rather than duplicating
// opcode functions per width (spec.md §9, "address-width polymorphism").
type AddressWidth int

const (
	Width16 AddressWidth = iota
	Width24
)

const (
	sync byte = 0x55
	ack  byte = 0x40

	famLDS    byte = 0x00
	famLD     byte = 0x20
	famSTS    byte = 0x40
	famST     byte = 0x60
	famLDCS   byte = 0x80
	famREPEAT byte = 0xA0
	famSTCS   byte = 0xC0
	famKEY    byte = 0xE0

	addrWidth16 byte = 0x00 << 2
	addrWidth24 byte = 0x02 << 2

	dataWidth8  byte = 0x00
	dataWidth16 byte = 0x01

	ptrDeref byte = 0x00 << 2
	ptrInc   byte = 0x01 << 2
	ptrSet   byte = 0x02 << 2

	repeatByte byte = 0x00
	repeatWord byte = 0x01

	keyKey byte = 0x00
	keySIB byte = 0x04

	sib16Bytes byte = 0x01
)

// MaxByteRepeat and MaxWordRepeat are the largest counts a single REPEAT
// prefix can carry: an 8-bit counter for byte mode (255 = 0xFF) and a
// 16-bit counter for word mode, the latter capped at the caller's
// discretion (see internal/app, which chunks well below 65535).
const (
	MaxByteRepeat = 255
	MaxWordRepeat = 65535
)

// Register addresses used only by Init/check, below the app layer's own
// device-status reads. link_set_init/link_check address STATUSA at wire
// value 0x8B (family LDCS, reg 0x0B) per spec.md §8's fixed scenario;
// statusB is read first at the neighboring address, same as the C
// reads StatusB before StatusA.
const (
	regCtrlA    byte = 0x02
	regCtrlB    byte = 0x03
	regStatusB  byte = 0x0A
	regStatusA  byte = 0x0B
	regAsiCtrlA byte = 0x09
)

const bitCtrlBCcDetDis = 3

// clkSel4M/8M/16M are ASI_CTRLA's internal-oscillator select values,
// chosen by baud the way link_set_init picks UPDI_ASI_CTRLA_CLKSEL_*.
const (
	clkSel4M  byte = 0x00
	clkSel8M  byte = 0x01
	clkSel16M byte = 0x02
)

// Baud ceilings for each oscillator selection, mirroring
// UPDI_BAUTRATE_IN_CLK_4M_MAX/8M_MAX/16M_MAX; the original's "max
// 0.9Mhz" log message is this package's baudClk16MMax.
const (
	baudClk4MMax  = 225000
	baudClk8MMax  = 450000
	baudClk16MMax = 900000
)

// defaultInitBaud is the fallback rate link_set_init negotiates at
// first, used only when the caller's requested baud exceeds what the
// 4MHz oscillator selection can drive, before CTRLA/ASI_CTRLA are set up
// at all.
const defaultInitBaud = 115200

// initRetries bounds the double-break retry loop Init runs, matching
// updi_datalink_init's fixed retry count of 3.
const initRetries = 3

// guardCycles maps a requested guard time (in the same units as CTRLA's
// GTVAL field, cycles) to the largest GTVAL encoding it satisfies,
// defaulting to 16 cycles the way link_set_init seeds val before its
// search loop.
var guardCycles = []struct {
	val    byte
	cycles int
}{
	{0x00, 128},
	{0x01, 64},
	{0x02, 32},
	{0x03, 16},
	{0x04, 8},
	{0x05, 4},
	{0x06, 2},
	{0x07, 1},
}

const gtval16Cycles byte = 0x03

// ProtocolNakError reports that an opcode which is supposed to end with
// an ACK byte (0x40) got something else instead.
type ProtocolNakError struct {
	Stage string
	Got   byte
}

func (e *ProtocolNakError) Error() string {
	return fmt.Sprintf("link: %s: expected ACK 0x40, got %#02x", e.Stage, e.Got)
}

// Link drives one PHY with a fixed address width.
type Link struct {
	phy   *phy.Phy
	width AddressWidth
	log   *proglog.Logger
}

// New wraps phy with the opcode codec. width is fixed for the life of
// this Link; callers that discover a P:2 device mid-session construct a
// new Link rather than mutating one in place.
func New(p *phy.Phy, width AddressWidth, log *proglog.Logger) *Link {
	return &Link{phy: p, width: width, log: log}
}

// SetWidth returns a Link identical to l but addressing with width w.
func (l *Link) SetWidth(w AddressWidth) *Link {
	return &Link{phy: l.phy, width: w, log: l.log}
}

func (l *Link) addrBytes(addr uint32) []byte {
	if l.width == Width24 {
		return []byte{byte(addr), byte(addr >> 8), byte(addr >> 16)}
	}
	return []byte{byte(addr), byte(addr >> 8)}
}

func (l *Link) addrWidthBits() byte {
	if l.width == Width24 {
		return addrWidth24
	}
	return addrWidth16
}

// LDCS loads an 8-bit control/status register. No ACK: the reply is the
// register value itself.
func (l *Link) LDCS(reg byte) (byte, error) {
	cmd := []byte{sync, famLDCS | (reg & 0x0F)}
	resp, err := l.phy.Transfer(cmd, 1)
	if err != nil {
		return 0, fmt.Errorf("link: ldcs %#x: %w", reg, err)
	}
	return resp[0], nil
}

// STCS stores an 8-bit control/status register. No ACK is expected.
func (l *Link) STCS(reg byte, value byte) error {
	cmd := []byte{sync, famSTCS | (reg & 0x0F), value}
	if err := l.phy.Send(cmd); err != nil {
		return fmt.Errorf("link: stcs %#x: %w", reg, err)
	}
	return nil
}

// LDS reads one byte from a direct address.
func (l *Link) LDS(addr uint32) (byte, error) {
	cmd := append([]byte{sync, famLDS | l.addrWidthBits() | dataWidth8}, l.addrBytes(addr)...)
	resp, err := l.phy.Transfer(cmd, 1)
	if err != nil {
		return 0, fmt.Errorf("link: lds %#x: %w", addr, err)
	}
	return resp[0], nil
}

// LDS16 reads one little-endian word from a direct address.
func (l *Link) LDS16(addr uint32) (uint16, error) {
	cmd := append([]byte{sync, famLDS | l.addrWidthBits() | dataWidth16}, l.addrBytes(addr)...)
	resp, err := l.phy.Transfer(cmd, 2)
	if err != nil {
		return 0, fmt.Errorf("link: lds16 %#x: %w", addr, err)
	}
	return uint16(resp[0]) | uint16(resp[1])<<8, nil
}

// STS writes one byte to a direct address. It is a two-phase transaction:
// the address phase must ACK before the data phase is sent, and the data
// phase must ACK in turn.
func (l *Link) STS(addr uint32, value byte) error {
	addrCmd := append([]byte{sync, famSTS | l.addrWidthBits() | dataWidth8}, l.addrBytes(addr)...)
	if err := l.expectAck(addrCmd, "sts address phase"); err != nil {
		return err
	}
	return l.expectAck([]byte{value}, "sts data phase")
}

// STS16 writes one little-endian word to a direct address.
func (l *Link) STS16(addr uint32, value uint16) error {
	addrCmd := append([]byte{sync, famSTS | l.addrWidthBits() | dataWidth16}, l.addrBytes(addr)...)
	if err := l.expectAck(addrCmd, "sts16 address phase"); err != nil {
		return err
	}
	return l.expectAck([]byte{byte(value), byte(value >> 8)}, "sts16 data phase")
}

// SetPointer loads the indirect pointer used by LoadIndirect/StoreIndirect.
func (l *Link) SetPointer(addr uint32) error {
	cmd := append([]byte{sync, famST | ptrSet | l.addrWidthBits()}, l.addrBytes(addr)...)
	return l.expectAck(cmd, "set pointer")
}

// LoadIndirect reads n bytes through the pointer with post-increment. It
// issues the opcode once; if the caller has armed a REPEAT prefix, the
// target streams back n bytes in response to that single opcode.
func (l *Link) LoadIndirect(n int) ([]byte, error) {
	cmd := []byte{sync, famLD | ptrInc | dataWidth8}
	out, err := l.phy.Transfer(cmd, n)
	if err != nil {
		return nil, fmt.Errorf("link: load indirect: %w", err)
	}
	return out, nil
}

// LoadIndirect16 reads n little-endian words through the pointer with
// post-increment by 2.
func (l *Link) LoadIndirect16(n int) ([]uint16, error) {
	cmd := []byte{sync, famLD | ptrInc | dataWidth16}
	raw, err := l.phy.Transfer(cmd, n*2)
	if err != nil {
		return nil, fmt.Errorf("link: load indirect16: %w", err)
	}
	words := make([]uint16, n)
	for i := range words {
		words[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	return words, nil
}

// StoreIndirect writes data through the pointer with post-increment,
// ACKing after every byte: the first byte rides on the opcode frame
// itself, every subsequent byte is its own ACK-protected transfer.
func (l *Link) StoreIndirect(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	cmd := []byte{sync, famST | ptrInc | dataWidth8, data[0]}
	if err := l.expectAck(cmd, "store indirect byte 0"); err != nil {
		return err
	}
	for i := 1; i < len(data); i++ {
		if err := l.expectAck([]byte{data[i]}, fmt.Sprintf("store indirect byte %d", i)); err != nil {
			return err
		}
	}
	return nil
}

// StoreIndirect16 writes words through the pointer with post-increment by
// 2, ACKing after every word.
func (l *Link) StoreIndirect16(data []uint16) error {
	if len(data) == 0 {
		return nil
	}
	cmd := []byte{sync, famST | ptrInc | dataWidth16, byte(data[0]), byte(data[0] >> 8)}
	if err := l.expectAck(cmd, "store indirect16 word 0"); err != nil {
		return err
	}
	for i := 1; i < len(data); i++ {
		w := data[i]
		if err := l.expectAck([]byte{byte(w), byte(w >> 8)}, fmt.Sprintf("store indirect16 word %d", i)); err != nil {
			return err
		}
	}
	return nil
}

// Repeat arms the 8-bit repeat counter so the next LD/ST opcode executes
// executions times (the wire value is executions-1). No reply is read:
// the repeat only affects the opcode that follows it.
func (l *Link) Repeat(executions int) error {
	if executions < 1 || executions > MaxByteRepeat {
		return fmt.Errorf("link: repeat count %d out of range [1, %d]", executions, MaxByteRepeat)
	}
	cmd := []byte{sync, famREPEAT | repeatByte, byte(executions - 1)}
	if err := l.phy.Send(cmd); err != nil {
		return fmt.Errorf("link: repeat: %w", err)
	}
	return nil
}

// Repeat16 arms the 16-bit repeat counter.
func (l *Link) Repeat16(executions int) error {
	if executions < 1 || executions > MaxWordRepeat {
		return fmt.Errorf("link: repeat16 count %d out of range [1, %d]", executions, MaxWordRepeat)
	}
	n := executions - 1
	cmd := []byte{sync, famREPEAT | repeatWord, byte(n), byte(n >> 8)}
	if err := l.phy.Send(cmd); err != nil {
		return fmt.Errorf("link: repeat16: %w", err)
	}
	return nil
}

// Key writes a 64-, 128- or 256-bit key. sizeExp is the datasheet's
// size_k field: wire length is 8 << sizeExp bytes. key is sent in
// reverse byte order, matching the original programmer's key transmission
// order.
func (l *Link) Key(sizeExp byte, key []byte) error {
	want := 8 << sizeExp
	if len(key) != want {
		return fmt.Errorf("link: key: got %d bytes, want %d for size_k=%d", len(key), want, sizeExp)
	}
	cmd := []byte{sync, famKEY | keyKey | sizeExp}
	if err := l.phy.Send(cmd); err != nil {
		return fmt.Errorf("link: key: %w", err)
	}
	for i := len(key) - 1; i >= 0; i-- {
		if err := l.phy.SendByte(key[i]); err != nil {
			return fmt.Errorf("link: key byte %d: %w", i, err)
		}
	}
	return nil
}

// ReadSIB requests the System Information Block. It delegates straight
// to the PHY layer, which owns the SIB command frame directly (see
// internal/phy's doc comment on sibCommand for why).
func (l *Link) ReadSIB(length int) ([]byte, error) {
	return l.phy.ReadSIB(length)
}

// Init negotiates the UPDI link per spec.md §4.2's Initialisation
// paragraph: disable collision detect, set the guard-time field and
// clock-select bits appropriate for baud, switch the PHY to the final
// baud, then confirm the target answers on STATUSB/STATUSA. On failure
// it issues a double-break and retries, bounded by initRetries, matching
// updi_datalink_init's retry loop around link_set_init/link_check.
func (l *Link) Init(baud, guardMs int) error {
	var err error
	for attempt := 0; attempt < initRetries; attempt++ {
		if err = l.setInit(baud, guardMs); err == nil {
			if err = l.check(); err == nil {
				return nil
			}
		}
		l.log.Debugf("link: init attempt %d failed: %v", attempt, err)
		if attempt < initRetries-1 {
			if derr := l.phy.SendDoubleBreak(); derr != nil {
				return fmt.Errorf("link: init: double break: %w", derr)
			}
		}
	}
	return fmt.Errorf("link: init: %w", err)
}

// setInit is link_set_init: disable collision detection, program the
// guard time and clock select, then switch to the requested baud.
func (l *Link) setInit(baud, guardMs int) error {
	first := baud
	if baud > baudClk4MMax {
		first = defaultInitBaud
	}
	if err := l.phy.SetBaud(first); err != nil {
		return fmt.Errorf("link: set init: initial baud: %w", err)
	}

	if err := l.STCS(regCtrlB, 1<<bitCtrlBCcDetDis); err != nil {
		return fmt.Errorf("link: set init: disable collision detect: %w", err)
	}

	if err := l.STCS(regCtrlA, guardTimeField(guardMs)); err != nil {
		return fmt.Errorf("link: set init: guard time: %w", err)
	}

	clksel, err := clockSelect(baud)
	if err != nil {
		return err
	}
	cur, err := l.LDCS(regAsiCtrlA)
	if err != nil {
		return fmt.Errorf("link: set init: read clock select: %w", err)
	}
	if cur != clksel {
		if err := l.STCS(regAsiCtrlA, clksel); err != nil {
			return fmt.Errorf("link: set init: write clock select: %w", err)
		}
	}

	if err := l.phy.SetBaud(baud); err != nil {
		return fmt.Errorf("link: set init: final baud: %w", err)
	}
	return nil
}

// check is link_check: read STATUSB (warn on a nonzero error code) then
// STATUSA, which must be nonzero for the link to be considered ready.
func (l *Link) check() error {
	statusB, err := l.LDCS(regStatusB)
	if err != nil {
		return fmt.Errorf("link: check: read statusb: %w", err)
	}
	if statusB != 0 {
		l.log.Warnf("link: check: statusb error %#02x, may need a break", statusB)
	}

	statusA, err := l.LDCS(regStatusA)
	if err != nil {
		return fmt.Errorf("link: check: read statusa: %w", err)
	}
	if statusA == 0 {
		return fmt.Errorf("link: check: statusa not ready, reinitialisation required")
	}
	l.log.Debugf("link: check: statusa %#02x", statusA)
	return nil
}

// guardTimeField picks the largest GTVAL cycle count guardMs satisfies,
// defaulting to 16 cycles if none does (the same default link_set_init
// seeds before its search loop).
func guardTimeField(guardMs int) byte {
	val := gtval16Cycles
	for _, g := range guardCycles {
		if guardMs >= g.cycles {
			val = g.val
			break
		}
	}
	return val
}

// clockSelect picks the internal-oscillator select value for baud, or
// an error if baud exceeds what any selection supports.
func clockSelect(baud int) (byte, error) {
	switch {
	case baud <= baudClk4MMax:
		return clkSel4M, nil
	case baud <= baudClk8MMax:
		return clkSel8M, nil
	case baud <= baudClk16MMax:
		return clkSel16M, nil
	default:
		return 0, fmt.Errorf("link: set init: unsupported baud %d, max %d", baud, baudClk16MMax)
	}
}

func (l *Link) expectAck(cmd []byte, stage string) error {
	resp, err := l.phy.Transfer(cmd, 1)
	if err != nil {
		return fmt.Errorf("link: %s: %w", stage, err)
	}
	if resp[0] != ack {
		return &ProtocolNakError{Stage: stage, Got: resp[0]}
	}
	return nil
}
