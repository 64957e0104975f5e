package app

// Control/status register addresses, accessible via the one-byte
// LDCS/STCS opcodes. constants.h from the original tree wasn't part of
// the retrieval pack; these mirror Microchip's published UPDI register
// map (the same addresses application.c references by name:
// UPDI_CS_STATUSA, UPDI_ASI_SYS_STATUS, UPDI_ASI_KEY_STATUS,
// UPDI_ASI_RESET_REQ, UPDI_CS_CTRLB).
const (
	regStatusA    byte = 0x00
	regStatusB    byte = 0x01
	regCtrlA      byte = 0x02
	regCtrlB      byte = 0x03
	regAsiKeyStat byte = 0x07
	regAsiReset   byte = 0x08
	regAsiSysStat byte = 0x0B
)

const (
	bitCtrlBUpdiDis   = 2
	bitCtrlBCcDetDis  = 3
	bitSysStatLock    = 0
	bitSysStatNVMProg = 3
	bitKeyStatErase   = 3
	bitKeyStatNVMProg = 4
)

const resetReqValue byte = 0x59

// 8-byte ASCII key phrases. Sent over the wire in reverse byte order by
// link.Key (see internal/link).
var (
	keyNVM       = []byte("NVMProg ")
	keyChipErase = []byte("NVMErase")
)

const keySize64 byte = 0 // size_k: wire length is 8 << size_k bytes

// NVMCTRL register offsets from the device's NVM controller base
// address, shared by both controller generations.
const (
	nvmctrlCtrlA byte = 0x00
	nvmctrlStat  byte = 0x02
	nvmctrlDataL byte = 0x06
	nvmctrlAddrL byte = 0x08
)

const (
	nvmStatusFlashBusy  = 0
	nvmStatusEepromBusy = 1
	nvmStatusWriteError = 2
)

// v0 NVM controller commands (page-buffered: CTRLA selects an operation
// that acts on a staging buffer filled by direct writes).
const (
	nvmV0CmdNop             byte = 0x00
	nvmV0CmdWritePage       byte = 0x01
	nvmV0CmdErasePage       byte = 0x02
	nvmV0CmdEraseWritePage  byte = 0x03
	nvmV0CmdPageBufferClear byte = 0x04
	nvmV0CmdChipErase       byte = 0x05
	nvmV0CmdEraseEeprom     byte = 0x06
	nvmV0CmdWriteFuse       byte = 0x07
)

// v1 NVM controller commands (direct-write: CTRLA selects an operation
// that takes effect as data is written, no staging buffer).
const (
	nvmV1CmdNoCmd             byte = 0x00
	nvmV1CmdFlashWrite        byte = 0x01
	nvmV1CmdFlashPageErase    byte = 0x08
	nvmV1CmdEepromWrite       byte = 0x12
	nvmV1CmdEepromEraseWrite  byte = 0x13
	nvmV1CmdEepromByte32Erase byte = 0x14
	nvmV1CmdChipErase         byte = 0x20
)

// Default timeouts, in milliseconds, per spec.md §5.
const (
	defaultWaitUnlockedMs   = 100
	defaultWaitFlashReadyMs = 1000
)

// MaxByteBurst and MaxWordBurst cap how many elements a single
// REPEAT-prefixed LD/ST burst may move: 255 for byte-mode transfers (an
// 8-bit repeat counter) and a separate, smaller 126 for word-mode
// transfers. Both caps are preserved as distinct constants per spec.md
// §9's Open Question (b) rather than derived from one another.
const (
	MaxByteBurst = 255
	MaxWordBurst = 126
)
