package main

import (
	"errors"

	"github.com/gmofishsauce/updiprog/internal/app"
	"github.com/gmofishsauce/updiprog/internal/cfgblock"
	"github.com/gmofishsauce/updiprog/internal/infoblock"
	"github.com/gmofishsauce/updiprog/internal/link"
	"github.com/gmofishsauce/updiprog/internal/nvm"
	"github.com/gmofishsauce/updiprog/internal/phy"
)

// Exit codes are the small negative integers spec.md §7 calls for, one
// per taxonomy entry. 0 is success; the CLI boundary is the only place
// these get collapsed out of their typed error form.
const (
	exitOK              = 0
	exitInvalidArgument = -1
	exitIo              = -2
	exitEchoMismatch    = -3
	exitProtocolNak     = -4
	exitTimeout         = -5
	exitLocked          = -6
	exitOutOfRange      = -7
	exitCrcMismatch     = -8
	exitDeviceError     = -9
)

// invalidArgumentError marks a CLI-level problem (missing/unknown flag)
// rather than anything the protocol stack itself produced.
type invalidArgumentError struct{ reason string }

func (e *invalidArgumentError) Error() string { return e.reason }

// exitCodeForError classifies err against every typed error the stack
// defines and returns the matching exit code, or exitIo for anything
// else (serial open/read/write failures never get their own named type
// below phy.EchoMismatchError, so they fall through to the generic Io
// bucket, matching spec.md §7's "Io — serial open/read/write failed").
func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}

	var invalidArg *invalidArgumentError
	var echo *phy.EchoMismatchError
	var nak *link.ProtocolNakError
	var timeout *app.TimeoutError
	var locked *app.LockedError
	var devErr *app.DeviceErrorStatus
	var oor *nvm.OutOfRangeError
	var crcInfo *infoblock.CrcMismatchError
	var crcCfg *cfgblock.CrcMismatchError

	switch {
	case errors.As(err, &invalidArg):
		return exitInvalidArgument
	case errors.As(err, &echo):
		return exitEchoMismatch
	case errors.As(err, &nak):
		return exitProtocolNak
	case errors.As(err, &timeout):
		return exitTimeout
	case errors.As(err, &locked):
		return exitLocked
	case errors.As(err, &devErr):
		return exitDeviceError
	case errors.As(err, &oor):
		return exitOutOfRange
	case errors.As(err, &crcInfo):
		return exitCrcMismatch
	case errors.As(err, &crcCfg):
		return exitCrcMismatch
	default:
		return exitIo
	}
}
