package dfu

import "time"

// DFU class requests (USB DFU 1.1, table 3.2).
const (
	ReqDetach    = 0x00
	ReqDnload    = 0x01
	ReqUpload    = 0x02
	ReqGetStatus = 0x03
	ReqClrStatus = 0x04
	ReqGetState  = 0x05
	ReqAbort     = 0x06
)

// Control request type bytes: class request, interface recipient.
const (
	requestTypeOut = 0x21
	requestTypeIn  = 0xA1
)

// ST DfuSe vendor commands, sent as the first byte of a block 0 DNLOAD.
const (
	CmdSetAddressPointer = 0x21
	CmdErase             = 0x41
)

// State is the device-side DFU state reported by GETSTATUS. The host
// never sets it directly; it only issues requests and observes.
type State uint8

const (
	StateAppIdle           State = 0
	StateAppDetach         State = 1
	StateIdle              State = 2
	StateDnloadSync        State = 3
	StateDnBusy            State = 4
	StateDnloadIdle        State = 5
	StateManifestSync      State = 6
	StateManifest          State = 7
	StateManifestWaitReset State = 8
	StateUploadIdle        State = 9
	StateError             State = 10
)

// String returns the DFU specification name for the state.
func (s State) String() string {
	switch s {
	case StateAppIdle:
		return "appIDLE"
	case StateAppDetach:
		return "appDETACH"
	case StateIdle:
		return "dfuIDLE"
	case StateDnloadSync:
		return "dfuDNLOAD-SYNC"
	case StateDnBusy:
		return "dfuDNBUSY"
	case StateDnloadIdle:
		return "dfuDNLOAD-IDLE"
	case StateManifestSync:
		return "dfuMANIFEST-SYNC"
	case StateManifest:
		return "dfuMANIFEST"
	case StateManifestWaitReset:
		return "dfuMANIFEST-WAIT-RESET"
	case StateUploadIdle:
		return "dfuUPLOAD-IDLE"
	case StateError:
		return "dfuERROR"
	}
	return "UNKNOWN"
}

// Status error codes reported in the first byte of a GETSTATUS reply.
const (
	StatusOK          = 0x00
	StatusErrTarget   = 0x01
	StatusErrFile     = 0x02
	StatusErrWrite    = 0x03
	StatusErrErase    = 0x04
	StatusErrCheckErd = 0x05
	StatusErrProg     = 0x06
	StatusErrVerify   = 0x07
	StatusErrAddress  = 0x08
	StatusErrNotDone  = 0x09
	StatusErrFirmware = 0x0A
	StatusErrVendor   = 0x0B
	StatusErrUSBR     = 0x0C
	StatusErrPOR      = 0x0D
	StatusErrUnknown  = 0x0E
	StatusErrStalled  = 0x0F
)

// StatusMessage returns a human-readable message for a status code.
func StatusMessage(code byte) string {
	switch code {
	case StatusOK:
		return "no error"
	case StatusErrTarget:
		return "file is not targeted for this device"
	case StatusErrFile:
		return "file failed vendor verification"
	case StatusErrWrite:
		return "unable to write memory"
	case StatusErrErase:
		return "memory erase failed"
	case StatusErrCheckErd:
		return "memory erase check failed"
	case StatusErrProg:
		return "program memory write failed"
	case StatusErrVerify:
		return "programmed memory failed verification"
	case StatusErrAddress:
		return "address out of range"
	case StatusErrNotDone:
		return "received DNLOAD with unexpected length"
	case StatusErrFirmware:
		return "device firmware is corrupt"
	case StatusErrVendor:
		return "vendor-specific error"
	case StatusErrUSBR:
		return "unexpected USB reset"
	case StatusErrPOR:
		return "unexpected power on reset"
	case StatusErrStalled:
		return "device stalled an unexpected request"
	default:
		return "unknown error"
	}
}

// Defaults for ST DFU bootloaders.
const (
	// VendorID and ProductID identify the STM32 system bootloader in
	// DFU mode.
	VendorID  = 0x0483
	ProductID = 0xDF11

	// BaseAddress is the start of internal flash on STM32 parts.
	BaseAddress = 0x08000000

	// DefaultTransferSize is used when the functional descriptor is
	// absent or reports zero.
	DefaultTransferSize = 2048
)

const (
	// controlTimeout applies to every individual control transfer.
	controlTimeout = time.Second

	// minPollInterval is the floor for the device-reported poll delay.
	minPollInterval = 5 * time.Millisecond

	// readyTimeout bounds one WaitReady call. The protocol itself only
	// bounds individual polls, so a stuck device would otherwise hang
	// the host forever.
	readyTimeout = 30 * time.Second

	// abortRetryDelay is the pause between ABORT and the idle re-check
	// in PrepareIdle.
	abortRetryDelay = 5 * time.Millisecond
)
