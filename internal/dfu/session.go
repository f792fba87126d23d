// Package dfu drives an ST-style USB DFU bootloader: it issues the DFU
// class requests over a caller-supplied control transport, tracks the
// device-reported protocol state, and implements the DfuSe vendor
// commands (set address pointer, page erase, mass erase) used to
// program internal flash.
package dfu

import (
	"fmt"
	"time"

	"github.com/Gl0w1amp/Affine-IO/internal/memlayout"
)

// Transport performs synchronous USB control transfers against the
// claimed DFU interface. *usbdev.Device implements it; tests supply a
// simulated device. Implementations must surface ErrDeviceGone (via
// errors.Is) when the device drops off the bus.
type Transport interface {
	ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)
}

// Session holds the per-flash-operation device state. It is owned by a
// single flash operation and must not be shared; flashing several
// devices at once takes one Session each.
type Session struct {
	Transport Transport

	// Interface is the DFU interface number, sent as wIndex on every
	// request.
	Interface uint8

	// TransferSize is the negotiated maximum DNLOAD payload. Zero
	// means DefaultTransferSize.
	TransferSize uint16

	// Layout is the flash layout parsed from the alt-setting name. An
	// empty layout disables page-targeted erasing.
	Layout memlayout.Layout

	lastErasedPage uint32
	haveErasedPage bool
	massErased     bool
}

// ChunkSize returns the usable per-block payload size.
func (s *Session) ChunkSize() int {
	if s.TransferSize == 0 {
		return DefaultTransferSize
	}
	return int(s.TransferSize)
}

// MassErased reports whether the whole chip was erased this session.
func (s *Session) MassErased() bool {
	return s.massErased
}

// GetStatus reads the device's current status, state and poll timeout.
func (s *Session) GetStatus() (Status, error) {
	buf := make([]byte, statusLen)
	n, err := s.Transport.ControlTransfer(requestTypeIn, ReqGetStatus, 0, uint16(s.Interface), buf, controlTimeout)
	if err != nil {
		return Status{}, &TransferError{Op: "GETSTATUS", Err: err}
	}
	if n != statusLen {
		return Status{}, &TransferError{Op: "GETSTATUS", Err: fmt.Errorf("short reply: %d bytes", n)}
	}
	st, err := decodeStatus(buf)
	if err != nil {
		return Status{}, &TransferError{Op: "GETSTATUS", Err: err}
	}
	return st, nil
}

// ClearStatus acknowledges a device-reported error, moving the device
// from dfuERROR back to dfuIDLE.
func (s *Session) ClearStatus() error {
	_, err := s.Transport.ControlTransfer(requestTypeOut, ReqClrStatus, 0, uint16(s.Interface), nil, controlTimeout)
	if err != nil {
		return &TransferError{Op: "CLRSTATUS", Err: err}
	}
	return nil
}

// Abort asks the device to return to dfuIDLE from any transfer state.
func (s *Session) Abort() error {
	_, err := s.Transport.ControlTransfer(requestTypeOut, ReqAbort, 0, uint16(s.Interface), nil, controlTimeout)
	if err != nil {
		return &TransferError{Op: "ABORT", Err: err}
	}
	return nil
}

// download issues a raw DNLOAD request without waiting for the device
// to finish processing it.
func (s *Session) download(block uint16, data []byte) error {
	n, err := s.Transport.ControlTransfer(requestTypeOut, ReqDnload, block, uint16(s.Interface), data, controlTimeout)
	if err != nil {
		return &TransferError{Op: "DNLOAD", Err: err}
	}
	if n != len(data) {
		return &TransferError{Op: "DNLOAD", Err: fmt.Errorf("wrote %d of %d bytes", n, len(data))}
	}
	return nil
}
