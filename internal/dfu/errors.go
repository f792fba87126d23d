package dfu

import (
	"errors"
	"fmt"
)

// ErrDeviceGone reports that the device dropped off the bus mid-request.
// Transport implementations map their platform error onto this sentinel
// so WaitReady can tell a manifest-phase disconnect from a real failure.
var ErrDeviceGone = errors.New("dfu: device disconnected")

// ErrReadyTimeout reports that the device never converged on a stable
// state within the WaitReady ceiling.
var ErrReadyTimeout = errors.New("dfu: timed out waiting for device to become ready")

// FaultError is returned when the device reports a nonzero status or
// enters dfuERROR. It carries the raw codes for diagnostics.
type FaultError struct {
	Status byte
	State  State
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("dfu: device fault: status 0x%02X (%s) in state %s",
		e.Status, StatusMessage(e.Status), e.State)
}

// AddressError is returned when a write or erase target falls outside
// every flash segment the device declared.
type AddressError struct {
	Address uint32
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("dfu: address 0x%08X is outside every declared flash segment", e.Address)
}

// TransferError wraps a failed or short control transfer.
type TransferError struct {
	Op  string
	Err error
}

func (e *TransferError) Error() string {
	return "dfu: " + e.Op + ": " + e.Err.Error()
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
