package dfu

import (
	"fmt"
	"time"
)

// statusLen is the size of a GETSTATUS reply.
const statusLen = 6

// Status is the transient snapshot a GETSTATUS request returns. It is
// never cached; the state machine re-reads it on every poll.
type Status struct {
	Status      byte
	State       State
	PollTimeout time.Duration
}

// OK reports whether the device signalled no error.
func (s Status) OK() bool {
	return s.Status == StatusOK
}

// decodeStatus parses a 6-byte GETSTATUS reply: status byte, 24-bit
// little-endian poll timeout in milliseconds, state byte, string index.
func decodeStatus(buf []byte) (Status, error) {
	if len(buf) != statusLen {
		return Status{}, fmt.Errorf("GETSTATUS reply is %d bytes, want %d", len(buf), statusLen)
	}
	ms := uint32(buf[1]) | uint32(buf[2])<<8 | uint32(buf[3])<<16
	return Status{
		Status:      buf[0],
		State:       State(buf[4]),
		PollTimeout: time.Duration(ms) * time.Millisecond,
	}, nil
}

// setAddressPayload encodes the DfuSe Set-Address-Pointer command.
func setAddressPayload(addr uint32) []byte {
	return []byte{
		CmdSetAddressPointer,
		byte(addr),
		byte(addr >> 8),
		byte(addr >> 16),
		byte(addr >> 24),
	}
}

// erasePagePayload encodes a page erase at the given address.
func erasePagePayload(addr uint32) []byte {
	return []byte{
		CmdErase,
		byte(addr),
		byte(addr >> 8),
		byte(addr >> 16),
		byte(addr >> 24),
	}
}

// massErasePayload encodes a full-chip erase. Older bootloader variants
// want the bare one-byte form instead.
func massErasePayload(short bool) []byte {
	if short {
		return []byte{CmdErase}
	}
	return []byte{CmdErase, 0xFF, 0xFF}
}
