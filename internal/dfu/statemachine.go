package dfu

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WaitReady polls GETSTATUS until the device settles in an idle state.
// With allowManifest set, manifest-phase states and a device that drops
// off the bus both count as success: after the final zero-length DNLOAD
// the bootloader legitimately disconnects while applying the image. A
// nonzero status or dfuERROR is acknowledged with CLRSTATUS and
// reported as a FaultError. The loop sleeps for the device-reported
// poll timeout between attempts and gives up after a fixed ceiling.
func (s *Session) WaitReady(ctx context.Context, allowManifest bool) error {
	deadline := time.Now().Add(readyTimeout)

	for {
		st, err := s.GetStatus()
		if err != nil {
			if errors.Is(err, ErrDeviceGone) {
				if allowManifest {
					return nil
				}
				return err
			}
			return err
		}

		if !st.OK() {
			s.ClearStatus()
			return &FaultError{Status: st.Status, State: st.State}
		}

		switch st.State {
		case StateIdle, StateDnloadIdle:
			return nil
		case StateManifestSync, StateManifest, StateManifestWaitReset:
			if allowManifest {
				return nil
			}
			return fmt.Errorf("dfu: device entered %s before the transfer finished", st.State)
		case StateError:
			s.ClearStatus()
			return &FaultError{Status: st.Status, State: StateError}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w (state %s)", ErrReadyTimeout, st.State)
		}

		wait := st.PollTimeout
		if wait < minPollInterval {
			wait = minPollInterval
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// PrepareIdle brings the device to an idle state, recovering once from
// a device left mid-transaction by a previous aborted run: on failure
// it issues ABORT, waits briefly and checks again.
func (s *Session) PrepareIdle(ctx context.Context) error {
	err := s.WaitReady(ctx, true)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	s.Abort()
	if err := sleep(ctx, abortRetryDelay); err != nil {
		return err
	}
	return s.WaitReady(ctx, true)
}

// DownloadBlock sends one DNLOAD block and waits for the device to
// finish processing it. Block 0 carries vendor commands; a zero-length
// payload tells the device the transfer is over and is the only block
// that may converge on a manifest state.
func (s *Session) DownloadBlock(ctx context.Context, block uint16, data []byte, allowManifest bool) error {
	if err := s.download(block, data); err != nil {
		if allowManifest && errors.Is(err, ErrDeviceGone) {
			return nil
		}
		return err
	}
	return s.WaitReady(ctx, allowManifest)
}

// SetAddressPointer points the bootloader's write cursor at addr. The
// pointer is not preserved across other blocks, so the caller re-issues
// this before every data block.
func (s *Session) SetAddressPointer(ctx context.Context, addr uint32) error {
	if err := s.DownloadBlock(ctx, 0, setAddressPayload(addr), false); err != nil {
		return fmt.Errorf("set address 0x%08X: %w", addr, err)
	}
	return nil
}

// ErasePage erases the flash page starting at addr.
func (s *Session) ErasePage(ctx context.Context, addr uint32) error {
	if err := s.DownloadBlock(ctx, 0, erasePagePayload(addr), false); err != nil {
		return fmt.Errorf("erase page 0x%08X: %w", addr, err)
	}
	return nil
}

// MassErase erases the entire flash region and forgets any page-erase
// history. Short selects the one-byte command variant some older
// bootloaders require.
func (s *Session) MassErase(ctx context.Context, short bool) error {
	if err := s.DownloadBlock(ctx, 0, massErasePayload(short), false); err != nil {
		return fmt.Errorf("mass erase: %w", err)
	}
	s.massErased = true
	s.haveErasedPage = false
	return nil
}

// Finalize sends the zero-length DNLOAD that moves the device into the
// manifest phase, where it validates and applies the received image.
func (s *Session) Finalize(ctx context.Context) error {
	if err := s.DownloadBlock(ctx, 0, nil, true); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

// sleep pauses for d unless the context is cancelled first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
