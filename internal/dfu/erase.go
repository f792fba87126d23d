package dfu

import "context"

// EnsureErased erases every flash page the half-open range
// [addr, addr+length) touches, skipping a page when it was the one most
// recently erased this session. Consecutive chunks of a linear write
// share page boundaries, so the dedup makes erasing idempotent across
// the write loop. With an unknown layout or after a mass erase this is
// a no-op. An address outside every segment is an AddressError: the
// image would write past the declared flash.
func (s *Session) EnsureErased(ctx context.Context, addr, length uint32) error {
	if !s.Layout.Known() || s.massErased || length == 0 {
		return nil
	}

	end := uint64(addr) + uint64(length)
	for a := uint64(addr); a < end; {
		seg, ok := s.Layout.FindSegment(uint32(a))
		if !ok {
			return &AddressError{Address: uint32(a)}
		}

		page := seg.PageBase(uint32(a))
		if !s.haveErasedPage || s.lastErasedPage != page {
			if err := s.ErasePage(ctx, page); err != nil {
				return err
			}
			s.lastErasedPage = page
			s.haveErasedPage = true
		}

		a = uint64(page) + uint64(seg.PageSize)
	}

	return nil
}
