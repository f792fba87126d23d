package dfu

import (
	"context"
	"errors"
	"testing"

	"github.com/Gl0w1amp/Affine-IO/internal/memlayout"
)

// eraseAddrs extracts the page addresses of all erase commands the
// transport recorded.
func eraseAddrs(f *fakeTransport) []uint32 {
	var out []uint32
	for _, r := range f.dnloads() {
		if r.value == 0 && len(r.data) == 5 && r.data[0] == CmdErase {
			addr := uint32(r.data[1]) | uint32(r.data[2])<<8 | uint32(r.data[3])<<16 | uint32(r.data[4])<<24
			out = append(out, addr)
		}
	}
	return out
}

func eraseSession(f *fakeTransport) *Session {
	return &Session{
		Transport:    f,
		TransferSize: 1024,
		Layout:       memlayout.Parse("0x08000000/16*001Kg"),
	}
}

func TestEnsureErased_WalksPages(t *testing.T) {
	f := &fakeTransport{}
	s := eraseSession(f)

	if err := s.EnsureErased(context.Background(), 0x08000000, 2048); err != nil {
		t.Fatalf("EnsureErased returned %v", err)
	}

	addrs := eraseAddrs(f)
	expected := []uint32{0x08000000, 0x08000400}
	if len(addrs) != len(expected) {
		t.Fatalf("erased %d pages (%v), want %v", len(addrs), addrs, expected)
	}
	for i := range expected {
		if addrs[i] != expected[i] {
			t.Errorf("erase %d at 0x%08X, want 0x%08X", i, addrs[i], expected[i])
		}
	}
}

func TestEnsureErased_SamePageOnlyOnce(t *testing.T) {
	f := &fakeTransport{}
	s := eraseSession(f)

	// Two half-page chunks land in the same 1K page.
	if err := s.EnsureErased(context.Background(), 0x08000000, 512); err != nil {
		t.Fatalf("EnsureErased returned %v", err)
	}
	if err := s.EnsureErased(context.Background(), 0x08000200, 512); err != nil {
		t.Fatalf("EnsureErased returned %v", err)
	}

	if addrs := eraseAddrs(f); len(addrs) != 1 {
		t.Errorf("erased %d pages (%v), want 1", len(addrs), addrs)
	}
}

func TestEnsureErased_RepeatIsIdempotent(t *testing.T) {
	f := &fakeTransport{}
	s := eraseSession(f)

	for i := 0; i < 2; i++ {
		if err := s.EnsureErased(context.Background(), 0x08001000, 1024); err != nil {
			t.Fatalf("EnsureErased returned %v", err)
		}
	}

	if addrs := eraseAddrs(f); len(addrs) != 1 {
		t.Errorf("erased %d pages (%v), want 1", len(addrs), addrs)
	}
}

func TestEnsureErased_UnalignedChunkSpansPages(t *testing.T) {
	f := &fakeTransport{}
	s := eraseSession(f)

	// 256 bytes straddling a page boundary touch two pages.
	if err := s.EnsureErased(context.Background(), 0x08000380, 256); err != nil {
		t.Fatalf("EnsureErased returned %v", err)
	}

	addrs := eraseAddrs(f)
	expected := []uint32{0x08000000, 0x08000400}
	if len(addrs) != 2 || addrs[0] != expected[0] || addrs[1] != expected[1] {
		t.Errorf("erased %v, want %v", addrs, expected)
	}
}

func TestEnsureErased_AddressOutOfRange(t *testing.T) {
	f := &fakeTransport{}
	s := eraseSession(f)

	// The layout's only segment ends at 0x08004000, exclusive.
	err := s.EnsureErased(context.Background(), 0x08004000, 16)
	var addrErr *AddressError
	if !errors.As(err, &addrErr) {
		t.Fatalf("EnsureErased returned %v, want AddressError", err)
	}
	if addrErr.Address != 0x08004000 {
		t.Errorf("offending address = 0x%08X, want 0x08004000", addrErr.Address)
	}
}

func TestEnsureErased_UnknownLayoutIsNoop(t *testing.T) {
	f := &fakeTransport{}
	s := &Session{Transport: f, TransferSize: 1024}

	if err := s.EnsureErased(context.Background(), 0x08000000, 4096); err != nil {
		t.Fatalf("EnsureErased returned %v", err)
	}
	if len(f.reqs) != 0 {
		t.Errorf("issued %d requests with unknown layout, want 0", len(f.reqs))
	}
}

func TestEnsureErased_SkippedAfterMassErase(t *testing.T) {
	f := &fakeTransport{}
	s := eraseSession(f)

	if err := s.MassErase(context.Background(), false); err != nil {
		t.Fatalf("MassErase returned %v", err)
	}
	before := len(f.reqs)

	if err := s.EnsureErased(context.Background(), 0x08000000, 4096); err != nil {
		t.Fatalf("EnsureErased returned %v", err)
	}
	if len(f.reqs) != before {
		t.Error("EnsureErased issued requests after a mass erase")
	}
}
