// Package memlayout parses the flash memory layout that ST-style DFU
// bootloaders encode in the interface alt-setting name, e.g.
//
//	@Internal Flash  /0x08000000/04*016Kg,01*064Kg,07*128Kg
//
// Each address section declares where a run of erase areas starts; each
// area is COUNT*SIZE with an optional K/M/B unit and a trailing access
// type letter. The format is a loosely-structured vendor convention, so
// malformed pieces are skipped rather than failing the whole parse.
package memlayout

// Segment is a contiguous flash region divided into equally sized
// erase pages. End is exclusive.
type Segment struct {
	Start    uint32
	End      uint32
	PageSize uint32
}

// Contains reports whether addr falls inside the segment.
func (s Segment) Contains(addr uint32) bool {
	return addr >= s.Start && addr < s.End
}

// PageBase returns the start address of the erase page containing addr.
// addr must be inside the segment.
func (s Segment) PageBase(addr uint32) uint32 {
	return s.Start + (addr-s.Start)/s.PageSize*s.PageSize
}

// Layout is an ordered set of non-overlapping segments. An empty layout
// means the device did not describe its flash; callers fall back to a
// mass erase in that case.
type Layout []Segment

// Known reports whether any segment was parsed from the descriptor.
func (l Layout) Known() bool {
	return len(l) > 0
}

// FindSegment returns the segment whose range contains addr.
func (l Layout) FindSegment(addr uint32) (Segment, bool) {
	for _, s := range l {
		if s.Contains(addr) {
			return s, true
		}
	}
	return Segment{}, false
}

// Parse decodes an alt-setting name into a Layout. Segments that cannot
// be parsed, would overflow the address space, or overlap an already
// parsed segment are dropped. A result with zero segments signals
// "layout unknown", not an error.
func Parse(desc string) Layout {
	var layout Layout

	i := 0
	for i < len(desc) {
		// An address section looks like "/0xADDR/".
		start := indexAddress(desc[i:])
		if start < 0 {
			break
		}
		i += start

		addr, n, ok := parseHex(desc[i:])
		i += n
		if !ok || i >= len(desc) || desc[i] != '/' {
			continue
		}
		i++

		// Areas after the address are comma separated and each one
		// continues where the previous ended.
		cursor := addr
		for {
			seg, n, ok := parseArea(desc[i:], cursor)
			i += n
			if ok && !overlaps(layout, seg) {
				layout = append(layout, seg)
				cursor = seg.End
			}
			if i < len(desc) && desc[i] == ',' {
				i++
				continue
			}
			break
		}
	}

	return layout
}

// indexAddress finds the offset of the next "0x" that follows a '/'.
// A bare "0x" at the start of the scan is also accepted; some devices
// omit the leading name and slash.
func indexAddress(s string) int {
	if len(s) >= 2 && s[0] == '0' && s[1] == 'x' {
		return 0
	}
	for i := 0; i+2 < len(s); i++ {
		if s[i] == '/' && s[i+1] == '0' && s[i+2] == 'x' {
			return i + 1
		}
	}
	return -1
}

// parseArea decodes one "COUNT*SIZE{unit}{type}" area starting at the
// given address. It returns the number of bytes consumed; on a malformed
// area it skips ahead to the next delimiter and reports ok=false.
func parseArea(s string, start uint32) (Segment, int, bool) {
	count, n := parseDec(s)
	i := n
	if n == 0 || i >= len(s) || s[i] != '*' {
		return Segment{}, skipArea(s), false
	}
	i++

	size, n := parseDec(s[i:])
	if n == 0 {
		return Segment{}, skipArea(s), false
	}
	i += n

	mult := uint64(1)
	if i < len(s) {
		switch s[i] {
		case 'K':
			mult = 1024
			i++
		case 'M':
			mult = 1024 * 1024
			i++
		case 'B':
			i++
		}
	}

	// Trailing access type letter (a..g in ST's convention), ignored.
	if i < len(s) && s[i] >= 'a' && s[i] <= 'z' {
		i++
	}

	// The area must end at a delimiter, otherwise treat it as garbage.
	if i < len(s) && s[i] != ',' && s[i] != '/' {
		return Segment{}, skipArea(s), false
	}

	page := uint64(size) * mult
	end := uint64(start) + uint64(count)*page
	if count == 0 || page == 0 || page > 1<<31 || end > 1<<32 {
		return Segment{}, i, false
	}

	return Segment{Start: start, End: uint32(end), PageSize: uint32(page)}, i, true
}

// skipArea returns the offset of the next area or section delimiter.
func skipArea(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ',' || s[i] == '/' {
			return i
		}
	}
	return len(s)
}

// parseHex parses a "0x"-prefixed 32-bit hex number. The prefix counts
// as consumed even when no digits follow it.
func parseHex(s string) (uint32, int, bool) {
	if len(s) < 2 || s[0] != '0' || s[1] != 'x' {
		return 0, 0, false
	}
	var v uint64
	i := 2
	for i < len(s) {
		d, ok := hexDigit(s[i])
		if !ok {
			break
		}
		v = v<<4 | uint64(d)
		if v > 0xFFFFFFFF {
			return 0, i, false
		}
		i++
	}
	if i == 2 {
		return 0, i, false
	}
	return uint32(v), i, true
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// parseDec parses a decimal number, returning the value and the number
// of digits consumed.
func parseDec(s string) (uint32, int) {
	var v uint64
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		v = v*10 + uint64(s[i]-'0')
		if v > 0xFFFFFFFF {
			return 0, 0
		}
		i++
	}
	return uint32(v), i
}

func overlaps(layout Layout, seg Segment) bool {
	for _, s := range layout {
		if seg.Start < s.End && s.Start < seg.End {
			return true
		}
	}
	return false
}
