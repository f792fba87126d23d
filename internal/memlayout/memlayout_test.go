package memlayout

import (
	"reflect"
	"testing"
)

func TestParse_SingleSection(t *testing.T) {
	layout := Parse("0x08000000/16*001Ka,112*001Kg")

	expected := Layout{
		{Start: 0x08000000, End: 0x08004000, PageSize: 1024},
		{Start: 0x08004000, End: 0x08020000, PageSize: 1024},
	}
	if !reflect.DeepEqual(layout, expected) {
		t.Errorf("Parse() = %+v, want %+v", layout, expected)
	}
}

func TestParse_STDescriptor(t *testing.T) {
	layout := Parse("@Internal Flash  /0x08000000/04*016Kg,01*064Kg,07*128Kg")

	expected := Layout{
		{Start: 0x08000000, End: 0x08010000, PageSize: 16 * 1024},
		{Start: 0x08010000, End: 0x08020000, PageSize: 64 * 1024},
		{Start: 0x08020000, End: 0x08100000, PageSize: 128 * 1024},
	}
	if !reflect.DeepEqual(layout, expected) {
		t.Errorf("Parse() = %+v, want %+v", layout, expected)
	}
}

func TestParse_MultipleSections(t *testing.T) {
	layout := Parse("@Flash/0x08000000/16*001Kg/0x1FFF0000/01*016Kg")

	expected := Layout{
		{Start: 0x08000000, End: 0x08004000, PageSize: 1024},
		{Start: 0x1FFF0000, End: 0x1FFF4000, PageSize: 16 * 1024},
	}
	if !reflect.DeepEqual(layout, expected) {
		t.Errorf("Parse() = %+v, want %+v", layout, expected)
	}
}

func TestParse_ByteAndMegaUnits(t *testing.T) {
	layout := Parse("0x90000000/2*512Be,1*001Me")

	expected := Layout{
		{Start: 0x90000000, End: 0x90000400, PageSize: 512},
		{Start: 0x90000400, End: 0x90100400, PageSize: 1024 * 1024},
	}
	if !reflect.DeepEqual(layout, expected) {
		t.Errorf("Parse() = %+v, want %+v", layout, expected)
	}
}

func TestParse_Deterministic(t *testing.T) {
	desc := "@Internal Flash  /0x08000000/04*016Kg,01*064Kg,07*128Kg"
	first := Parse(desc)
	second := Parse(desc)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Parse() is not deterministic: %+v vs %+v", first, second)
	}
}

func TestParse_MalformedAreasSkipped(t *testing.T) {
	tests := []struct {
		desc     string
		expected Layout
	}{
		// Garbage area between two valid ones.
		{"0x08000000/16*001Kg,bogus,16*001Kg", Layout{
			{Start: 0x08000000, End: 0x08004000, PageSize: 1024},
			{Start: 0x08004000, End: 0x08008000, PageSize: 1024},
		}},
		// Missing size after '*'.
		{"0x08000000/16*Kg", nil},
		// Zero count and zero size produce no segment.
		{"0x08000000/0*001Kg", nil},
		{"0x08000000/16*000Kg", nil},
		// Trailing junk glued to an otherwise valid area.
		{"0x08000000/16*001Kgxx", nil},
	}

	for _, tc := range tests {
		layout := Parse(tc.desc)
		if !reflect.DeepEqual(layout, tc.expected) {
			t.Errorf("Parse(%q) = %+v, want %+v", tc.desc, layout, tc.expected)
		}
	}
}

func TestParse_Unparseable(t *testing.T) {
	descs := []string{
		"",
		"@Internal Flash",
		"no layout here",
		"/0x",
		"0x08000000",
		"0x08000000/",
	}
	for _, desc := range descs {
		layout := Parse(desc)
		if layout.Known() {
			t.Errorf("Parse(%q) = %+v, want unknown layout", desc, layout)
		}
	}
}

func TestParse_OverflowDropped(t *testing.T) {
	// 2 pages of 1M starting near the top of the address space would
	// wrap past 2^32.
	layout := Parse("0xFFFFF000/2*001Mg")
	if layout.Known() {
		t.Errorf("Parse() = %+v, want unknown layout", layout)
	}
}

func TestParse_OverlapDropped(t *testing.T) {
	layout := Parse("0x08000000/16*001Kg/0x08002000/16*001Kg")

	expected := Layout{
		{Start: 0x08000000, End: 0x08004000, PageSize: 1024},
	}
	if !reflect.DeepEqual(layout, expected) {
		t.Errorf("Parse() = %+v, want %+v", layout, expected)
	}
}

func TestFindSegment(t *testing.T) {
	layout := Parse("0x08000000/16*001Ka,112*001Kg")

	tests := []struct {
		addr  uint32
		found bool
		start uint32
	}{
		{0x08000000, true, 0x08000000},
		{0x08003FFF, true, 0x08000000},
		{0x08004000, true, 0x08004000},
		{0x0801FFFF, true, 0x08004000},
		{0x08020000, false, 0}, // one past the end, exclusive
		{0x07FFFFFF, false, 0},
		{0x00000000, false, 0},
	}

	for _, tc := range tests {
		seg, ok := layout.FindSegment(tc.addr)
		if ok != tc.found {
			t.Errorf("FindSegment(0x%08X) found = %v, want %v", tc.addr, ok, tc.found)
			continue
		}
		if ok && seg.Start != tc.start {
			t.Errorf("FindSegment(0x%08X).Start = 0x%08X, want 0x%08X", tc.addr, seg.Start, tc.start)
		}
	}
}

func TestFindSegment_EmptyLayout(t *testing.T) {
	var layout Layout
	if _, ok := layout.FindSegment(0x08000000); ok {
		t.Error("FindSegment on empty layout reported a match")
	}
}

func TestSegment_PageBase(t *testing.T) {
	seg := Segment{Start: 0x08004000, End: 0x08020000, PageSize: 1024}

	tests := []struct {
		addr uint32
		base uint32
	}{
		{0x08004000, 0x08004000},
		{0x080043FF, 0x08004000},
		{0x08004400, 0x08004400},
		{0x0801FFFF, 0x0801FC00},
	}

	for _, tc := range tests {
		if base := seg.PageBase(tc.addr); base != tc.base {
			t.Errorf("PageBase(0x%08X) = 0x%08X, want 0x%08X", tc.addr, base, tc.base)
		}
	}
}
