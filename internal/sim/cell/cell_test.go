package cell

import (
	"bytes"
	"testing"
)

func TestParseStringRoundTrip(t *testing.T) {
	cases := []State{
		Empty,
		Of("STONE"),
		New("stairs", map[string]string{"half": "top", "facing": "north"}),
		Marker(Of("STONE")),
		Marker(New("STAIRS", map[string]string{"facing": "east", "half": "bottom"})),
	}
	for _, s := range cases {
		got, err := Parse(s.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", s.String(), err)
		}
		if got != s {
			t.Fatalf("round trip %q: got %#v want %#v", s.String(), got, s)
		}
	}
}

func TestNewCanonicalisesProps(t *testing.T) {
	a := New("STAIRS", map[string]string{"facing": "north", "half": "top"})
	b := New("stairs", map[string]string{"half": "top", "facing": "north"})
	if a != b {
		t.Fatalf("expected equal states: %v vs %v", a, b)
	}
	if a.Props != "facing=north,half=top" {
		t.Fatalf("props=%q", a.Props)
	}
	if v, ok := a.Prop("half"); !ok || v != "top" {
		t.Fatalf("Prop(half)=%q,%v", v, ok)
	}
	if New("air", nil) != Empty || !Of("AIR").IsEmpty() {
		t.Fatalf("AIR must normalise to Empty")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"STONE]", "[x=1]", "STONE[x]", "MARKER[STONE]", "A=B"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestMarkerTarget(t *testing.T) {
	target := New("STAIRS", map[string]string{"facing": "west"})
	m := Marker(target)
	if !m.IsMarker() {
		t.Fatalf("expected marker")
	}
	got, ok := m.MarkerTarget()
	if !ok || got != target {
		t.Fatalf("MarkerTarget=%v,%v", got, ok)
	}
	if _, ok := Of("STONE").MarkerTarget(); ok {
		t.Fatalf("plain block has no marker target")
	}
	if _, ok := m.Prop("target"); ok {
		t.Fatalf("markers do not expose generic props")
	}
}

func TestSnapshotEqual(t *testing.T) {
	a := Snapshot{State: Of("CHEST"), Data: []byte{1, 2}}
	b := a.Clone()
	if !a.Equal(b) {
		t.Fatalf("clone must be equal")
	}
	b.Data[0] = 9
	if a.Equal(b) || a.Data[0] != 1 {
		t.Fatalf("clone must not alias data")
	}
	if !Snap(Of("AIR")).Equal(Snapshot{}) {
		t.Fatalf("AIR snapshot must equal empty snapshot")
	}
}

func TestItemsBlobDeterministic(t *testing.T) {
	a, err := EncodeItems(map[string]int{"STONE": 3, "PLANK": 1, "ZERO": 0})
	if err != nil {
		t.Fatalf("EncodeItems: %v", err)
	}
	b, err := EncodeItems(map[string]int{"PLANK": 1, "STONE": 3})
	if err != nil {
		t.Fatalf("EncodeItems: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("encoding not deterministic: %x vs %x", a, b)
	}
	items, err := DecodeItems(a)
	if err != nil {
		t.Fatalf("DecodeItems: %v", err)
	}
	if len(items) != 2 || items["STONE"] != 3 || items["PLANK"] != 1 {
		t.Fatalf("decoded=%v", items)
	}
	if blob, _ := EncodeItems(nil); blob != nil {
		t.Fatalf("empty inventory must encode to nil")
	}
	if _, err := DecodeItems([]byte{0xff, 0x00}); err == nil {
		t.Fatalf("expected decode error for garbage")
	}
}
