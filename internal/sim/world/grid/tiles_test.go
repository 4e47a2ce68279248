package grid

import (
	"strings"
	"testing"

	"clearsite.ai/internal/sim/world/logic/vacate"
)

func TestParseRows(t *testing.T) {
	w, err := ParseRows([]string{
		"..~#",
		"....",
	})
	if err != nil {
		t.Fatalf("ParseRows: %v", err)
	}
	if mw, mh := w.Size(); mw != 4 || mh != 2 {
		t.Fatalf("size=%dx%d", mw, mh)
	}
	if w.Accessible(2, 0, vacate.MobileLand) || !w.Accessible(2, 0, vacate.MobileSea) {
		t.Fatalf("water accessibility wrong")
	}
	if w.Accessible(3, 0, vacate.MobileSea) || !w.Accessible(3, 0, vacate.MobileAir) {
		t.Fatalf("rock accessibility wrong")
	}

	if _, err := ParseRows([]string{"...", ".."}); err == nil || !strings.Contains(err.Error(), "row 1") {
		t.Fatalf("ragged rows: %v", err)
	}
	if _, err := ParseRows([]string{".x."}); err == nil {
		t.Fatalf("unknown tile accepted")
	}
}

func TestTilesRLE_RoundTrip(t *testing.T) {
	a, _ := ParseRows([]string{"..~~##", "~~~...", "#....."})
	b := New(6, 3)
	if err := b.SetTilesRLE(a.TilesRLE()); err != nil {
		t.Fatalf("SetTilesRLE: %v", err)
	}
	if a.Digest() != b.Digest() {
		t.Fatalf("tiles differ after round trip")
	}
	if err := New(5, 3).SetTilesRLE(a.TilesRLE()); err == nil {
		t.Fatalf("size mismatch accepted")
	}
}
