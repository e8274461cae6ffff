package ar0234

import "testing"

func TestComputeLimits_Defaults(t *testing.T) {
	f := &formats[0] // 1920x1200

	lim := computeLimits(f, vblankMin)

	if lim.VBlankMin != 16 || lim.VBlankDefault != 16 {
		t.Fatalf("vblank min/default: got %d/%d, want 16/16", lim.VBlankMin, lim.VBlankDefault)
	}
	if want := int32(0xFFFF - 1200); lim.VBlankMax != want {
		t.Fatalf("vblank max: got %d, want %d", lim.VBlankMax, want)
	}
	if lim.ExposureMin != 2 {
		t.Fatalf("exposure min: got %d, want 2", lim.ExposureMin)
	}
	if want := int32(1200 + 16 - 2); lim.ExposureMax != want {
		t.Fatalf("exposure max: got %d, want %d", lim.ExposureMax, want)
	}
	if lim.ExposureDefault != lim.ExposureMax {
		t.Fatalf("exposure default %d != max %d", lim.ExposureDefault, lim.ExposureMax)
	}
}

func TestComputeLimits_ExposureTracksVBlank(t *testing.T) {
	f := &formats[1] // 1280x800

	for _, vb := range []int32{16, 100, 5000} {
		lim := computeLimits(f, vb)
		if want := int32(800) + vb - 2; lim.ExposureMax != want {
			t.Fatalf("vblank %d: exposure max got %d, want %d", vb, lim.ExposureMax, want)
		}
	}
}

func TestComputeLimits_HBlankIsLineBudget(t *testing.T) {
	// Line length is a generation constant; the horizontal budget is what
	// is left of it after the active width, even when that goes negative.
	if got := computeLimits(&formats[1], 16).HBlank; got != 612-1280 {
		t.Fatalf("1280 hblank: got %d, want %d", got, 612-1280)
	}
	if got := computeLimits(&formats[0], 16).HBlank; got != 612-1920 {
		t.Fatalf("1920 hblank: got %d, want %d", got, 612-1920)
	}
}

func TestFrameLength(t *testing.T) {
	if got := frameLength(&formats[0], 16); got != 1216 {
		t.Fatalf("frame length: got %d, want 1216", got)
	}
	if got := frameLength(&formats[1], 200); got != 1000 {
		t.Fatalf("frame length: got %d, want 1000", got)
	}
}
