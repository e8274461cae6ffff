package ar0234

import (
	"errors"
	"testing"
)

func TestNearestFormat(t *testing.T) {
	cases := []struct {
		w, h uint32
		want uint32 // width of expected match
	}{
		{1920, 1200, 1920},
		{1280, 800, 1280},
		{0, 0, 1280},
		{4096, 4096, 1920},
		{1600, 1000, 1920}, // equidistant-ish, closer to 1920x1200
		{1281, 801, 1280},
	}
	for _, c := range cases {
		f := nearestFormat(c.w, c.h)
		if f.Width != c.want {
			t.Fatalf("nearest(%dx%d): got %dx%d, want width %d", c.w, c.h, f.Width, f.Height, c.want)
		}
	}
}

func TestNearestFormat_Deterministic(t *testing.T) {
	a := nearestFormat(1600, 1000)
	for i := 0; i < 10; i++ {
		if b := nearestFormat(1600, 1000); b != a {
			t.Fatalf("nearest is not stable: %v vs %v", a, b)
		}
	}
}

func TestResolveLinkConfig(t *testing.T) {
	c, err := resolveLinkConfig(FreqExtClk, FreqLink10Bit)
	if err != nil {
		t.Fatalf("resolve 24MHz/450MHz: %v", err)
	}
	if c.codes.bayer != CodeSGRBG10 || c.codes.mono != CodeY10 {
		t.Fatalf("450MHz codes: got %#x/%#x", c.codes.bayer, c.codes.mono)
	}

	c, err = resolveLinkConfig(FreqExtClk, FreqLink8Bit)
	if err != nil {
		t.Fatalf("resolve 24MHz/360MHz: %v", err)
	}
	if c.codes.bayer != CodeSGRBG8 {
		t.Fatalf("360MHz bayer code: got %#x", c.codes.bayer)
	}

	if _, err := resolveLinkConfig(FreqExtClk, 999_000_000); !errors.Is(err, ErrNoLinkConfig) {
		t.Fatalf("999MHz: got %v, want ErrNoLinkConfig", err)
	}
	if _, err := resolveLinkConfig(25_000_000, FreqLink10Bit); !errors.Is(err, ErrNoLinkConfig) {
		t.Fatalf("25MHz extclk: got %v, want ErrNoLinkConfig", err)
	}
}

func TestLaneModeOf(t *testing.T) {
	if m, ok := laneModeOf(2); !ok || m != Lane2 {
		t.Fatalf("2 lanes: got %v, %v", m, ok)
	}
	if m, ok := laneModeOf(4); !ok || m != Lane4 {
		t.Fatalf("4 lanes: got %v, %v", m, ok)
	}
	if _, ok := laneModeOf(1); ok {
		t.Fatal("1 lane accepted")
	}
	if _, ok := laneModeOf(3); ok {
		t.Fatal("3 lanes accepted")
	}
}

func TestRawOp_DelayAddr(t *testing.T) {
	op := RawOp(DelayAddr, 2, 200)
	if !op.IsSleep() || op.ms != 200 {
		t.Fatalf("delay op: %+v", op)
	}
	op = RawOp(0x301A, 2, 0x00D9)
	if op.IsSleep() || op.addr != 0x301A || op.val != 0x00D9 || op.width != 2 {
		t.Fatalf("write op: %+v", op)
	}
	op = RawOp(0x301C, 1, 0x01)
	if op.width != 1 {
		t.Fatalf("8-bit op width: %d", op.width)
	}
	// Unknown widths normalize to 2 bytes.
	if op := RawOp(0x3000, 0, 1); op.width != 2 {
		t.Fatalf("width 0 not normalized: %d", op.width)
	}
}
