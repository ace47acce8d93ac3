package inference

import (
	"errors"
	"testing"

	"livedetect/internal/mailbox"
)

// solidFrame returns a width x height frame filled with one BGR colour.
func solidFrame(width, height int, b, g, r byte) mailbox.Frame {
	data := make([]byte, width*height*3)
	for i := 0; i < len(data); i += 3 {
		data[i], data[i+1], data[i+2] = b, g, r
	}
	return mailbox.Frame{Data: data, Width: width, Height: height}
}

func TestCheckFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   mailbox.Frame
		wantErr bool
	}{
		{"valid", solidFrame(4, 2, 0, 0, 0), false},
		{"empty", mailbox.Frame{}, true},
		{"short buffer", mailbox.Frame{Data: make([]byte, 10), Width: 4, Height: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFrame(tt.frame)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkFrame() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrFrame) {
				t.Errorf("expected ErrFrame, got %v", err)
			}
		})
	}
}

func TestToNRGBA_SwapsChannels(t *testing.T) {
	img := toNRGBA(solidFrame(2, 2, 10, 20, 30))

	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 30 || img.Pix[i+1] != 20 || img.Pix[i+2] != 10 || img.Pix[i+3] != 0xff {
			t.Fatalf("pixel %d = %v, want [30 20 10 255]", i/4, img.Pix[i:i+4])
		}
	}
}

func TestLetterbox_PadsRightAndBelow(t *testing.T) {
	// 4x2 white frame in an 8x8 input: the square is 4x4, scaled by 2, so rows 0-3 are image
	// and rows 4-7 are padding.
	img := letterbox(solidFrame(4, 2, 255, 255, 255), 8)

	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
		t.Fatalf("expected 8x8 input, got %v", img.Bounds())
	}

	topLeft := img.NRGBAAt(1, 1)
	if topLeft.R < 200 {
		t.Errorf("expected image content near the top, got %v", topLeft)
	}
	bottom := img.NRGBAAt(1, 7)
	if bottom.R != 0 || bottom.G != 0 || bottom.B != 0 {
		t.Errorf("expected black padding at the bottom, got %v", bottom)
	}
}

func TestLetterbox_SquareAtInputSizeIsUnscaled(t *testing.T) {
	img := letterbox(solidFrame(8, 8, 0, 0, 255), 8)
	if got := img.NRGBAAt(7, 7); got.R != 255 || got.B != 0 {
		t.Errorf("expected unscaled red pixel, got %v", got)
	}
}

func TestFillNCHW(t *testing.T) {
	img := toNRGBA(solidFrame(2, 1, 0, 51, 255)) // RGB = 255, 51, 0
	dst := make([]float32, 3*2)

	if err := fillNCHW(img, dst); err != nil {
		t.Fatalf("fillNCHW failed: %v", err)
	}

	want := []float32{1, 1, 0.2, 0.2, 0, 0}
	for i := range want {
		if diff := dst[i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], want[i])
		}
	}

	if err := fillNCHW(img, make([]float32, 5)); err == nil {
		t.Error("expected error for wrong tensor size")
	}
}

func TestAnchorCount(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{640, 8400},
		{320, 2100},
		{1280, 33600},
	}
	for _, tt := range tests {
		if got := anchorCount(tt.size); got != tt.want {
			t.Errorf("anchorCount(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestBlankFrame(t *testing.T) {
	frame := blankFrame(640, 480)
	if err := checkFrame(frame); err != nil {
		t.Errorf("blank frame should be valid: %v", err)
	}
}
