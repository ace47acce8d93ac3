package inference

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"livedetect/internal/mailbox"

	"github.com/disintegration/imaging"
)

// ErrFrame is returned for frames whose pixel buffer does not match their size.
var ErrFrame = errors.New("inference: malformed frame")

func checkFrame(frame mailbox.Frame) error {
	if frame.Empty() {
		return fmt.Errorf("%w: empty", ErrFrame)
	}
	if want := frame.Width * frame.Height * 3; len(frame.Data) != want {
		return fmt.Errorf("%w: %dx%d needs %d bytes, got %d", ErrFrame, frame.Width, frame.Height, want, len(frame.Data))
	}
	return nil
}

// squareSide is the side of the zero-padded square the frame is placed in.
func squareSide(width, height int) int {
	return max(width, height)
}

// toNRGBA converts a packed BGR frame to an image the imaging package can work with.
func toNRGBA(frame mailbox.Frame) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	src := frame.Data
	dst := img.Pix
	for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+4 {
		dst[j] = src[i+2]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i]
		dst[j+3] = 0xff
	}
	return img
}

// letterbox places the frame at the top-left of a black square and resizes it to size x size.
// The padding sits right and below, so box coordinates only need scaling back.
func letterbox(frame mailbox.Frame, size int) *image.NRGBA {
	side := squareSide(frame.Width, frame.Height)
	square := imaging.New(side, side, color.NRGBA{A: 0xff})
	square = imaging.Paste(square, toNRGBA(frame), image.Pt(0, 0))
	if side == size {
		return square
	}
	return imaging.Resize(square, size, size, imaging.Linear)
}

// fillNCHW writes img as planar RGB scaled to [0, 1] into dst, which holds 3*W*H values.
func fillNCHW(img *image.NRGBA, dst []float32) error {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	plane := w * h
	if len(dst) != 3*plane {
		return fmt.Errorf("input tensor holds %d values, image needs %d", len(dst), 3*plane)
	}

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			p := row[x*4:]
			dst[i] = float32(p[0]) / 255.0
			dst[plane+i] = float32(p[1]) / 255.0
			dst[2*plane+i] = float32(p[2]) / 255.0
		}
	}
	return nil
}

// anchorCount returns the number of YOLOv8 output cells for a square input (strides 8, 16, 32).
func anchorCount(size int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := size / stride
		n += side * side
	}
	return n
}

// blankFrame is a black frame used for warm-up.
func blankFrame(width, height int) mailbox.Frame {
	return mailbox.Frame{
		Data:   make([]byte, width*height*3),
		Width:  width,
		Height: height,
	}
}
