package env

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
)

// ErrFrameSkipped marks an observation that could not be decoded.
var ErrFrameSkipped = errors.New("env: frame skipped")

// Frame is an RGB image, 3 bytes per pixel, row-major.
type Frame struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewFrame allocates a black frame.
func NewFrame(w, h int) Frame {
	return Frame{Width: w, Height: h, Pix: make([]uint8, w*h*3)}
}

// RGB returns the color at (x, y).
func (f Frame) RGB(x, y int) (r, g, b uint8) {
	i := (y*f.Width + x) * 3
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// Set writes the color at (x, y); points outside the frame are ignored.
func (f Frame) Set(x, y int, c [3]uint8) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return
	}
	i := (y*f.Width + x) * 3
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c[0], c[1], c[2]
}

// Image converts f for encoding.
func (f Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for p, q := 0, 0; p+2 < len(f.Pix); p, q = p+3, q+4 {
		img.Pix[q] = f.Pix[p]
		img.Pix[q+1] = f.Pix[p+1]
		img.Pix[q+2] = f.Pix[p+2]
		img.Pix[q+3] = 0xff
	}
	return img
}

// DecodeStatus tells why a frame was or was not produced.
type DecodeStatus int

const (
	FrameOK DecodeStatus = iota
	FrameEmpty
	FrameCorrupt
	FrameSizeMismatch
	FrameUnavailable
)

func (s DecodeStatus) String() string {
	switch s {
	case FrameOK:
		return "ok"
	case FrameEmpty:
		return "empty"
	case FrameCorrupt:
		return "corrupt"
	case FrameSizeMismatch:
		return "size_mismatch"
	case FrameUnavailable:
		return "unavailable"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// DecodeResult is the outcome of decoding one compressed frame.
// A result that is not FrameOK carries Err wrapping ErrFrameSkipped.
type DecodeResult struct {
	Frame  Frame
	Status DecodeStatus
	Err    error
}

// Skipped reports whether the frame must be dropped.
func (r DecodeResult) Skipped() bool {
	return r.Status != FrameOK
}

func skipped(status DecodeStatus, format string, args ...interface{}) DecodeResult {
	return DecodeResult{
		Status: status,
		Err:    fmt.Errorf("%w: %s: %s", ErrFrameSkipped, status, fmt.Sprintf(format, args...)),
	}
}

// DecodeFrame decodes a PNG or JPEG buffer into an RGB frame of the given
// size. Alpha is dropped without premultiplying.
func DecodeFrame(raw []byte, width, height int) DecodeResult {
	if len(raw) == 0 {
		return skipped(FrameEmpty, "no image data")
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return skipped(FrameCorrupt, "%v", err)
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return skipped(FrameSizeMismatch, "got %dx%d, want %dx%d", b.Dx(), b.Dy(), width, height)
	}

	f := NewFrame(width, height)
	switch src := img.(type) {
	case *image.NRGBA:
		copyRGB(f, src.Pix, src.Stride, b)
	case *image.RGBA:
		copyRGB(f, src.Pix, src.Stride, b)
	default:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.R, c.G, c.B
				i += 3
			}
		}
	}
	return DecodeResult{Frame: f, Status: FrameOK}
}

func copyRGB(dst Frame, pix []uint8, stride int, b image.Rectangle) {
	i := 0
	for y := 0; y < b.Dy(); y++ {
		row := pix[y*stride:]
		for x := 0; x < b.Dx(); x++ {
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = row[x*4], row[x*4+1], row[x*4+2]
			i += 3
		}
	}
}

var overlayColor = [3]uint8{0, 255, 0}

// Corners converts a normalized box to pixel corners on a w×h frame.
func (b BBox) Corners(w, h int) (xMin, yMin, xMax, yMax int) {
	fw, fh := float64(w), float64(h)
	xMin = int(b.X*fw - b.W*fw/2)
	yMin = int(b.Y*fh - b.H*fh/2)
	xMax = int(b.X*fw + b.W*fw/2)
	yMax = int(b.Y*fh + b.H*fh/2)
	return
}

// DrawRect draws a 1-pixel unfilled rectangle for b, clipped to the frame.
func DrawRect(f Frame, b BBox, c [3]uint8) {
	x0, y0, x1, y1 := b.Corners(f.Width, f.Height)
	for x := x0; x <= x1; x++ {
		f.Set(x, y0, c)
		f.Set(x, y1, c)
	}
	for y := y0; y <= y1; y++ {
		f.Set(x0, y, c)
		f.Set(x1, y, c)
	}
}
