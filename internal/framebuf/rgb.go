package framebuf

import (
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"

	// decoders for PreviewFilter inputs
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// RGB is a packed 24-bit frame, three bytes per pixel, rows top to bottom
// with no padding
type RGB struct {
	W   int
	H   int
	Pix []byte
}

// Rect is a pixel rectangle inside a frame
type Rect struct {
	X int
	Y int
	W int
	H int
}

// NewRGB allocates a zeroed frame
func NewRGB(w, h int) *RGB {
	return &RGB{W: w, H: h, Pix: make([]byte, w*h*3)}
}

// WrapRGB wraps an existing packed buffer, checking its length
func WrapRGB(w, h int, pix []byte) (*RGB, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", w, h)
	}
	if len(pix) != w*h*3 {
		return nil, fmt.Errorf("frame buffer is %d bytes, want %d for %dx%d", len(pix), w*h*3, w, h)
	}
	return &RGB{W: w, H: h, Pix: pix}, nil
}

// Stride returns the number of bytes per row
func (f *RGB) Stride() int {
	return f.W * 3
}

// Row returns the bytes of row y
func (f *RGB) Row(y int) []byte {
	s := f.Stride()
	return f.Pix[y*s : (y+1)*s]
}

// At returns the pixel at x, y
func (f *RGB) At(x, y int) (r, g, b uint8) {
	i := y*f.Stride() + x*3
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// Clone returns a deep copy
func (f *RGB) Clone() *RGB {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &RGB{W: f.W, H: f.H, Pix: pix}
}

// Bounds returns the whole frame as a rectangle
func (f *RGB) Bounds() Rect {
	return Rect{W: f.W, H: f.H}
}

// FractionRect converts fractional coordinates into a pixel rectangle on a
// frame of the given size. Fractions are truncated.
func FractionRect(w, h int, top, left, width, height float64) Rect {
	return Rect{
		X: int(left * float64(w)),
		Y: int(top * float64(h)),
		W: int(width * float64(w)),
		H: int(height * float64(h)),
	}
}

// Crop copies the rectangle out of the frame. The rectangle is clipped to
// the frame; an empty intersection is an error.
func (f *RGB) Crop(r Rect) (*RGB, error) {
	x0, y0 := max(r.X, 0), max(r.Y, 0)
	x1, y1 := min(r.X+r.W, f.W), min(r.Y+r.H, f.H)
	if x1 <= x0 || y1 <= y0 {
		return nil, fmt.Errorf("crop %+v outside %dx%d frame", r, f.W, f.H)
	}

	out := NewRGB(x1-x0, y1-y0)
	for y := y0; y < y1; y++ {
		src := f.Row(y)[x0*3 : x1*3]
		copy(out.Row(y-y0), src)
	}
	return out, nil
}

// ToImage converts the frame to an image.RGBA with opaque alpha
func (f *RGB) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.W, f.H))
	for y := 0; y < f.H; y++ {
		src := f.Row(y)
		dst := img.Pix[y*img.Stride : y*img.Stride+f.W*4]
		for x := 0; x < f.W; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xff
		}
	}
	return img
}

// FromImage converts any image into a packed RGB frame, dropping alpha
func FromImage(img image.Image) *RGB {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	out := NewRGB(b.Dx(), b.Dy())
	for y := 0; y < out.H; y++ {
		src := rgba.Pix[y*rgba.Stride:]
		dst := out.Row(y)
		for x := 0; x < out.W; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return out
}

// Decode reads a PNG, JPEG, BMP or WebP image into a frame
func Decode(r io.Reader) (*RGB, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return FromImage(img), nil
}

// Load opens and decodes an image file
func Load(path string) (*RGB, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Decode(file)
}
