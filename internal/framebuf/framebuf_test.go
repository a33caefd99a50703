package framebuf

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *RGB {
	f := NewRGB(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*f.Stride() + x*3
			f.Pix[i] = uint8(x)
			f.Pix[i+1] = uint8(y)
			f.Pix[i+2] = uint8(x + y)
		}
	}
	return f
}

func TestWrapRGBChecksLength(t *testing.T) {
	_, err := WrapRGB(2, 2, make([]byte, 11))
	assert.Error(t, err)

	_, err = WrapRGB(0, 2, nil)
	assert.Error(t, err)

	f, err := WrapRGB(2, 2, make([]byte, 12))
	require.NoError(t, err)
	assert.Equal(t, 6, f.Stride())
}

func TestCrop(t *testing.T) {
	f := gradient(10, 8)

	c, err := f.Crop(Rect{X: 2, Y: 3, W: 4, H: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, c.W)
	assert.Equal(t, 2, c.H)

	r, g, b := c.At(0, 0)
	assert.Equal(t, [3]uint8{2, 3, 5}, [3]uint8{r, g, b})

	clipped, err := f.Crop(Rect{X: 8, Y: 6, W: 10, H: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, clipped.W, "clipped to frame")
	assert.Equal(t, 2, clipped.H)

	_, err = f.Crop(Rect{X: 20, Y: 0, W: 4, H: 4})
	assert.Error(t, err)
}

func TestFractionRect(t *testing.T) {
	r := FractionRect(1280, 720, 0.604, 0.2, 0.42, 0.091)
	assert.Equal(t, Rect{X: 256, Y: 434, W: 537, H: 65}, r)
}

func TestEncodeBMPLayout(t *testing.T) {
	// width 3 gives 9 bytes per row, padded to 12
	f := gradient(3, 2)
	bmp, err := EncodeBMP(f)
	require.NoError(t, err)

	require.Len(t, bmp, 54+12*2)
	assert.Equal(t, "BM", string(bmp[:2]))
	assert.EqualValues(t, len(bmp), binary.LittleEndian.Uint32(bmp[2:]))
	assert.EqualValues(t, 3, binary.LittleEndian.Uint32(bmp[18:]))
	assert.EqualValues(t, 2, binary.LittleEndian.Uint32(bmp[22:]))
	assert.EqualValues(t, 24, binary.LittleEndian.Uint16(bmp[28:]))

	// first stored row is the bottom row (y=1), pixel (0,1) = rgb(0,1,1) as BGR
	assert.Equal(t, []byte{1, 1, 0}, bmp[54:57])
	// padding bytes are zero
	assert.Equal(t, []byte{0, 0, 0}, bmp[54+9:54+12])
	// second stored row is the top row, pixel (2,0) = rgb(2,0,2)
	assert.Equal(t, []byte{2, 0, 2}, bmp[54+12+6:54+12+9])
}

func TestEncodeBMPDecodes(t *testing.T) {
	f := gradient(5, 4)
	data, err := EncodeBMP(f)
	require.NoError(t, err)
	decoded, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, f.Pix, decoded.Pix)
}

func TestEncodeBMPRowPadding(t *testing.T) {
	for _, w := range []int{1, 2, 3, 5, 7} {
		f := gradient(w, 3)
		data, err := EncodeBMP(f)
		require.NoError(t, err)

		rowSize := w*3 + (4-w*3%4)%4
		assert.Len(t, data, 54+rowSize*3, "width %d", w)
		assert.EqualValues(t, 24, binary.LittleEndian.Uint16(data[28:]), "width %d", w)

		decoded, err := Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, f.Pix, decoded.Pix, "width %d", w)
	}
}

func TestImageRoundTrip(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img.Set(1, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	f := FromImage(img)
	assert.Equal(t, []byte{10, 20, 30, 200, 100, 50}, f.Pix)

	back := f.ToImage()
	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 255}, back.RGBAAt(1, 0))
}

func TestDataURL(t *testing.T) {
	u, err := DataURL(NewRGB(1, 1))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "data:image/bmp;base64,Qk0"))
}
