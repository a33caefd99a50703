package imaging

import (
	"fmt"
	"math"
	"strings"

	"github.com/keagan/eclipper/internal/framebuf"
	"github.com/nfnt/resize"
)

// Filter selects the interpolation used by Scale
type Filter int

const (
	FilterNearest Filter = iota
	FilterBox
	FilterBilinear
	FilterHamming
	FilterCatmullRom
	FilterMitchell
	FilterLanczos3
)

var filterNames = map[string]Filter{
	"nearest":    FilterNearest,
	"box":        FilterBox,
	"bilinear":   FilterBilinear,
	"hamming":    FilterHamming,
	"catmullrom": FilterCatmullRom,
	"mitchell":   FilterMitchell,
	"lanczos3":   FilterLanczos3,
}

// ParseFilter maps a filter name to a Filter. An empty name selects Lanczos3.
func ParseFilter(name string) (Filter, error) {
	if name == "" {
		return FilterLanczos3, nil
	}
	key := strings.ReplaceAll(strings.ToLower(name), "-", "")
	f, ok := filterNames[key]
	if !ok {
		return 0, fmt.Errorf("unknown resize filter %q", name)
	}
	return f, nil
}

func (f Filter) String() string {
	for name, v := range filterNames {
		if v == f {
			return name
		}
	}
	return fmt.Sprintf("filter(%d)", int(f))
}

// interpolation returns the closest nfnt kernel. nfnt has no box or hamming
// kernel: nearest neighbour averages like a box filter when downscaling, and
// Lanczos2 is the nearest windowed kernel to hamming.
func (f Filter) interpolation() resize.InterpolationFunction {
	switch f {
	case FilterNearest, FilterBox:
		return resize.NearestNeighbor
	case FilterBilinear:
		return resize.Bilinear
	case FilterHamming:
		return resize.Lanczos2
	case FilterCatmullRom:
		return resize.Bicubic
	case FilterMitchell:
		return resize.MitchellNetravali
	default:
		return resize.Lanczos3
	}
}

// ScaledWidth returns the width that keeps the aspect ratio at the target height
func ScaledWidth(w, h, height int) int {
	factor := float64(h) / float64(height)
	return int(float64(w) / factor)
}

// Scale resizes the frame to the given height keeping the aspect ratio
func Scale(src *framebuf.RGB, height int, filter Filter) *framebuf.RGB {
	if height <= 0 || height == src.H {
		return src.Clone()
	}
	width := ScaledWidth(src.W, src.H, height)
	scaled := resize.Resize(uint(width), uint(height), src.ToImage(), filter.interpolation())
	return framebuf.FromImage(scaled)
}

// Binarize paints every pixel whose channels all lie inside [min, max]
// black and every other pixel white
func Binarize(f *framebuf.RGB, minRGB, maxRGB [3]uint8) {
	pix := f.Pix
	for i := 0; i+2 < len(pix); i += 3 {
		r, g, b := pix[i], pix[i+1], pix[i+2]
		v := uint8(255)
		if r >= minRGB[0] && r <= maxRGB[0] &&
			g >= minRGB[1] && g <= maxRGB[1] &&
			b >= minRGB[2] && b <= maxRGB[2] {
			v = 0
		}
		pix[i], pix[i+1], pix[i+2] = v, v, v
	}
}

// BrightnessContrast applies ((v/255 + brightness) * contrast) per channel,
// clamped to [0,1] and scaled back, optionally inverted
func BrightnessContrast(f *framebuf.RGB, brightness, contrast float64, invert bool) {
	for i, v := range f.Pix {
		x := (float64(v)/255 + brightness) * contrast
		x = math.Max(0, math.Min(1, x))
		out := uint8(x * 255)
		if invert {
			out = 255 - out
		}
		f.Pix[i] = out
	}
}

// IsSpectating checks the bottom row colour for the spectator overlay. The
// integer average of each channel must lie in the overlay's colour band.
func IsSpectating(f *framebuf.RGB) bool {
	if f.W == 0 || f.H == 0 {
		return false
	}
	row := f.Row(f.H - 1)
	var r, g, b uint64
	for x := 0; x < f.W; x++ {
		r += uint64(row[x*3])
		g += uint64(row[x*3+1])
		b += uint64(row[x*3+2])
	}
	n := uint64(f.W)
	r, g, b = r/n, g/n, b/n

	return r > 173 && r < 205 &&
		g > 4 && g < 45 &&
		b > 50 && b < 76
}

// MeanValue returns the average of every byte in the frame
func MeanValue(f *framebuf.RGB) float64 {
	if len(f.Pix) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range f.Pix {
		sum += uint64(v)
	}
	return float64(sum) / float64(len(f.Pix))
}
