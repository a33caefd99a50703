package detect

import (
	"slices"
	"strings"
)

// Profile is one detection rule. The set of implementations is closed:
// TextMatch and AveragePixelValue.
type Profile interface {
	// Label names the profile in logs and metrics
	Label() string
	// Debounce is the number of seconds the profile stays silent after a match
	Debounce() float64

	isProfile()
}

// Area is a rectangle given as fractions of the frame size
type Area struct {
	Top    float64
	Left   float64
	Width  float64
	Height float64
}

// Thresholds is an inclusive per-channel colour band
type Thresholds struct {
	MinRGB [3]uint8
	MaxRGB [3]uint8
}

// BrightnessContrast is the fallback preprocessing tried when binarization
// alone finds nothing
type BrightnessContrast struct {
	Brightness float64
	Contrast   float64
	Invert     bool
}

// TextMatch looks for any of its patterns in the recognised text of Area
type TextMatch struct {
	Name     string
	Patterns []string
	Area     Area

	Before  float64
	After   float64
	Timeout float64

	// ResizeHeight downscales the frame before recognition when non-zero
	ResizeHeight int
	Binarize     Thresholds
	// BrightnessContrast is optional
	BrightnessContrast *BrightnessContrast

	// Assist profiles only run when assists are requested
	Assist bool
	// IgnoreSpectating skips the spectator overlay check
	IgnoreSpectating bool
}

func (p *TextMatch) Label() string     { return p.Name }
func (p *TextMatch) Debounce() float64 { return p.Timeout }
func (*TextMatch) isProfile()          {}

// Matches reports whether the lower-cased text contains any pattern
func (p *TextMatch) Matches(text string) bool {
	for _, pat := range p.Patterns {
		if strings.Contains(text, pat) {
			return true
		}
	}
	return false
}

// usesElimDuration keeps the historical rule: the configured elimination
// clip length replaces Before when the pattern list holds one of these
// exact entries
func (p *TextMatch) usesElimDuration() bool {
	return slices.Contains(p.Patterns, "iminated") || slices.Contains(p.Patterns, "ass")
}

// AveragePixelValue matches frames whose mean byte value reaches Threshold
type AveragePixelValue struct {
	Name      string
	Threshold uint8
	Before    float64
	After     float64
}

func (p *AveragePixelValue) Label() string   { return p.Name }
func (*AveragePixelValue) Debounce() float64 { return 0 }
func (*AveragePixelValue) isProfile()        {}

var eliminationPatterns = []string{
	"elim",
	"eliminated",
	"bulhnates",
	"ehiminated",
	"eihiminated",
	"eiiminated",
	"elbinated",
	"eliminaterd",
	"elinated",
	"elininated",
	"elinminated",
	"eliriinated",
	"elirinated",
	"elirmnated",
	"elirnated",
	"elminated",
	"elrirated",
	"eminated",
	"eminater",
	"euehnated",
	"eulhnated",
	"eulhyated",
	"eultnated",
	"euminated",
	"fhninated",
	"fiangted",
	"fiiminaterd",
	"fiminaier",
	"fliinated",
	"flrinated",
	"fuchnater",
	"furater",
	"fushnated",
	"hiinated",
	"himinaied",
	"iminated",
	"suminates",
}

// DefaultProfiles returns the built-in elimination, assist and victory
// profiles in priority order. Patterns include common OCR misreads.
func DefaultProfiles() []Profile {
	feedArea := Area{Top: 0.604, Left: 0.2, Width: 0.42, Height: 0.091}
	feedThresholds := Thresholds{
		MinRGB: [3]uint8{215, 215, 215},
		MaxRGB: [3]uint8{255, 254, 253},
	}
	fallback := func() *BrightnessContrast {
		return &BrightnessContrast{Brightness: -0.8, Contrast: 10, Invert: true}
	}

	return []Profile{
		&TextMatch{
			Name:               "elimination",
			Patterns:           slices.Clone(eliminationPatterns),
			Area:               feedArea,
			Before:             4,
			ResizeHeight:       720,
			Binarize:           feedThresholds,
			BrightnessContrast: fallback(),
		},
		&TextMatch{
			Name:               "assist",
			Patterns:           []string{"assis", "ssist", "a58i8", "as5i", "amssr", "5i5t"},
			Area:               feedArea,
			Before:             4,
			ResizeHeight:       720,
			Binarize:           feedThresholds,
			BrightnessContrast: fallback(),
			Assist:             true,
		},
		&TextMatch{
			Name:         "victory",
			Patterns:     []string{"winners", "qualif", "lified", "vinners", "linkers"},
			Area:         Area{Top: 0.4, Left: 0.17, Width: 0.69, Height: 0.2},
			Before:       10,
			After:        10,
			Timeout:      30,
			ResizeHeight: 360,
			Binarize: Thresholds{
				MinRGB: [3]uint8{248, 248, 248},
				MaxRGB: [3]uint8{255, 255, 255},
			},
			BrightnessContrast: fallback(),
			IgnoreSpectating:   true,
		},
	}
}

// TextProfiles filters the text profiles out of a profile list
func TextProfiles(profiles []Profile) []*TextMatch {
	var out []*TextMatch
	for _, p := range profiles {
		if tm, ok := p.(*TextMatch); ok {
			out = append(out, tm)
		}
	}
	return out
}
