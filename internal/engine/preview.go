package engine

import (
	"fmt"
	"strings"

	"github.com/keagan/eclipper/internal/detect"
	"github.com/keagan/eclipper/internal/framebuf"
	"github.com/keagan/eclipper/internal/imaging"
)

// PreviewFilter selects the preprocessing applied by PreviewFilter. Exactly
// one of the fields must be set.
type PreviewFilter struct {
	Binarize           *detect.Thresholds `json:"binarize,omitempty"`
	BrightnessContrast *BrightnessContrast `json:"brightness_contrast,omitempty"`
}

// BrightnessContrast parameters for previews; previews always invert
type BrightnessContrast struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
}

// PreviewResult is the processed image and the text recognized in it
type PreviewResult struct {
	Image  string `json:"image"`
	Text   string `json:"ocr_result"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// PreviewFilter loads the image at path, applies filter, scales it to
// height and runs recognition over every text profile's area. It is meant
// for tuning profile parameters against screenshots.
func (e *Engine) PreviewFilter(path string, filter PreviewFilter, height int, resize imaging.Filter) (*PreviewResult, error) {
	if (filter.Binarize == nil) == (filter.BrightnessContrast == nil) {
		return nil, fmt.Errorf("exactly one preview filter must be set")
	}

	img, err := framebuf.Load(path)
	if err != nil {
		return nil, err
	}

	switch {
	case filter.Binarize != nil:
		imaging.Binarize(img, filter.Binarize.MinRGB, filter.Binarize.MaxRGB)
	case filter.BrightnessContrast != nil:
		bc := filter.BrightnessContrast
		imaging.BrightnessContrast(img, bc.Brightness, bc.Contrast, true)
	}

	scaled := imaging.Scale(img, height, resize)

	recognizer, err := e.recognizers()
	if err != nil {
		return nil, fmt.Errorf("failed to create recognizer: %w", err)
	}
	defer recognizer.Close()

	var text strings.Builder
	for _, p := range detect.TextProfiles(detect.DefaultProfiles()) {
		rect := framebuf.FractionRect(scaled.W, scaled.H, p.Area.Top, p.Area.Left, p.Area.Width, p.Area.Height)
		got, err := recognizer.Recognize(scaled, rect)
		if err != nil {
			e.logger.Warn().Err(err).Str("profile", p.Name).Msg("preview recognition failed")
			continue
		}
		text.WriteString("\n ")
		text.WriteString(got)
	}

	dataURL, err := framebuf.DataURL(scaled)
	if err != nil {
		return nil, err
	}

	return &PreviewResult{
		Image:  dataURL,
		Text:   text.String(),
		Width:  scaled.W,
		Height: scaled.H,
	}, nil
}
