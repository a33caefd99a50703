package ocr

import (
	"strings"

	"github.com/keagan/eclipper/internal/framebuf"
)

// Recognizer extracts text from a rectangle of a frame
type Recognizer interface {
	Recognize(img *framebuf.RGB, r framebuf.Rect) (string, error)
	Close() error
}

// Options configures a recognizer instance
type Options struct {
	Language string
	DataPath string
}

// Factory creates a new Recognizer, one per scan worker
type Factory func() (Recognizer, error)

// Normalize lower-cases recognised text for pattern matching
func Normalize(text string) string {
	return strings.ToLower(text)
}
