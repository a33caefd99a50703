package tesseract

import (
	"fmt"

	"github.com/keagan/eclipper/internal/framebuf"
	"github.com/keagan/eclipper/internal/ocr"
	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"
)

const defaultLanguage = "eng"

// Client is an ocr.Recognizer backed by a single Tesseract client. It is not
// safe for concurrent use; every scan worker creates its own.
type Client struct {
	client *gosseract.Client
	logger zerolog.Logger
}

// New creates a Tesseract client for the configured language
func New(opts ocr.Options, logger zerolog.Logger) (*Client, error) {
	client := gosseract.NewClient()

	if opts.DataPath != "" {
		if err := client.SetTessdataPrefix(opts.DataPath); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}

	lang := opts.Language
	if lang == "" {
		lang = defaultLanguage
	}
	if err := client.SetLanguage(lang); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set ocr language %s: %w", lang, err)
	}

	return &Client{
		client: client,
		logger: logger.With().Str("component", "ocr").Logger(),
	}, nil
}

// Recognize crops the rectangle, hands it to Tesseract as a BMP and returns
// the recognised text
func (c *Client) Recognize(img *framebuf.RGB, r framebuf.Rect) (string, error) {
	region, err := img.Crop(r)
	if err != nil {
		return "", err
	}

	data, err := framebuf.EncodeBMP(region)
	if err != nil {
		return "", err
	}
	if err := c.client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("failed to load image into tesseract: %w", err)
	}

	text, err := c.client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to recognize text: %w", err)
	}

	c.logger.Trace().Str("text", text).Msg("recognized")
	return text, nil
}

// Close releases the Tesseract client
func (c *Client) Close() error {
	return c.client.Close()
}

// Factory returns an ocr.Factory creating Tesseract clients
func Factory(opts ocr.Options, logger zerolog.Logger) ocr.Factory {
	return func() (ocr.Recognizer, error) {
		return New(opts, logger)
	}
}
