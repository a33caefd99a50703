package framebuf

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"golang.org/x/image/bmp"
)

// EncodeBMP serializes the frame as an uncompressed 24-bit BMP. Frames are
// always opaque, so the encoder writes bottom-up BGR rows padded to four
// bytes rather than 32-bit pixels.
func EncodeBMP(f *RGB) ([]byte, error) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, f.ToImage()); err != nil {
		return nil, fmt.Errorf("failed to encode bitmap: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL encodes the frame as a base64 BMP data URL
func DataURL(f *RGB) (string, error) {
	data, err := EncodeBMP(f)
	if err != nil {
		return "", err
	}
	return "data:image/bmp;base64," + base64.StdEncoding.EncodeToString(data), nil
}
