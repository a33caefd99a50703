package media

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// coverArtVideo writes an mp4 whose first stream is a 16x16 attached
// picture and whose second stream is the 64x48 video
func coverArtVideo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH")
	}

	path := filepath.Join(t.TempDir(), "cover.mp4")
	cmd := exec.Command("ffmpeg", "-y", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=2:size=64x48:rate=10",
		"-f", "lavfi", "-i", "color=red:size=16x16:duration=0.1:rate=10",
		"-map", "1:v", "-map", "0:v",
		"-c:v:0", "mjpeg", "-disposition:v:0", "attached_pic",
		"-c:v:1", "mpeg4", "-g", "10",
		path,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("ffmpeg could not build the fixture: %v\n%s", err, out)
	}
	return path
}

func TestDecoderSkipsAttachedPicture(t *testing.T) {
	path := coverArtVideo(t)

	d, err := Open(path, Options{}, zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	info := d.Info()
	assert.Equal(t, 64, info.Width)
	assert.Equal(t, 48, info.Height)

	f, err := d.Next()
	require.NoError(t, err)
	rgb, err := d.RGB24(f)
	require.NoError(t, err)
	assert.Equal(t, 64, rgb.W)
}

func TestInputAnchorsOnBestVideoStream(t *testing.T) {
	path := coverArtVideo(t)

	in, err := OpenInput(path)
	require.NoError(t, err)
	defer in.Close()

	assert.Len(t, in.Streams(), 2)
	assert.Equal(t, 1, in.VideoStream())
}
