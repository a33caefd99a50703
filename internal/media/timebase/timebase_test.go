package timebase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTicksRoundTrip(t *testing.T) {
	tb := Rational{Num: 1, Den: 1024}

	assert.Equal(t, int64(2048), SecsToTicks(2, tb))
	assert.Equal(t, 2.0, TicksToSecs(2048, tb))
	assert.Equal(t, int64(2), SecsToTicks(2.5/1024, tb), "truncates")
}

func TestConvertTimebase(t *testing.T) {
	video := Rational{Num: 1, Den: 512}
	audio := Rational{Num: 1, Den: 1024}

	assert.Equal(t, int64(2048), ConvertTimebase(1024, video, audio))
	assert.Equal(t, int64(2_000_000), ConvertTimebase(1024, video, AVTimeBase))
}

func TestRational(t *testing.T) {
	assert.True(t, Rational{Num: 1, Den: 25}.Valid())
	assert.False(t, Rational{}.Valid())
	assert.Zero(t, Rational{}.Float64())
	assert.Equal(t, "1/25", Rational{Num: 1, Den: 25}.String())
}
