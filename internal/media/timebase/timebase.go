// Package timebase converts between container ticks and seconds.
//
// Seconds to ticks truncates toward zero, matching the way clip boundaries
// have always been mapped onto stream timestamps.
package timebase

import (
	"fmt"
	"math"
)

// NoPts marks a packet or frame without a timestamp
const NoPts int64 = math.MinInt64

// Rational is a stream timebase, one tick = Num/Den seconds
type Rational struct {
	Num int
	Den int
}

// AVTimeBase is the microsecond base used for container durations
var AVTimeBase = Rational{Num: 1, Den: 1_000_000}

// Float64 returns Num/Den, zero for an invalid rational
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Valid reports whether the rational can be used as a timebase
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// TicksToSecs converts a timestamp to seconds
func TicksToSecs(ticks int64, tb Rational) float64 {
	return float64(ticks) * tb.Float64()
}

// SecsToTicks converts seconds to a timestamp, truncating
func SecsToTicks(secs float64, tb Rational) int64 {
	return int64(secs / tb.Float64())
}

// ConvertTimebase moves a timestamp from one timebase to another through seconds
func ConvertTimebase(ticks int64, from, to Rational) int64 {
	return SecsToTicks(TicksToSecs(ticks, from), to)
}
