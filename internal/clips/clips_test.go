package clips

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPushMergesOverlapping(t *testing.T) {
	l := NewList()
	l.Push(Clip{Start: -2, End: 4})
	l.Push(Clip{Start: 3, End: 8})
	l.Push(Clip{Start: 10, End: 12})

	require.Equal(t, 2, l.Len())
	assert.Equal(t, Clip{Start: 0, End: 8}, l.All()[0], "start is clamped at zero")
	assert.Equal(t, Clip{Start: 10, End: 12}, l.All()[1])
}

func TestClipJSONPair(t *testing.T) {
	b, err := json.Marshal([]Clip{{Start: 1.5, End: 3}})
	require.NoError(t, err)
	assert.JSONEq(t, `[[1.5,3]]`, string(b))

	var out []Clip
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, []Clip{{Start: 1.5, End: 3}}, out)

	assert.Error(t, json.Unmarshal([]byte(`{"start":1}`), &out))
}

func TestKeyframeLookups(t *testing.T) {
	kf := KeyframeTable{0, 2, 4, 6}
	require.NoError(t, kf.Validate())

	v, ok := kf.AtOrAfter(2.5)
	assert.True(t, ok)
	assert.Equal(t, 4.0, v)

	v, _ = kf.AtOrAfter(100)
	assert.Equal(t, 6.0, v, "clamped to last keyframe")

	v, ok = kf.Before(4)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	_, ok = kf.Before(0)
	assert.False(t, ok)

	assert.True(t, kf.Contains(6))
	assert.False(t, kf.Contains(5))

	_, ok = KeyframeTable{}.AtOrAfter(1)
	assert.False(t, ok)

	assert.Error(t, KeyframeTable{0, 3, 2}.Validate())
}

func TestJoinCoalescesSegmentBoundary(t *testing.T) {
	joined := Join([][]Clip{
		{{Start: 1, End: 3}, {Start: 25, End: 31}},
		{},
		{{Start: 30, End: 34}, {Start: 50, End: 52}},
	})

	assert.Equal(t, []Clip{
		{Start: 1, End: 3},
		{Start: 25, End: 34},
		{Start: 50, End: 52},
	}, joined)
}

func TestSnapToKeyframes(t *testing.T) {
	kf := KeyframeTable{0, 2, 4, 6, 8, 10}

	tests := []struct {
		name string
		in   Clip
		want Clip
	}{
		{"start within tolerance rounds up", Clip{Start: 1.6, End: 5}, Clip{Start: 2, End: 6}},
		{"start beyond tolerance rounds down", Clip{Start: 1.2, End: 3}, Clip{Start: 0, End: 4}},
		{"exact boundaries kept", Clip{Start: 4, End: 8}, Clip{Start: 4, End: 8}},
		{"end clamped to last keyframe", Clip{Start: 8.9, End: 12}, Clip{Start: 8, End: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SnapToKeyframes([]Clip{tt.in}, kf)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0])
			assert.True(t, kf.Contains(got[0].Start))
			assert.True(t, kf.Contains(got[0].End))
		})
	}
}

func TestSnapWithoutKeyframesIsNoop(t *testing.T) {
	in := []Clip{{Start: 1.3, End: 2.7}}
	assert.Equal(t, in, SnapToKeyframes(in, nil))
}

func TestMergeOverlapping(t *testing.T) {
	merged := MergeOverlapping([]Clip{
		{Start: 0, End: 4},
		{Start: 4, End: 6},
		{Start: 5, End: 5.5},
		{Start: 10, End: 12},
	})

	assert.Equal(t, []Clip{{Start: 0, End: 6}, {Start: 10, End: 12}}, merged)
}

func TestPostProcessInvariants(t *testing.T) {
	kf := KeyframeTable{0, 2, 4, 6, 8, 10, 12, 14, 16}
	out := PostProcess([][]Clip{
		{{Start: 1.7, End: 3.1}, {Start: 3.9, End: 5}},
		{{Start: 5.5, End: 7}, {Start: 11, End: 13}},
	}, kf)

	require.NotEmpty(t, out)
	for i, c := range out {
		assert.True(t, kf.Contains(c.Start), "start %v snapped", c.Start)
		assert.True(t, kf.Contains(c.End), "end %v snapped", c.End)
		if i > 0 {
			assert.Greater(t, c.Start, out[i-1].End, "clips must not overlap")
		}
	}
	assert.Equal(t, []Clip{{Start: 2, End: 8}, {Start: 10, End: 14}}, out)
}

func TestTotalDuration(t *testing.T) {
	assert.InDelta(t, 6.0, TotalDuration([]Clip{{Start: 0, End: 2}, {Start: 4, End: 8}}), 1e-9)
}
