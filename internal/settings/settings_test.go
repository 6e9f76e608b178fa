package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_Defaults(t *testing.T) {
	s, err := Sanitize(map[string]any{"outputCount": float64(10)})
	require.NoError(t, err)

	assert.Equal(t, 10, s.OutputCount)
	assert.Equal(t, ResolutionHD, s.Resolution)
	assert.Equal(t, BitrateMedium, s.Bitrate)
	assert.Equal(t, 30, s.FrameRate)
	assert.Equal(t, DurationOriginal, s.DurationType)
	assert.Equal(t, 30, s.FixedDuration)
	assert.Equal(t, AudioKeep, s.AudioMode)
	assert.False(t, s.OrderMixing)
	assert.Equal(t, []float64{0.5, 0.75, 1, 1.25, 1.5, 2}, s.AllowedSpeeds)
}

func TestSanitize_OutputCountStrict(t *testing.T) {
	_, err := Sanitize(map[string]any{"outputCount": "not a number"})
	assert.ErrorIs(t, err, ErrInvalidOutputCount)

	_, err = Sanitize(map[string]any{})
	assert.ErrorIs(t, err, ErrInvalidOutputCount)

	s, err := Sanitize(map[string]any{"outputCount": "25"})
	require.NoError(t, err)
	assert.Equal(t, 25, s.OutputCount)
}

func TestSanitize_OutputCountClamped(t *testing.T) {
	s, err := Sanitize(map[string]any{"outputCount": float64(5000)})
	require.NoError(t, err)
	assert.Equal(t, MaxOutputCount, s.OutputCount)

	s, err = Sanitize(map[string]any{"outputCount": float64(-3)})
	require.NoError(t, err)
	assert.Equal(t, MinOutputCount, s.OutputCount)
}

func TestSanitize_MalformedOptionalFieldsFallBack(t *testing.T) {
	s, err := Sanitize(map[string]any{
		"outputCount":   float64(2),
		"resolution":    "8k",
		"bitrate":       42,
		"frameRate":     "45",
		"durationType":  "forever",
		"fixedDuration": float64(100000),
		"audioMode":     []any{"keep"},
		"allowedSpeeds": []any{float64(-1), "x", float64(1.5)},
	})
	require.NoError(t, err)

	assert.Equal(t, ResolutionHD, s.Resolution)
	assert.Equal(t, BitrateMedium, s.Bitrate)
	assert.Equal(t, 30, s.FrameRate)
	assert.Equal(t, DurationOriginal, s.DurationType)
	assert.Equal(t, MaxFixedDuration, s.FixedDuration)
	assert.Equal(t, AudioKeep, s.AudioMode)
	assert.Equal(t, []float64{1.5}, s.AllowedSpeeds)
}

func TestSanitize_DeprecatedTogglesForcedOff(t *testing.T) {
	s, err := Sanitize(map[string]any{
		"outputCount":      float64(3),
		"transitionMixing": true,
		"colorVariations":  true,
		"orderMixing":      true,
	})
	require.NoError(t, err)

	assert.False(t, s.TransitionMixing)
	assert.False(t, s.ColorVariations)
	assert.True(t, s.OrderMixing)
	assert.Equal(t, 1, s.MixingScore())
}

func TestSanitize_TruthyCoercion(t *testing.T) {
	s, err := Sanitize(map[string]any{
		"outputCount": float64(1),
		"orderMixing": float64(1),
		"speedMixing": "true",
		"groupMixing": "",
	})
	require.NoError(t, err)

	assert.True(t, s.OrderMixing)
	assert.True(t, s.SpeedMixing)
	assert.False(t, s.GroupMixing)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, err := Sanitize(map[string]any{
		"outputCount": float64(7),
		"resolution":  "fullhd",
		"speedMixing": true,
	})
	require.NoError(t, err)

	data, err := s.Snapshot()
	require.NoError(t, err)

	got, err := FromSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}
