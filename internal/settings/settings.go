// Package settings normalizes client-supplied mixing options into a bounded,
// canonical value. Only the billing-critical output count is validated
// strictly; every other field silently falls back to its default.
package settings

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

var ErrInvalidOutputCount = errors.New("invalid_output_count")

const (
	ResolutionSD     = "sd"
	ResolutionHD     = "hd"
	ResolutionFullHD = "fullhd"

	BitrateLow    = "low"
	BitrateMedium = "medium"
	BitrateHigh   = "high"

	DurationOriginal = "original"
	DurationFixed    = "fixed"

	AudioKeep = "keep"
	AudioMute = "mute"
)

const (
	MinOutputCount   = 1
	MaxOutputCount   = 100
	MinFixedDuration = 5
	MaxFixedDuration = 600
)

// Settings is the canonical form of a processing request's mixing options.
type Settings struct {
	OutputCount            int       `json:"outputCount"`
	Resolution             string    `json:"resolution"`
	Bitrate                string    `json:"bitrate"`
	FrameRate              int       `json:"frameRate"`
	DurationType           string    `json:"durationType"`
	FixedDuration          int       `json:"fixedDuration"`
	AudioMode              string    `json:"audioMode"`
	OrderMixing            bool      `json:"orderMixing"`
	SpeedMixing            bool      `json:"speedMixing"`
	DifferentStartingVideo bool      `json:"differentStartingVideo"`
	GroupMixing            bool      `json:"groupMixing"`
	AllowedSpeeds          []float64 `json:"allowedSpeeds"`

	// Deprecated toggles, always false regardless of input.
	TransitionMixing bool `json:"transitionMixing"`
	ColorVariations  bool `json:"colorVariations"`
}

func defaultAllowedSpeeds() []float64 {
	return []float64{0.5, 0.75, 1, 1.25, 1.5, 2}
}

// Sanitize normalizes an arbitrary client payload. The only hard failure is an
// output count that cannot be parsed as a number at all.
func Sanitize(raw map[string]any) (Settings, error) {
	outputCount, err := parseOutputCount(raw["outputCount"])
	if err != nil {
		return Settings{}, err
	}

	s := Settings{
		OutputCount:            outputCount,
		Resolution:             pickEnum(raw["resolution"], ResolutionHD, ResolutionSD, ResolutionHD, ResolutionFullHD),
		Bitrate:                pickEnum(raw["bitrate"], BitrateMedium, BitrateLow, BitrateMedium, BitrateHigh),
		FrameRate:              pickFrameRate(raw["frameRate"]),
		DurationType:           pickEnum(raw["durationType"], DurationOriginal, DurationOriginal, DurationFixed),
		FixedDuration:          clampInt(parseIntOr(raw["fixedDuration"], 30), MinFixedDuration, MaxFixedDuration),
		AudioMode:              pickEnum(raw["audioMode"], AudioKeep, AudioKeep, AudioMute),
		OrderMixing:            truthy(raw["orderMixing"]),
		SpeedMixing:            truthy(raw["speedMixing"]),
		DifferentStartingVideo: truthy(raw["differentStartingVideo"]),
		GroupMixing:            truthy(raw["groupMixing"]),
		AllowedSpeeds:          pickSpeeds(raw["allowedSpeeds"]),
		TransitionMixing:       false,
		ColorVariations:        false,
	}
	return s, nil
}

// MixingScore counts the enabled variation toggles. The deprecated toggles are
// part of the table but can never contribute after Sanitize.
func (s Settings) MixingScore() int {
	score := 0
	for _, on := range []bool{
		s.OrderMixing,
		s.SpeedMixing,
		s.DifferentStartingVideo,
		s.GroupMixing,
		s.TransitionMixing,
		s.ColorVariations,
	} {
		if on {
			score++
		}
	}
	return score
}

// Snapshot serializes the settings for storage on the job row.
func (s Settings) Snapshot() ([]byte, error) {
	return json.Marshal(s)
}

// FromSnapshot parses a stored settings snapshot.
func FromSnapshot(data []byte) (Settings, error) {
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func parseOutputCount(v any) (int, error) {
	n, ok := asNumber(v)
	if !ok {
		return 0, ErrInvalidOutputCount
	}
	return clampInt(int(n), MinOutputCount, MaxOutputCount), nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseIntOr(v any, def int) int {
	if n, ok := asNumber(v); ok {
		return int(n)
	}
	return def
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func pickEnum(v any, def string, allowed ...string) string {
	s, ok := v.(string)
	if !ok {
		return def
	}
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range allowed {
		if s == a {
			return a
		}
	}
	return def
}

func pickFrameRate(v any) int {
	n, ok := asNumber(v)
	if !ok {
		return 30
	}
	switch int(n) {
	case 24, 30, 60:
		return int(n)
	default:
		return 30
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
		return strings.TrimSpace(t) != ""
	default:
		return false
	}
}

func pickSpeeds(v any) []float64 {
	items, ok := v.([]any)
	if !ok {
		return defaultAllowedSpeeds()
	}
	speeds := make([]float64, 0, len(items))
	for _, item := range items {
		if n, ok := asNumber(item); ok && n > 0 {
			speeds = append(speeds, n)
		}
	}
	if len(speeds) == 0 {
		return defaultAllowedSpeeds()
	}
	return speeds
}
