// Package pricing computes the deterministic credit price of a processing
// request. The same Engine serves the estimate endpoint and charge-time
// pricing, so estimates always match what is debited.
package pricing

import (
	"fmt"
	"math"

	"github.com/mixforge/mixforge/internal/config"
	"github.com/mixforge/mixforge/internal/settings"
)

// BreakdownLine explains one multiplier for UI transparency.
type BreakdownLine struct {
	Label      string  `json:"label"`
	Multiplier float64 `json:"multiplier"`
	Reason     string  `json:"reason"`
}

// Quote is the result of pricing a request.
type Quote struct {
	BaseCredits       int             `json:"baseCredits"`
	VolumeMultiplier  float64         `json:"volumeMultiplier"`
	QualityMultiplier float64         `json:"qualityMultiplier"`
	MixingMultiplier  float64         `json:"mixingMultiplier"`
	MixingScore       int             `json:"mixingScore"`
	Strength          string          `json:"antiFingerprintStrength"`
	CreditsRequired   int64           `json:"creditsRequired"`
	Breakdown         []BreakdownLine `json:"breakdown"`
}

var strengthLabels = []string{
	"None", "Weak", "Fair", "Good", "Strong", "VeryStrong", "Maximum",
}

// StrengthLabel maps a mixing score to its qualitative label.
func StrengthLabel(score int) string {
	if score < 0 {
		score = 0
	}
	if score >= len(strengthLabels) {
		score = len(strengthLabels) - 1
	}
	return strengthLabels[score]
}

// Engine prices requests using hot-reloadable multiplier tables.
type Engine struct {
	tables *config.PricingConfigHolder
}

func NewEngine(tables *config.PricingConfigHolder) *Engine {
	return &Engine{tables: tables}
}

// Quote prices outputCount variants under the given sanitized settings.
// Pure with respect to its inputs and the current pricing tables.
func (e *Engine) Quote(outputCount int, s settings.Settings) Quote {
	cfg := e.tables.Get()

	base := outputCount
	volume := volumeMultiplier(cfg, outputCount)
	quality := qualityMultiplier(cfg, s)
	score := s.MixingScore()
	mixing := mixingMultiplier(cfg, score)

	required := int64(math.Ceil(float64(base) * volume * quality * mixing))

	return Quote{
		BaseCredits:       base,
		VolumeMultiplier:  volume,
		QualityMultiplier: quality,
		MixingMultiplier:  mixing,
		MixingScore:       score,
		Strength:          StrengthLabel(score),
		CreditsRequired:   required,
		Breakdown: []BreakdownLine{
			{
				Label:      "base",
				Multiplier: float64(base),
				Reason:     fmt.Sprintf("%d output videos", outputCount),
			},
			{
				Label:      "volume",
				Multiplier: volume,
				Reason:     fmt.Sprintf("volume tier for %d outputs", outputCount),
			},
			{
				Label:      "quality",
				Multiplier: quality,
				Reason:     fmt.Sprintf("%s resolution, %s bitrate, %d fps", s.Resolution, s.Bitrate, s.FrameRate),
			},
			{
				Label:      "mixing",
				Multiplier: mixing,
				Reason:     fmt.Sprintf("%d variation toggles enabled (%s)", score, StrengthLabel(score)),
			},
		},
	}
}

func volumeMultiplier(cfg config.PricingConfig, outputCount int) float64 {
	for _, tier := range cfg.VolumeTiers {
		if tier.MaxOutputs == nil || outputCount <= *tier.MaxOutputs {
			return tier.Multiplier
		}
	}
	return cfg.VolumeTiers[len(cfg.VolumeTiers)-1].Multiplier
}

func qualityMultiplier(cfg config.PricingConfig, s settings.Settings) float64 {
	res, ok := cfg.ResolutionFactors[s.Resolution]
	if !ok {
		res = 1.0
	}
	bitrate, ok := cfg.BitrateFactors[s.Bitrate]
	if !ok {
		bitrate = 1.0
	}
	frameRate := 1.0
	if s.FrameRate >= 60 {
		frameRate = cfg.HighFrameRateFactor
	}
	return res * bitrate * frameRate
}

func mixingMultiplier(cfg config.PricingConfig, score int) float64 {
	if score < 0 {
		score = 0
	}
	if score >= len(cfg.MixingMultipliers) {
		score = len(cfg.MixingMultipliers) - 1
	}
	return cfg.MixingMultipliers[score]
}
