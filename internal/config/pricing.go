package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// VolumeTier maps an output-count ceiling to a volume multiplier.
// A nil MaxOutputs means "everything above the previous tier".
type VolumeTier struct {
	MaxOutputs *int    `mapstructure:"maxOutputs" json:"maxOutputs"`
	Multiplier float64 `mapstructure:"multiplier" json:"multiplier"`
}

// PricingConfig holds the multiplier tables used by the credit pricing engine.
type PricingConfig struct {
	VolumeTiers         []VolumeTier       `mapstructure:"volumeTiers" json:"volumeTiers"`
	ResolutionFactors   map[string]float64 `mapstructure:"resolutionFactors" json:"resolutionFactors"`
	BitrateFactors      map[string]float64 `mapstructure:"bitrateFactors" json:"bitrateFactors"`
	HighFrameRateFactor float64            `mapstructure:"highFrameRateFactor" json:"highFrameRateFactor"`
	MixingMultipliers   []float64          `mapstructure:"mixingMultipliers" json:"mixingMultipliers"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		VolumeTiers: []VolumeTier{
			{MaxOutputs: intPtr(5), Multiplier: 1.0},
			{MaxOutputs: intPtr(10), Multiplier: 1.5},
			{MaxOutputs: intPtr(20), Multiplier: 2.0},
			{MaxOutputs: nil, Multiplier: 3.0},
		},
		ResolutionFactors: map[string]float64{
			"sd":     0.8,
			"hd":     1.0,
			"fullhd": 1.5,
		},
		BitrateFactors: map[string]float64{
			"low":    0.7,
			"medium": 1.0,
			"high":   1.3,
		},
		HighFrameRateFactor: 1.2,
		MixingMultipliers:   []float64{0.5, 0.8, 1.0, 1.2, 1.5, 1.8, 2.2},
	}
}

func intPtr(v int) *int { return &v }

// PricingConfigHolder exposes the current pricing tables and hot-reloads them
// from disk so operators can tune multipliers without a redeploy.
type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingConfigHolder() (*PricingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/mixforge/config") // Volume-mounted config
	v.AddConfigPath("/etc/mixforge")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("MIXFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg := DefaultPricingConfig()
	if fileFound {
		if err := v.UnmarshalKey("pricing", &cfg); err != nil {
			return nil, err
		}
		if err := validatePricingConfig(cfg); err != nil {
			return nil, err
		}
	}

	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated PricingConfig
			if err := v.UnmarshalKey("pricing", &updated); err != nil {
				log.Printf("[pricing-config] reload failed: %v", err)
				return
			}
			if err := validatePricingConfig(updated); err != nil {
				log.Printf("[pricing-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[pricing-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

// NewStaticPricingConfigHolder returns a holder pinned to cfg, for tests.
func NewStaticPricingConfigHolder(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func validatePricingConfig(cfg PricingConfig) error {
	if len(cfg.VolumeTiers) == 0 {
		return errors.New("pricing.volumeTiers cannot be empty")
	}
	if cfg.VolumeTiers[len(cfg.VolumeTiers)-1].MaxOutputs != nil {
		return errors.New("pricing.volumeTiers must end with an open tier")
	}
	if len(cfg.ResolutionFactors) == 0 {
		return errors.New("pricing.resolutionFactors cannot be empty")
	}
	if len(cfg.BitrateFactors) == 0 {
		return errors.New("pricing.bitrateFactors cannot be empty")
	}
	if len(cfg.MixingMultipliers) == 0 {
		return errors.New("pricing.mixingMultipliers cannot be empty")
	}
	for _, m := range cfg.MixingMultipliers {
		if m <= 0 {
			return errors.New("pricing.mixingMultipliers must be positive")
		}
	}
	return nil
}
