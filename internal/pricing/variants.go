package pricing

import (
	"math"

	"github.com/mixforge/mixforge/internal/settings"
)

// EstimateVariants returns an advisory upper bound on the distinct outputs
// realizable from videoCount source videos under the given settings. It only
// informs clients; admission does not gate on it. Saturates at MaxInt64.
func EstimateVariants(videoCount int, s settings.Settings) int64 {
	total := int64(1)

	if s.OrderMixing && videoCount > 0 {
		if s.DifferentStartingVideo && videoCount > 1 {
			// Capped at one ordering per distinct starting video.
			total = mulSat(total, minInt64(factorialSat(videoCount), int64(videoCount)))
		} else {
			total = mulSat(total, factorialSat(videoCount))
		}
	}

	if s.SpeedMixing && videoCount > 0 {
		total = mulSat(total, powSat(int64(len(s.AllowedSpeeds)), videoCount))
	}

	return total
}

func factorialSat(n int) int64 {
	result := int64(1)
	for i := 2; i <= n; i++ {
		result = mulSat(result, int64(i))
		if result == math.MaxInt64 {
			break
		}
	}
	return result
}

func powSat(base int64, exp int) int64 {
	if exp <= 0 {
		return 1
	}
	result := int64(1)
	for i := 0; i < exp; i++ {
		result = mulSat(result, base)
		if result == math.MaxInt64 {
			break
		}
	}
	return result
}

func mulSat(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
