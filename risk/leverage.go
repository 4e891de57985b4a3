package risk

import "github.com/shopspring/decimal"

// Quantize maps a continuous required leverage onto the smallest configured
// tier that covers it. The policy is round up, never down: selecting a lower
// tier would under-realize the requested risk. When the requirement exceeds
// the largest tier, that tier is returned with clamped=true so the caller can
// surface the overshoot.
//
// Tiers must be ascending. An empty tier set quantizes to 1x.
func Quantize(required decimal.Decimal, tiers []int) (tier int, clamped bool) {
	if len(tiers) == 0 {
		return 1, false
	}
	for _, t := range tiers {
		if decimal.NewFromInt(int64(t)).GreaterThanOrEqual(required) {
			return t, false
		}
	}
	return tiers[len(tiers)-1], true
}
