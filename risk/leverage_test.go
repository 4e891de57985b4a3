package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestQuantizeRoundsUpNeverDown(t *testing.T) {
	tiers := []int{1, 2, 3, 5, 10, 20}

	cases := []struct {
		required string
		want     int
		clamped  bool
	}{
		{"0.5", 1, false},
		{"1", 1, false},
		{"1.01", 2, false},
		{"2", 2, false},
		{"2.5", 3, false},
		{"3.7", 5, false},
		{"5.0001", 10, false},
		{"10", 10, false},
		{"19.99", 20, false},
		{"20", 20, false},
		{"20.01", 20, true},
		{"150", 20, true},
	}

	for _, tc := range cases {
		tier, clamped := Quantize(decimal.RequireFromString(tc.required), tiers)
		if tier != tc.want || clamped != tc.clamped {
			t.Fatalf("Quantize(%s) = (%d, %v), want (%d, %v)",
				tc.required, tier, clamped, tc.want, tc.clamped)
		}
	}
}

func TestQuantizeEmptyTiersDefaultsToOne(t *testing.T) {
	tier, clamped := Quantize(decimal.NewFromInt(3), nil)
	if tier != 1 || clamped {
		t.Fatalf("expected (1, false) for empty tiers, got (%d, %v)", tier, clamped)
	}
}
