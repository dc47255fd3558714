package pricing

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Tier charges Fee for subtotals at or above MinSubtotal.
type Tier struct {
	MinSubtotal decimal.Decimal
	Fee         decimal.Decimal
}

type tierFile struct {
	Tiers []struct {
		MinSubtotal string `yaml:"min_subtotal"`
		Fee         string `yaml:"fee"`
	} `yaml:"tiers"`
}

// TieredFee picks the tier with the highest MinSubtotal not above the
// subtotal. Subtotals below every tier pay the first tier's fee.
func TieredFee(tiers []Tier) FeeFunc {
	sorted := append([]Tier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinSubtotal.LessThan(sorted[j].MinSubtotal)
	})
	return func(subtotal decimal.Decimal) decimal.Decimal {
		if len(sorted) == 0 {
			return decimal.Zero
		}
		fee := sorted[0].Fee
		for _, t := range sorted {
			if subtotal.LessThan(t.MinSubtotal) {
				break
			}
			fee = t.Fee
		}
		return fee
	}
}

// ParseTiers reads a YAML document of the form
//
//	tiers:
//	  - min_subtotal: "0"
//	    fee: "50"
//	  - min_subtotal: "100"
//	    fee: "0"
func ParseTiers(data []byte) ([]Tier, error) {
	var f tierFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tiers: %w", err)
	}
	if len(f.Tiers) == 0 {
		return nil, fmt.Errorf("parse tiers: no tiers defined")
	}
	out := make([]Tier, 0, len(f.Tiers))
	for i, t := range f.Tiers {
		min, err := decimal.NewFromString(t.MinSubtotal)
		if err != nil {
			return nil, fmt.Errorf("tier %d: min_subtotal: %w", i, err)
		}
		fee, err := decimal.NewFromString(t.Fee)
		if err != nil {
			return nil, fmt.Errorf("tier %d: fee: %w", i, err)
		}
		if min.IsNegative() || fee.IsNegative() {
			return nil, fmt.Errorf("tier %d: values cannot be negative", i)
		}
		out = append(out, Tier{MinSubtotal: min, Fee: fee})
	}
	return out, nil
}

func LoadTiers(path string) ([]Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTiers(data)
}

// NewPolicy builds the server policy: tiers from file when path is set,
// the threshold rule otherwise.
func NewPolicy(threshold, flat decimal.Decimal, tiersPath string) (Policy, error) {
	if tiersPath == "" {
		return Policy{Fee: ThresholdFee(threshold, flat)}, nil
	}
	tiers, err := LoadTiers(tiersPath)
	if err != nil {
		return Policy{}, err
	}
	return Policy{Fee: TieredFee(tiers)}, nil
}
