// Package calc turns a detected surebet into betting advice: a stake tier
// for the soft side and the minimum soft odds at which the play stays
// profitable against the sharp price.
//
// Each sharp bookmaker gets its own Calculator because the profit margin
// baked into a sharp book's lines differs per book. Calculators are looked
// up through a Registry keyed by sharp bookmaker id.
package calc

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"retador/pkg/types"
)

// Tier is the stake recommendation attached to a published pick.
type Tier int

const (
	TierRed Tier = iota
	TierOrange
	TierYellow
	TierGreen
)

// Emoji returns the marker shown at the head of the message.
func (t Tier) Emoji() string {
	switch t {
	case TierRed:
		return "\U0001F534" // 🔴
	case TierOrange:
		return "\U0001F7E0" // 🟠
	case TierYellow:
		return "\U0001F7E1" // 🟡
	case TierGreen:
		return "\U0001F7E2" // 🟢
	}
	return "?"
}

// MinOdds carries both the raw value used for comparisons and the
// two-decimal display form (rounded half up).
type MinOdds struct {
	Raw     float64
	Display string
}

// Calculator derives advice from a surebet's sharp side.
type Calculator interface {
	// Name identifies the calculator in logs.
	Name() string
	// StakeTier maps the surebet profit to a stake recommendation, or
	// returns an error when the profit is outside the publishable window.
	StakeTier(p types.Profit) (Tier, error)
	// MinOdds computes the lowest soft odds still worth taking given the
	// sharp price.
	MinOdds(sharp types.Odds) (MinOdds, error)
}

// Registry resolves the calculator for a sharp bookmaker. Lookups fall back
// to a default calculator when no bookmaker-specific entry exists.
type Registry struct {
	byBookmaker map[string]Calculator
	fallback    Calculator
}

// NewRegistry creates a registry with the given default calculator.
func NewRegistry(fallback Calculator) *Registry {
	return &Registry{
		byBookmaker: make(map[string]Calculator),
		fallback:    fallback,
	}
}

// Register binds a calculator to a sharp bookmaker id.
func (r *Registry) Register(bookmaker string, c Calculator) {
	r.byBookmaker[bookmaker] = c
}

// For returns the calculator for the given sharp bookmaker.
func (r *Registry) For(bookmaker string) Calculator {
	if c, ok := r.byBookmaker[bookmaker]; ok {
		return c
	}
	return r.fallback
}

func displayMinOdds(raw float64) MinOdds {
	return MinOdds{
		Raw:     raw,
		Display: decimal.NewFromFloat(raw).Round(2).StringFixed(2),
	}
}

// ─── Pinnacle ────────────────────────────────────────────────────────────────

// Pinnacle is the calculator for Pinnacle-priced surebets and the registry
// default. The 1% term is the margin we insist on keeping after the sharp
// side's implied probability.
type Pinnacle struct{}

func (Pinnacle) Name() string { return "pinnacle" }

// StakeTier bands are left-inclusive: a profit sitting exactly on a
// boundary takes the higher tier.
func (Pinnacle) StakeTier(p types.Profit) (Tier, error) {
	v := p.Value()
	switch {
	case v < -1.0 || v > 25.0:
		return 0, fmt.Errorf("profit %.2f%% outside publishable window [-1, 25]", v)
	case v < -0.5:
		return TierRed, nil
	case v < 1.5:
		return TierOrange, nil
	case v < 4.0:
		return TierYellow, nil
	default:
		return TierGreen, nil
	}
}

func (Pinnacle) MinOdds(sharp types.Odds) (MinOdds, error) {
	return minOddsWithMargin(sharp, 0.01)
}

// ─── Bet365 ──────────────────────────────────────────────────────────────────

// Bet365 applies a tighter 0.5% margin and only publishes comfortably
// profitable plays; everything under 2% is rejected.
type Bet365 struct{}

func (Bet365) Name() string { return "bet365" }

func (Bet365) StakeTier(p types.Profit) (Tier, error) {
	if v := p.Value(); v < 2.0 {
		return 0, fmt.Errorf("profit %.2f%% below 2%% threshold", v)
	}
	return TierOrange, nil
}

func (Bet365) MinOdds(sharp types.Odds) (MinOdds, error) {
	return minOddsWithMargin(sharp, 0.005)
}

func minOddsWithMargin(sharp types.Odds, margin float64) (MinOdds, error) {
	denom := (1 + margin) - 1/sharp.Value()
	if denom <= 0 || math.IsInf(1/denom, 0) || math.IsNaN(1/denom) {
		return MinOdds{}, fmt.Errorf("sharp odds %s too skewed for a minimum", sharp)
	}
	return displayMinOdds(1 / denom), nil
}
