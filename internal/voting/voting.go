package voting

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"offset-rewards/internal/telemetry"
)

// AssetHolding is one owned energy asset. The calculator treats holdings
// as read-only input and never mutates them.
type AssetHolding struct {
	Energy     telemetry.EnergyType
	CapacityKW decimal.Decimal
}

// GroupBreakdown is one energy type's contribution to the total power.
type GroupBreakdown struct {
	Energy     telemetry.EnergyType
	Count      int
	CapacityKW decimal.Decimal
	Weight     decimal.Decimal
	Power      decimal.Decimal
	Percentage decimal.Decimal
}

// Breakdown is the composed voting power of one user, recomputed on
// demand from current inputs.
type Breakdown struct {
	TotalPower  decimal.Decimal
	BasePower   decimal.Decimal
	PointsBonus decimal.Decimal
	OffsetBonus decimal.Decimal
	Groups      []GroupBreakdown
}

// Params fix the voting power formula and governance thresholds.
type Params struct {
	Weights            map[telemetry.EnergyType]decimal.Decimal
	BasePowerPerKW     decimal.Decimal
	PointsMultiplier   decimal.Decimal
	BonusThresholdTons decimal.Decimal
	BonusPct           decimal.Decimal
	ProposalThreshold  decimal.Decimal
	Quorum             decimal.Decimal
	VotingPeriod       time.Duration
}

// DefaultParams returns the marketplace's fixed governance parameters.
func DefaultParams() Params {
	return Params{
		Weights: map[telemetry.EnergyType]decimal.Decimal{
			telemetry.Geothermal:    decimal.NewFromFloat(1.5),
			telemetry.Hydroelectric: decimal.NewFromFloat(1.3),
			telemetry.Wind:          decimal.NewFromFloat(1.2),
			telemetry.Solar:         decimal.NewFromFloat(1.0),
			telemetry.Battery:       decimal.NewFromFloat(0.8),
		},
		BasePowerPerKW:     decimal.NewFromInt(100),
		PointsMultiplier:   decimal.NewFromFloat(0.1),
		BonusThresholdTons: decimal.NewFromInt(10),
		BonusPct:           decimal.NewFromFloat(0.05),
		ProposalThreshold:  decimal.NewFromInt(10000),
		Quorum:             decimal.NewFromInt(100000),
		VotingPeriod:       7 * 24 * time.Hour,
	}
}

// Calculator composes voting power from holdings, points, and offsets.
// It is a pure function over its inputs and safe for concurrent use.
type Calculator struct {
	params Params
}

// NewCalculator builds a calculator over fixed params.
func NewCalculator(params Params) Calculator {
	return Calculator{params: params}
}

// Params exposes the fixed configuration consumed by governance callers.
func (c Calculator) Params() Params {
	return c.params
}

// ComputeBreakdown groups holdings by energy type, weights each group's
// summed capacity, and adds the points bonus and the tiered offset bonus.
// The offset bonus is a percentage of the base power per full bonus
// threshold crossed, not a flat add-on; the compounding relationship is
// fixed and covered by tests. Holdings with an unrecognised energy type
// contribute nothing. A user with no holdings and no points gets a zero
// breakdown, never an error.
func (c Calculator) ComputeBreakdown(holdings []AssetHolding, points int64, offsetTons decimal.Decimal) Breakdown {
	type group struct {
		count    int
		capacity decimal.Decimal
	}
	groups := make(map[telemetry.EnergyType]*group)
	for _, h := range holdings {
		if _, known := c.params.Weights[h.Energy]; !known {
			continue
		}
		g, ok := groups[h.Energy]
		if !ok {
			g = &group{capacity: decimal.Zero}
			groups[h.Energy] = g
		}
		g.count++
		g.capacity = g.capacity.Add(h.CapacityKW)
	}

	breakdown := Breakdown{
		BasePower:   decimal.Zero,
		PointsBonus: decimal.Zero,
		OffsetBonus: decimal.Zero,
	}

	for energy, g := range groups {
		weight := c.params.Weights[energy]
		power := g.capacity.Mul(weight).Mul(c.params.BasePowerPerKW)
		breakdown.Groups = append(breakdown.Groups, GroupBreakdown{
			Energy:     energy,
			Count:      g.count,
			CapacityKW: g.capacity,
			Weight:     weight,
			Power:      power,
		})
		breakdown.BasePower = breakdown.BasePower.Add(power)
	}

	sort.Slice(breakdown.Groups, func(i, j int) bool {
		wi, wj := breakdown.Groups[i].Weight, breakdown.Groups[j].Weight
		if !wi.Equal(wj) {
			return wi.GreaterThan(wj)
		}
		return breakdown.Groups[i].Energy < breakdown.Groups[j].Energy
	})

	if points > 0 {
		breakdown.PointsBonus = decimal.NewFromInt(points).Mul(c.params.PointsMultiplier)
	}

	if offsetTons.IsPositive() && c.params.BonusThresholdTons.IsPositive() {
		tiers := offsetTons.Div(c.params.BonusThresholdTons).Floor()
		breakdown.OffsetBonus = tiers.Mul(c.params.BonusPct).Mul(breakdown.BasePower)
	}

	breakdown.TotalPower = breakdown.BasePower.Add(breakdown.PointsBonus).Add(breakdown.OffsetBonus)

	hundred := decimal.NewFromInt(100)
	for i := range breakdown.Groups {
		if breakdown.TotalPower.IsZero() {
			breakdown.Groups[i].Percentage = decimal.Zero
			continue
		}
		breakdown.Groups[i].Percentage = breakdown.Groups[i].Power.Div(breakdown.TotalPower).Mul(hundred)
	}

	return breakdown
}

// CanCreateProposal gates proposal creation on the fixed threshold.
func (c Calculator) CanCreateProposal(power decimal.Decimal) bool {
	return power.GreaterThanOrEqual(c.params.ProposalThreshold)
}

// RecommendNext ranks energy types the user does not yet hold by weight
// descending. Advisory only.
func (c Calculator) RecommendNext(holdings []AssetHolding) []telemetry.EnergyType {
	held := make(map[telemetry.EnergyType]bool, len(holdings))
	for _, h := range holdings {
		held[h.Energy] = true
	}

	var missing []telemetry.EnergyType
	for _, t := range telemetry.KnownEnergyTypes() {
		if _, known := c.params.Weights[t]; !known {
			continue
		}
		if !held[t] {
			missing = append(missing, t)
		}
	}

	sort.Slice(missing, func(i, j int) bool {
		wi, wj := c.params.Weights[missing[i]], c.params.Weights[missing[j]]
		if !wi.Equal(wj) {
			return wi.GreaterThan(wj)
		}
		return missing[i] < missing[j]
	})
	return missing
}
