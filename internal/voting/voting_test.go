package voting

import (
	"testing"

	"github.com/shopspring/decimal"

	"offset-rewards/internal/telemetry"
)

func holding(energy telemetry.EnergyType, kw int64) AssetHolding {
	return AssetHolding{Energy: energy, CapacityKW: decimal.NewFromInt(kw)}
}

func TestVotingThresholdScenario(t *testing.T) {
	calc := NewCalculator(DefaultParams())

	// One 50 kW geothermal asset: 50 * 1.5 * 100 = 7500.
	breakdown := calc.ComputeBreakdown([]AssetHolding{holding(telemetry.Geothermal, 50)}, 0, decimal.Zero)
	if !breakdown.TotalPower.Equal(decimal.NewFromInt(7500)) {
		t.Fatalf("expected 7500 total power, got %s", breakdown.TotalPower)
	}
	if calc.CanCreateProposal(breakdown.TotalPower) {
		t.Fatal("7500 must not clear the 10000 proposal threshold")
	}

	// Adding 20 kW geothermal raises power to 10500.
	breakdown = calc.ComputeBreakdown([]AssetHolding{
		holding(telemetry.Geothermal, 50),
		holding(telemetry.Geothermal, 20),
	}, 0, decimal.Zero)
	if !breakdown.TotalPower.Equal(decimal.NewFromInt(10500)) {
		t.Fatalf("expected 10500 total power, got %s", breakdown.TotalPower)
	}
	if !calc.CanCreateProposal(breakdown.TotalPower) {
		t.Fatal("10500 should clear the 10000 proposal threshold")
	}

	if len(breakdown.Groups) != 1 || breakdown.Groups[0].Count != 2 {
		t.Fatalf("expected one geothermal group of two assets, got %+v", breakdown.Groups)
	}
}

func TestZeroInputs(t *testing.T) {
	calc := NewCalculator(DefaultParams())
	breakdown := calc.ComputeBreakdown(nil, 0, decimal.Zero)
	if !breakdown.TotalPower.IsZero() {
		t.Fatalf("zero holdings and points must yield zero power, got %s", breakdown.TotalPower)
	}
	if len(breakdown.Groups) != 0 {
		t.Fatalf("expected empty breakdown list, got %d groups", len(breakdown.Groups))
	}
}

func TestPointsBonus(t *testing.T) {
	calc := NewCalculator(DefaultParams())
	breakdown := calc.ComputeBreakdown(nil, 250, decimal.Zero)
	if !breakdown.PointsBonus.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("250 points at 0.1 should add 25 power, got %s", breakdown.PointsBonus)
	}
	if !breakdown.TotalPower.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("total should include the points bonus, got %s", breakdown.TotalPower)
	}
}

func TestOffsetBonusTiersOnBasePower(t *testing.T) {
	calc := NewCalculator(DefaultParams())
	holdings := []AssetHolding{holding(telemetry.Solar, 100)} // base 10000

	// 25 tons crosses two 10-ton tiers: 2 * 5% * 10000 = 1000.
	breakdown := calc.ComputeBreakdown(holdings, 0, decimal.NewFromInt(25))
	if !breakdown.OffsetBonus.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected 1000 offset bonus, got %s", breakdown.OffsetBonus)
	}
	if !breakdown.TotalPower.Equal(decimal.NewFromInt(11000)) {
		t.Fatalf("expected 11000 total, got %s", breakdown.TotalPower)
	}

	// The bonus is a percentage of base power, not of total: 9.9 tons is
	// below the first tier and adds nothing.
	breakdown = calc.ComputeBreakdown(holdings, 0, decimal.NewFromFloat(9.9))
	if !breakdown.OffsetBonus.IsZero() {
		t.Fatalf("below-tier offset must add no bonus, got %s", breakdown.OffsetBonus)
	}
}

func TestMonotonicity(t *testing.T) {
	calc := NewCalculator(DefaultParams())
	points := int64(120)
	offsetTons := decimal.NewFromInt(12)

	base := []AssetHolding{holding(telemetry.Wind, 30), holding(telemetry.Battery, 10)}
	more := append(append([]AssetHolding{}, base...), holding(telemetry.Wind, 5))

	lower := calc.ComputeBreakdown(base, points, offsetTons)
	higher := calc.ComputeBreakdown(more, points, offsetTons)
	if higher.TotalPower.LessThan(lower.TotalPower) {
		t.Fatalf("adding capacity must never lower power: %s -> %s", lower.TotalPower, higher.TotalPower)
	}
}

func TestPercentageNormalization(t *testing.T) {
	calc := NewCalculator(DefaultParams())
	holdings := []AssetHolding{
		holding(telemetry.Solar, 10),
		holding(telemetry.Wind, 20),
		holding(telemetry.Geothermal, 5),
	}

	breakdown := calc.ComputeBreakdown(holdings, 0, decimal.Zero)
	sum := decimal.Zero
	for _, g := range breakdown.Groups {
		sum = sum.Add(g.Percentage)
	}
	tolerance := decimal.NewFromFloat(0.000001)
	if sum.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(tolerance) {
		t.Fatalf("percentages should sum to 100 with no bonuses, got %s", sum)
	}

	zero := calc.ComputeBreakdown(nil, 0, decimal.Zero)
	for _, g := range zero.Groups {
		if !g.Percentage.IsZero() {
			t.Fatalf("zero-power breakdown must report 0%%, got %s", g.Percentage)
		}
	}
}

func TestGroupOrderingByWeight(t *testing.T) {
	calc := NewCalculator(DefaultParams())
	holdings := []AssetHolding{
		holding(telemetry.Battery, 10),
		holding(telemetry.Geothermal, 10),
		holding(telemetry.Solar, 10),
	}

	breakdown := calc.ComputeBreakdown(holdings, 0, decimal.Zero)
	want := []telemetry.EnergyType{telemetry.Geothermal, telemetry.Solar, telemetry.Battery}
	for i, g := range breakdown.Groups {
		if g.Energy != want[i] {
			t.Fatalf("group %d should be %s, got %s", i, want[i], g.Energy)
		}
	}
}

func TestUnknownEnergyTypeIgnored(t *testing.T) {
	calc := NewCalculator(DefaultParams())
	holdings := []AssetHolding{
		{Energy: telemetry.EnergyType("fusion"), CapacityKW: decimal.NewFromInt(1000)},
		holding(telemetry.Solar, 10),
	}

	breakdown := calc.ComputeBreakdown(holdings, 0, decimal.Zero)
	if !breakdown.TotalPower.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unknown energy type should contribute nothing, got %s", breakdown.TotalPower)
	}
}

func TestRecommendNext(t *testing.T) {
	calc := NewCalculator(DefaultParams())

	ranked := calc.RecommendNext([]AssetHolding{holding(telemetry.Geothermal, 10)})
	want := []telemetry.EnergyType{telemetry.Hydroelectric, telemetry.Wind, telemetry.Solar, telemetry.Battery}
	if len(ranked) != len(want) {
		t.Fatalf("expected %d recommendations, got %d", len(want), len(ranked))
	}
	for i := range want {
		if ranked[i] != want[i] {
			t.Fatalf("recommendation %d should be %s, got %s", i, want[i], ranked[i])
		}
	}

	all := []AssetHolding{
		holding(telemetry.Solar, 1), holding(telemetry.Wind, 1), holding(telemetry.Geothermal, 1),
		holding(telemetry.Hydroelectric, 1), holding(telemetry.Battery, 1),
	}
	if got := calc.RecommendNext(all); len(got) != 0 {
		t.Fatalf("full coverage should recommend nothing, got %v", got)
	}
}
