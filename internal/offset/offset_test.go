package offset

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"offset-rewards/internal/telemetry"
)

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func sample(ts time.Time, energy telemetry.EnergyType, dir telemetry.FlowDirection, kwh float64) telemetry.Sample {
	return telemetry.Sample{
		DeviceID:  "dev-1",
		Timestamp: ts,
		Energy:    energy,
		Direction: dir,
		KWh:       decimal.NewFromFloat(kwh),
	}
}

func TestAggregateEmptySamples(t *testing.T) {
	rec := Aggregate(nil, Monthly, "user-1", testNow)
	if !rec.TotalOffset.IsZero() {
		t.Fatalf("empty sample set should yield zero offset, got %s", rec.TotalOffset)
	}
	if len(rec.Breakdown) != 0 {
		t.Fatalf("empty sample set should yield empty breakdown, got %d entries", len(rec.Breakdown))
	}
	if rec.Period != Monthly || rec.UserID != "user-1" {
		t.Fatalf("record keys should be preserved: %+v", rec)
	}
}

func TestAggregateUnknownPeriod(t *testing.T) {
	samples := []telemetry.Sample{sample(testNow, telemetry.Solar, telemetry.Generation, 100)}
	rec := Aggregate(samples, PeriodKind("quarterly"), "user-1", testNow)
	if !rec.TotalOffset.IsZero() || len(rec.Breakdown) != 0 {
		t.Fatalf("unknown period should degrade to a zero record, got %+v", rec)
	}
}

func TestAggregateSumsByEnergyType(t *testing.T) {
	samples := []telemetry.Sample{
		sample(testNow.Add(-time.Hour), telemetry.Solar, telemetry.Generation, 1000),
		sample(testNow.Add(-2*time.Hour), telemetry.Solar, telemetry.Generation, 500),
		sample(testNow.Add(-3*time.Hour), telemetry.Wind, telemetry.Generation, 2000),
		sample(testNow.Add(-time.Hour), telemetry.Solar, telemetry.Consumption, 900),
		sample(testNow.AddDate(0, -2, 0), telemetry.Solar, telemetry.Generation, 9999),
	}

	rec := Aggregate(samples, Monthly, "user-1", testNow)

	// solar: 1500 kWh * 0.04 kg/kWh = 60 kg = 0.06 t
	solar := rec.Breakdown[telemetry.Solar]
	if !solar.KWh.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("solar quantity mismatch: %s", solar.KWh)
	}
	if !solar.Offset.Equal(decimal.NewFromFloat(0.06)) {
		t.Fatalf("solar contribution mismatch: %s", solar.Offset)
	}

	// wind: 2000 kWh * 0.011 kg/kWh = 22 kg = 0.022 t
	wind := rec.Breakdown[telemetry.Wind]
	if !wind.Offset.Equal(decimal.NewFromFloat(0.022)) {
		t.Fatalf("wind contribution mismatch: %s", wind.Offset)
	}

	if !rec.TotalOffset.Equal(decimal.NewFromFloat(0.082)) {
		t.Fatalf("total should be the sum of contributions: %s", rec.TotalOffset)
	}
}

func TestAggregateAdditivity(t *testing.T) {
	a := []telemetry.Sample{
		sample(testNow.Add(-time.Hour), telemetry.Solar, telemetry.Generation, 750),
		sample(testNow.Add(-2*time.Hour), telemetry.Geothermal, telemetry.Generation, 1200),
	}
	b := []telemetry.Sample{
		sample(testNow.Add(-4*time.Hour), telemetry.Solar, telemetry.Generation, 250),
		sample(testNow.Add(-5*time.Hour), telemetry.Hydroelectric, telemetry.Generation, 300),
	}

	union := Aggregate(append(append([]telemetry.Sample{}, a...), b...), Daily, "user-1", testNow)
	separate := Aggregate(a, Daily, "user-1", testNow).TotalOffset.
		Add(Aggregate(b, Daily, "user-1", testNow).TotalOffset)

	if !union.TotalOffset.Equal(separate) {
		t.Fatalf("aggregation should be a pure sum: union %s vs parts %s", union.TotalOffset, separate)
	}
}

func TestAggregateNonNegative(t *testing.T) {
	samples := []telemetry.Sample{
		sample(testNow.Add(-time.Hour), telemetry.Battery, telemetry.Generation, 50),
		sample(testNow.Add(-time.Hour), telemetry.Wind, telemetry.Generation, 0),
	}
	rec := Aggregate(samples, Weekly, "user-1", testNow)
	if rec.TotalOffset.Sign() < 0 {
		t.Fatalf("total offset must never be negative: %s", rec.TotalOffset)
	}
	for energy, c := range rec.Breakdown {
		if c.Offset.Sign() < 0 {
			t.Fatalf("%s contribution must never be negative: %s", energy, c.Offset)
		}
	}
}

func TestEfficiencyZeroEnergy(t *testing.T) {
	rec := Aggregate(nil, Daily, "user-1", testNow)
	if !Efficiency(rec).IsZero() {
		t.Fatal("efficiency of an empty record should be zero, not a division error")
	}
}

func TestEfficiency(t *testing.T) {
	samples := []telemetry.Sample{sample(testNow.Add(-time.Hour), telemetry.Solar, telemetry.Generation, 1000)}
	rec := Aggregate(samples, Daily, "user-1", testNow)
	// 0.04 t over 1000 kWh
	want := decimal.NewFromFloat(0.04).Div(decimal.NewFromInt(1000))
	if !Efficiency(rec).Equal(want) {
		t.Fatalf("efficiency mismatch: got %s want %s", Efficiency(rec), want)
	}
}

func TestSavingsVsGrid(t *testing.T) {
	samples := []telemetry.Sample{sample(testNow.Add(-time.Hour), telemetry.Wind, telemetry.Generation, 1000)}
	rec := Aggregate(samples, Daily, "user-1", testNow)

	// grid baseline: 1000 kWh * 0.5 kg/kWh = 0.5 t; actual 0.011 t
	want := decimal.NewFromFloat(0.5).Sub(decimal.NewFromFloat(0.011))
	if !SavingsVsGrid(rec).Equal(want) {
		t.Fatalf("savings mismatch: got %s want %s", SavingsVsGrid(rec), want)
	}
}

func TestPeriodWindowBoundaries(t *testing.T) {
	cases := []struct {
		period PeriodKind
		from   time.Time
		to     time.Time
	}{
		{Daily, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)},
		{Weekly, time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)},
		{Monthly, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{Yearly, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tc := range cases {
		from, to := PeriodWindow(tc.period, testNow)
		if !from.Equal(tc.from) || !to.Equal(tc.to) {
			t.Fatalf("%s window mismatch: got [%s, %s) want [%s, %s)", tc.period, from, to, tc.from, tc.to)
		}
	}
}

func TestTrendOrderingAndDeterminism(t *testing.T) {
	samples := []telemetry.Sample{
		sample(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), telemetry.Solar, telemetry.Generation, 400),
		sample(time.Date(2025, 1, 5, 8, 0, 0, 0, time.UTC), telemetry.Wind, telemetry.Generation, 600),
		sample(time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC), telemetry.Solar, telemetry.Consumption, 150),
		sample(time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC), telemetry.Geothermal, telemetry.Generation, 800),
		{DeviceID: "dev-1", Energy: telemetry.Solar, Direction: telemetry.Generation, KWh: decimal.NewFromInt(1)},
	}

	points := Trend(samples, Monthly)
	if len(points) != 3 {
		t.Fatalf("expected 3 monthly buckets (zero-time sample ignored), got %d", len(points))
	}

	labels := []string{"2025-01", "2025-02", "2025-03"}
	for i, want := range labels {
		if points[i].Label != want {
			t.Fatalf("bucket %d label mismatch: got %s want %s", i, points[i].Label, want)
		}
	}

	march := points[2]
	if !march.Generation.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("march generation mismatch: %s", march.Generation)
	}
	if !march.Consumption.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("march consumption mismatch: %s", march.Consumption)
	}

	again := Trend(samples, Monthly)
	for i := range points {
		if points[i].Label != again[i].Label || !points[i].Offset.Equal(again[i].Offset) {
			t.Fatal("trend recomputation should be deterministic")
		}
	}
}
