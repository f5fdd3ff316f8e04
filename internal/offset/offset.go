package offset

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"offset-rewards/internal/telemetry"
)

// PeriodKind selects the aggregation window of an offset record.
type PeriodKind string

const (
	Daily   PeriodKind = "daily"
	Weekly  PeriodKind = "weekly"
	Monthly PeriodKind = "monthly"
	Yearly  PeriodKind = "yearly"
)

// Emission factors in kg CO2 per kWh. GridFactor is the grid-average baseline.
var (
	emissionFactors = map[telemetry.EnergyType]decimal.Decimal{
		telemetry.Solar:         decimal.NewFromFloat(0.04),
		telemetry.Wind:          decimal.NewFromFloat(0.011),
		telemetry.Geothermal:    decimal.NewFromFloat(0.006),
		telemetry.Hydroelectric: decimal.NewFromFloat(0.024),
		telemetry.Battery:       decimal.NewFromFloat(0.05),
	}

	// GridFactor is the grid-average emission factor in kg CO2 per kWh.
	GridFactor = decimal.NewFromFloat(0.5)

	kgPerTon = decimal.NewFromInt(1000)
)

// EmissionFactor returns the fixed factor for an energy type; zero for unknown tags.
func EmissionFactor(t telemetry.EnergyType) decimal.Decimal {
	return emissionFactors[t]
}

// Contribution is one energy type's share of an offset record.
type Contribution struct {
	KWh    decimal.Decimal `json:"kwh"`
	Factor decimal.Decimal `json:"factor"`
	Offset decimal.Decimal `json:"offset_tons"`
}

// Record is a per-user, per-period carbon offset aggregation.
// TotalOffset always equals the sum of the breakdown contributions.
type Record struct {
	UserID      string                                `json:"user_id"`
	Period      PeriodKind                            `json:"period"`
	TotalOffset decimal.Decimal                       `json:"total_offset_tons"`
	Breakdown   map[telemetry.EnergyType]Contribution `json:"breakdown"`
	Verified    bool                                  `json:"verified"`
	GeneratedAt time.Time                             `json:"generated_at"`
}

// PeriodWindow computes the [from, to) window of a period containing now.
// Weeks start on Monday; all boundaries are UTC. An unknown period kind
// yields an empty window.
func PeriodWindow(period PeriodKind, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	switch period {
	case Daily:
		from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(0, 0, 1)
	case Weekly:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		offsetDays := (int(day.Weekday()) + 6) % 7
		from := day.AddDate(0, 0, -offsetDays)
		return from, from.AddDate(0, 0, 7)
	case Monthly:
		from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(0, 1, 0)
	case Yearly:
		from := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(1, 0, 0)
	}
	return time.Time{}, time.Time{}
}

// Aggregate folds the samples falling inside the period window containing
// now into a single offset record. Only generation-direction samples
// contribute to the offset; an empty or fully filtered sample set yields a
// zero-valued record.
func Aggregate(samples []telemetry.Sample, period PeriodKind, userID string, now time.Time) Record {
	rec := Record{
		UserID:      userID,
		Period:      period,
		TotalOffset: decimal.Zero,
		Breakdown:   make(map[telemetry.EnergyType]Contribution),
		GeneratedAt: now.UTC(),
	}

	from, to := PeriodWindow(period, now)
	if from.IsZero() && to.IsZero() {
		return rec
	}

	quantities := make(map[telemetry.EnergyType]decimal.Decimal)
	for _, s := range samples {
		if s.Direction != telemetry.Generation {
			continue
		}
		if !telemetry.ValidEnergyType(s.Energy) {
			continue
		}
		ts := s.Timestamp.UTC()
		if ts.Before(from) || !ts.Before(to) {
			continue
		}
		quantities[s.Energy] = quantities[s.Energy].Add(s.KWh)
	}

	for energy, kwh := range quantities {
		factor := emissionFactors[energy]
		contribution := kwh.Mul(factor).Div(kgPerTon)
		assertNonNegative(contribution, energy)
		rec.Breakdown[energy] = Contribution{KWh: kwh, Factor: factor, Offset: contribution}
		rec.TotalOffset = rec.TotalOffset.Add(contribution)
	}

	return rec
}

// Efficiency reports offset tons per kWh processed; zero when the record
// covers no energy.
func Efficiency(rec Record) decimal.Decimal {
	total := decimal.Zero
	for _, c := range rec.Breakdown {
		total = total.Add(c.KWh)
	}
	if total.IsZero() {
		return decimal.Zero
	}
	return rec.TotalOffset.Div(total)
}

// SavingsVsGrid reports how many tons the same energy would have emitted
// under the grid-average factor, minus the record's actual offset. A
// negative result means the recorded mix was dirtier than the grid
// baseline and is a valid, reportable outcome.
func SavingsVsGrid(rec Record) decimal.Decimal {
	total := decimal.Zero
	for _, c := range rec.Breakdown {
		total = total.Add(c.KWh)
	}
	gridTons := total.Mul(GridFactor).Div(kgPerTon)
	return gridTons.Sub(rec.TotalOffset)
}

// TrendPoint is one calendar bucket of a trend sequence.
type TrendPoint struct {
	Label       string
	Start       time.Time
	Offset      decimal.Decimal
	Generation  decimal.Decimal
	Consumption decimal.Decimal
}

// Trend buckets samples by calendar period and aggregates each bucket
// independently, ascending chronologically. Recomputing from the same
// samples always yields the same sequence. Samples with a zero timestamp
// or an unknown period kind are ignored.
func Trend(samples []telemetry.Sample, period PeriodKind) []TrendPoint {
	buckets := make(map[time.Time]*TrendPoint)

	for _, s := range samples {
		if s.Timestamp.IsZero() {
			continue
		}
		start, label, ok := bucketOf(period, s.Timestamp.UTC())
		if !ok {
			continue
		}
		pt, exists := buckets[start]
		if !exists {
			pt = &TrendPoint{
				Label:       label,
				Start:       start,
				Offset:      decimal.Zero,
				Generation:  decimal.Zero,
				Consumption: decimal.Zero,
			}
			buckets[start] = pt
		}
		switch s.Direction {
		case telemetry.Generation:
			pt.Generation = pt.Generation.Add(s.KWh)
			if telemetry.ValidEnergyType(s.Energy) {
				contribution := s.KWh.Mul(emissionFactors[s.Energy]).Div(kgPerTon)
				assertNonNegative(contribution, s.Energy)
				pt.Offset = pt.Offset.Add(contribution)
			}
		case telemetry.Consumption:
			pt.Consumption = pt.Consumption.Add(s.KWh)
		}
	}

	points := make([]TrendPoint, 0, len(buckets))
	for _, pt := range buckets {
		points = append(points, *pt)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Start.Before(points[j].Start) })
	return points
}

func bucketOf(period PeriodKind, ts time.Time) (time.Time, string, bool) {
	switch period {
	case Daily:
		start := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.Format("2006-01-02"), true
	case Weekly:
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		start := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
		year, week := start.ISOWeek()
		return start, fmt.Sprintf("%d-W%02d", year, week), true
	case Monthly:
		start := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.Format("2006-01"), true
	case Yearly:
		start := time.Date(ts.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return start, start.Format("2006"), true
	}
	return time.Time{}, "", false
}

// assertNonNegative guards the offset accounting invariant. A negative
// contribution means corrupted input made it past the boundary and the
// points it would feed cannot be trusted.
func assertNonNegative(d decimal.Decimal, energy telemetry.EnergyType) {
	if d.Sign() < 0 {
		panic(fmt.Sprintf("offset: negative contribution for %s: %s", energy, d.String()))
	}
}
