package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"offset-rewards/internal/badge"
	"offset-rewards/internal/offset"
	"offset-rewards/internal/storage"
)

// snapshotDocument is the JSON export payload.
type snapshotDocument struct {
	UserID     string                 `json:"user_id"`
	ExportedAt time.Time              `json:"exported_at"`
	Lifetime   decimal.Decimal        `json:"lifetime_offset_tons"`
	Records    []storage.StoredRecord `json:"records"`
	Badges     []badge.Unlock         `json:"recent_unlocks"`
	Points     int64                  `json:"total_points"`
}

// Export renders a user's daily offset history as JSON, CSV, and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.UserID == "" {
		return errors.New("--user must be provided")
	}
	if opts.JSONPath == "" && opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --json, --csv, or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, 0, -opts.MaxPoints)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := store.ListOffsetRecords(ctx, opts.UserID, offset.Daily, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Str("user", opts.UserID).Msg("no offset records found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting offset records")

	if opts.JSONPath != "" {
		ledger, err := a.newLedger(ctx, store)
		if err != nil {
			return err
		}
		lifetime, err := store.SumDailyOffsets(ctx, opts.UserID)
		if err != nil {
			return err
		}
		stats := ledger.Stats(opts.UserID)
		doc := snapshotDocument{
			UserID:     opts.UserID,
			ExportedAt: time.Now().UTC(),
			Lifetime:   lifetime,
			Records:    downsampled,
			Badges:     stats.RecentUnlocks,
			Points:     stats.TotalPoints,
		}
		if err := writeSnapshotJSON(opts.JSONPath, doc); err != nil {
			return err
		}
	}

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []storage.StoredRecord, max int) []storage.StoredRecord {
	if max <= 0 || len(records) <= max {
		return records
	}

	result := make([]storage.StoredRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeSnapshotJSON(path string, doc snapshotDocument) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}

func writeRecordsCSV(path string, records []storage.StoredRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_ts", "total_offset_tons", "savings_vs_grid_tons", "efficiency_tons_per_kwh", "verified", "generated_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.Bucket.Format(time.RFC3339),
			rec.TotalOffset.String(),
			offset.SavingsVsGrid(rec.Record).String(),
			offset.Efficiency(rec.Record).String(),
			boolString(rec.Verified),
			rec.GeneratedAt.Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRecordsPNG(path string, records []storage.StoredRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	daily := make([]float64, len(records))
	cumulative := make([]float64, len(records))

	running := decimal.Zero
	for i, rec := range records {
		x[i] = rec.Bucket
		daily[i] = rec.TotalOffset.InexactFloat64()
		running = running.Add(rec.TotalOffset)
		cumulative[i] = running.InexactFloat64()
	}

	tonsFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Daily offset (t CO2)",
			ValueFormatter: tonsFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Cumulative (t CO2)",
			ValueFormatter: tonsFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Daily",
				XValues: x,
				YValues: daily,
			},
			chart.TimeSeries{
				Name:    "Cumulative",
				XValues: x,
				YValues: cumulative,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
