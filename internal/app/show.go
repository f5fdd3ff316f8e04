package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"offset-rewards/internal/badge"
	"offset-rewards/internal/offset"
)

// Show prints a user's recent offset records and badge stats.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.UserID == "" {
		return errors.New("--user must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentOffsetRecords(ctx, opts.UserID, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no offset records found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Bucket (UTC)\tPeriod\tOffset (t)\tSavings vs grid (t)\tVerified")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%t\n",
			rec.Bucket.UTC().Format(time.RFC3339),
			rec.Period,
			formatDecimal(rec.TotalOffset, 4),
			formatDecimal(offset.SavingsVsGrid(rec.Record), 4),
			rec.Verified,
		)
	}
	writer.Flush()

	ledger, err := a.newLedger(ctx, store)
	if err != nil {
		return err
	}
	stats := ledger.Stats(opts.UserID)

	fmt.Fprintf(os.Stdout, "\nBadges: %d unlocked, %d points\n", stats.TotalBadges, stats.TotalPoints)
	for _, unlock := range stats.RecentUnlocks {
		name := unlock.BadgeID
		if b, ok := ledger.Catalog().Lookup(unlock.BadgeID); ok {
			name = fmt.Sprintf("%s (%s)", b.Name, b.Rarity)
		}
		fmt.Fprintf(os.Stdout, "  %s  %s\n", unlock.UnlockedAt.UTC().Format(time.RFC3339), name)
	}

	// Progress toward still-locked badges, measured against the latest
	// monthly record.
	var monthly *offset.Record
	for i := range records {
		if records[i].Period == offset.Monthly {
			monthly = &records[i].Record
			break
		}
	}
	if monthly != nil {
		lifetime, err := store.SumDailyOffsets(ctx, opts.UserID)
		if err != nil {
			return err
		}
		facts := badge.Facts{LifetimeOffsetTons: lifetime}
		rate := decimal.NewFromFloat(a.Config.Rewards.DailyAverageTons)

		entries := ledger.Progress(opts.UserID, *monthly, facts, rate)
		if len(entries) > 0 {
			fmt.Fprintln(os.Stdout, "\nProgress:")
			progressWriter := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(progressWriter, "Badge\tCurrent\tThreshold\tPct\tETA (days)")
			for _, entry := range entries {
				eta := "-"
				if entry.DaysToUnlock != nil {
					eta = formatDecimal(*entry.DaysToUnlock, 1)
				}
				fmt.Fprintf(
					progressWriter,
					"%s\t%s\t%s\t%s%%\t%s\n",
					entry.Badge.Name,
					formatDecimal(entry.Current, 3),
					formatDecimal(entry.Threshold, 3),
					formatDecimal(entry.Percentage, 1),
					eta,
				)
			}
			progressWriter.Flush()
		}
	}

	return nil
}
