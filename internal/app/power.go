package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
)

// Power fetches the user's on-chain holdings and prints the composed
// voting power breakdown. Points and lifetime offset come from the
// database when configured; without it both fall back to zero.
func (a *App) Power(ctx context.Context, opts PowerOptions) error {
	if opts.Address == "" {
		return errors.New("--address must be provided")
	}

	holdings, err := a.newHoldingsSource().FetchHoldings(ctx, opts.Address)
	if err != nil {
		return fmt.Errorf("fetch holdings: %w", err)
	}

	var points int64
	lifetime := decimal.Zero

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}
	if store != nil && opts.UserID != "" {
		ledger, err := a.newLedger(ctx, store)
		if err != nil {
			return err
		}
		points = ledger.Stats(opts.UserID).TotalPoints

		lifetime, err = store.SumDailyOffsets(ctx, opts.UserID)
		if err != nil {
			return err
		}
	} else if opts.UserID != "" {
		a.Logger.Warn().Msg("database not configured; points and offset bonus default to zero")
	}

	calc := a.newCalculator()
	breakdown := calc.ComputeBreakdown(holdings, points, lifetime)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Energy\tAssets\tCapacity (kW)\tWeight\tPower\tShare")
	for _, g := range breakdown.Groups {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s%%\n",
			g.Energy,
			g.Count,
			formatDecimal(g.CapacityKW, 2),
			g.Weight.String(),
			formatDecimal(g.Power, 2),
			formatDecimal(g.Percentage, 1),
		)
	}
	writer.Flush()

	fmt.Fprintf(os.Stdout, "\nBase power:   %s\n", formatDecimal(breakdown.BasePower, 2))
	fmt.Fprintf(os.Stdout, "Points bonus: %s (%d points)\n", formatDecimal(breakdown.PointsBonus, 2), points)
	fmt.Fprintf(os.Stdout, "Offset bonus: %s (%s t lifetime)\n", formatDecimal(breakdown.OffsetBonus, 2), formatDecimal(lifetime, 3))
	fmt.Fprintf(os.Stdout, "Total power:  %s\n", formatDecimal(breakdown.TotalPower, 2))

	params := calc.Params()
	if calc.CanCreateProposal(breakdown.TotalPower) {
		fmt.Fprintf(os.Stdout, "\nEligible to create proposals (threshold %s, quorum %s, voting period %s)\n",
			params.ProposalThreshold.String(), params.Quorum.String(), params.VotingPeriod)
	} else {
		missing := params.ProposalThreshold.Sub(breakdown.TotalPower)
		fmt.Fprintf(os.Stdout, "\nNot eligible to create proposals: %s more power needed (threshold %s)\n",
			formatDecimal(missing, 2), params.ProposalThreshold.String())
	}

	if recs := calc.RecommendNext(holdings); len(recs) > 0 {
		names := make([]string, len(recs))
		for i, r := range recs {
			names[i] = string(r)
		}
		fmt.Fprintf(os.Stdout, "Suggested next assets by weight: %s\n", strings.Join(names, ", "))
	}

	return nil
}
