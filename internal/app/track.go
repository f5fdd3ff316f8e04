package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"offset-rewards/internal/chain"
	"offset-rewards/internal/tracker"
)

// Track submits a transaction hash to the lifecycle tracker and blocks
// until it reaches a terminal state or the confirmation wait times out.
func (a *App) Track(ctx context.Context, opts TrackOptions) error {
	if opts.Hash == "" {
		return errors.New("--hash must be provided")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var txStore tracker.Store
	if store != nil {
		txStore = store
	} else {
		a.Logger.Warn().Msg("database not configured; tracked transaction will not survive a restart")
	}

	source := chain.NewConfirmations(chain.ConfirmationOptions{
		RPCURL:        a.Config.Ethereum.RPCURL,
		PollInterval:  a.Config.Ethereum.PollInterval,
		RequiredDepth: a.Config.Ethereum.RequiredDepth,
	}, a.Logger)

	tr := tracker.New(source, txStore, tracker.Options{ConfirmTimeout: a.Config.Tracker.ConfirmTimeout}, a.Logger)
	defer tr.Close()

	if txStore != nil {
		if err := tr.Restore(ctx); err != nil {
			return err
		}
	}

	done := make(chan tracker.Transaction, 1)
	unsubscribe := tr.Subscribe(opts.Hash, func(tx tracker.Transaction) {
		if tx.State.Terminal() {
			select {
			case done <- tx:
			default:
			}
		}
	})
	defer unsubscribe()

	tx := tr.Submit(ctx, opts.Hash, opts.Type, opts.From, opts.To, decimal.NewFromFloat(opts.Value), nil)
	if tx.State.Terminal() {
		printTransaction(tx)
		return terminalErr(tx)
	}

	a.Logger.Info().
		Str("hash", tx.Hash).
		Dur("timeout", a.Config.Tracker.ConfirmTimeout).
		Msg("waiting for confirmation")

	select {
	case <-ctx.Done():
		a.Logger.Warn().Str("hash", tx.Hash).Msg("interrupted; transaction stays pending in storage")
		return nil
	case final := <-done:
		printTransaction(final)
		return terminalErr(final)
	}
}

func printTransaction(tx tracker.Transaction) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Hash:\t%s\n", tx.Hash)
	fmt.Fprintf(writer, "Type:\t%s\n", tx.Type)
	fmt.Fprintf(writer, "State:\t%s\n", tx.State)
	fmt.Fprintf(writer, "Submitted:\t%s\n", tx.SubmittedAt.UTC().Format(time.RFC3339))
	if tx.ResolvedAt != nil {
		fmt.Fprintf(writer, "Resolved:\t%s\n", tx.ResolvedAt.UTC().Format(time.RFC3339))
	}
	if tx.BlockNumber != nil {
		fmt.Fprintf(writer, "Block:\t%d\n", *tx.BlockNumber)
	}
	if tx.GasUsed != nil {
		fmt.Fprintf(writer, "Gas used:\t%d\n", *tx.GasUsed)
	}
	if tx.Confirmations > 0 {
		fmt.Fprintf(writer, "Confirmations:\t%d\n", tx.Confirmations)
	}
	if tx.Error != "" {
		fmt.Fprintf(writer, "Error:\t%s\n", tx.Error)
	}
	writer.Flush()
}

func terminalErr(tx tracker.Transaction) error {
	if tx.State == tracker.StateConfirmed {
		return nil
	}
	return fmt.Errorf("transaction %s ended %s: %s", tx.Hash, tx.State, tx.Error)
}
