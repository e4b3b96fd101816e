package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deltran/corridorsim/internal/playback"
	"github.com/deltran/corridorsim/internal/session"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runPlay(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	c, err := e.registry.Get(args[0])
	if err != nil {
		return err
	}
	method, amount, bearer, err := selection(cmd, c)
	if err != nil {
		return err
	}

	sess, err := session.New(e.registry, session.Options{
		CorridorID:   c.ID,
		Method:       method,
		ChargeBearer: bearer,
		Amount:       &amount,
		Logger:       e.logger,
	})
	if err != nil {
		return err
	}
	// The selection is fixed for the whole run
	result, err := sess.Derived()
	if err != nil {
		return err
	}

	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		interval = e.cfg.Playback.Interval
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver := playback.NewDriver(sess.Player(),
		playback.WithInterval(interval),
		playback.WithLogger(e.logger),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if err := driver.Close(closeCtx); err != nil {
			e.logger.Warn("Playback driver did not stop", zap.Error(err))
		}
	}()

	out := cmd.OutOrStdout()
	finished := make(chan struct{})
	shown, done := -1, false
	driver.Subscribe(func(ev playback.Event) {
		snap := ev.Snapshot
		if done || snap.Cursor < 0 || snap.Cursor >= len(result.Steps) {
			return
		}
		if snap.Cursor != shown {
			shown = snap.Cursor
			d := result.Steps[snap.Cursor]
			fmt.Fprintf(out, "[%d/%d] %s -> %s  %s  %s %s\n",
				snap.Cursor+1, snap.Length,
				bankName(c, d.Step.From), bankName(c, d.Step.To),
				d.Step.MessageType,
				types.FormatAmount(d.AmountAfter, d.RunningCurrency), d.RunningCurrency)
			if d.Step.Description != "" {
				fmt.Fprintf(out, "      %s\n", d.Step.Description)
			}
		}
		if snap.Complete && !snap.Playing {
			done = true
			close(finished)
		}
	})

	fmt.Fprintf(out, "%s, %s settlement, %s %s, charges %s\n\n",
		c.Name, method, types.FormatAmount(amount, c.SourceCurrency), c.SourceCurrency, bearer)

	if _, err := driver.TogglePlay(ctx); err != nil {
		return err
	}

	select {
	case <-finished:
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "interrupted")
		return nil
	}

	fmt.Fprintln(out)
	printSummary(out, result.Summary)
	return nil
}
