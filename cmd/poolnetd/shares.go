package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"poolnet/config"
	"poolnet/internal/journal"
	"poolnet/internal/state"
	"poolnet/internal/ui"
)

const defaultShareLimit = 20

func sharesCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "shares",
		Short: "List recent shares from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolvePath(*configPath))
			if err != nil {
				return err
			}
			if cfg.Journal == "" {
				return errors.New("no journal configured")
			}
			if _, err := os.Stat(cfg.Journal); err != nil {
				return fmt.Errorf("journal %s: %w", cfg.Journal, err)
			}
			if limit <= 0 {
				limit = defaultShareLimit
			}

			j, err := journal.Open(cfg.Journal)
			if err != nil {
				return err
			}
			defer j.Close()

			shares, err := j.Recent(limit)
			if err != nil {
				return err
			}
			totals, err := j.Totals()
			if err != nil {
				return err
			}
			printShares(cmd.OutOrStdout(), shares, totals)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultShareLimit, "Number of shares to show")
	return cmd
}

func printShares(w io.Writer, shares []state.Share, totals journal.Totals) {
	if len(shares) == 0 {
		fmt.Fprintln(w, ui.Warn("no shares recorded"))
		return
	}

	var rows [][]string
	for _, s := range shares {
		result := ui.Success("accepted")
		if !s.Accepted {
			result = ui.Error(s.Error)
		}
		diff, scale := state.ScaleDiff(s.Diff)
		rows = append(rows, []string{
			s.At.Local().Format(time.DateTime),
			s.Pool,
			s.Backend,
			strconv.FormatUint(diff, 10) + scale,
			strconv.FormatInt(s.Elapsed.Milliseconds(), 10),
			result,
		})
	}
	fmt.Fprintln(w, ui.Table([]string{"TIME", "POOL", "BACKEND", "DIFF", "MS", "RESULT"}, rows))
	fmt.Fprintln(w, ui.Muted(fmt.Sprintf("lifetime: %d good, %d bad", totals.Accepted, totals.Rejected)))
}
