package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"poolnet/config"
	"poolnet/internal/api"
	"poolnet/internal/state"
	"poolnet/internal/ui"
)

func summaryCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the running daemon's connection and share results",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := config.Load(resolvePath(*configPath))
				if err != nil {
					return err
				}
				addr = cfg.API.Listen
			}
			sum, err := api.FetchSummary(cmd.Context(), addr)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "API address (default from config)")
	return cmd
}

func printSummary(w io.Writer, sum api.SummaryResponse) {
	status := ui.Success("mining")
	if sum.Paused {
		status = ui.Warn("paused")
	}
	conn := sum.Connection
	pool := ui.Error("disconnected")
	if conn.Pool != "" {
		pool = ui.Pool(conn.Pool)
	}

	pairs := []ui.Pair{
		ui.KV("version", sum.Version),
		ui.KV("status", status),
		ui.KV("uptime", (time.Duration(sum.Uptime) * time.Second).String()),
		ui.KV("pool", pool),
	}
	if conn.Pool != "" {
		diff, scale := state.ScaleDiff(conn.Diff)
		pairs = append(pairs,
			ui.KV("algo", sum.Algo.Name()),
			ui.KV("difficulty", strconv.FormatUint(diff, 10)+scale),
			ui.KV("ping", strconv.FormatInt(conn.Ping, 10)+"ms"),
		)
		if conn.TLS != nil {
			pairs = append(pairs, ui.KV("tls", *conn.TLS))
		}
	}
	pairs = append(pairs,
		ui.KV("shares", fmt.Sprintf("%d/%d", sum.Results.SharesGood, sum.Results.SharesTotal)),
		ui.KV("lifetime", fmt.Sprintf("%d good, %d bad", sum.Results.LifetimeGood, sum.Results.LifetimeBad)),
		ui.KV("failures", strconv.FormatUint(conn.Failures, 10)),
	)
	if sum.CPU != nil {
		pairs = append(pairs, ui.KV("cpu", fmt.Sprintf("%s (%d cores, %d threads)", sum.CPU.Brand, sum.CPU.Cores, sum.CPU.Threads)))
	}
	fmt.Fprint(w, ui.KeyValues("", pairs...))

	if len(sum.Results.ErrorLog) > 0 {
		fmt.Fprintln(w, ui.Bold("recent errors"))
		fmt.Fprintln(w, "  "+strings.Join(sum.Results.ErrorLog, "\n  "))
	}
}

func resolvePath(p string) string {
	if p == "" {
		return config.Path()
	}
	return p
}
