package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"poolnet/config"
	"poolnet/internal/ui"
)

func poolsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pools",
		Short: "Validate the config and list its pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolvePath(*configPath))
			if err != nil {
				return err
			}
			printPools(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printPools(w io.Writer, cfg *config.Config) {
	var rows [][]string
	for i, p := range cfg.PoolList() {
		algo := "-"
		if p.Algorithm.IsValid() {
			algo = p.Algorithm.Name()
		}
		enabled := ui.Success("yes")
		if !p.Enabled {
			enabled = ui.Muted("no")
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), p.String(), p.Mode, algo, enabled})
	}
	fmt.Fprintln(w, ui.Table([]string{"#", "URL", "MODE", "ALGO", "ENABLED"}, rows))

	warn := ""
	if !cfg.PoolList().Active() {
		warn = "  " + ui.Warn("no enabled pools")
	}
	fmt.Fprintln(w, ui.Muted(fmt.Sprintf("algorithms: %v", cfg.EnabledAlgorithms().Names()))+warn)
}
