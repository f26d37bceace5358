package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"poolnet/config"
	"poolnet/internal/ui"
)

func initCmd(configPath *string) *cobra.Command {
	var (
		pools   []string
		user    string
		algos   []string
		journal string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolvePath(*configPath)
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}

			cfg := &config.Config{
				Algorithms: algos,
				Journal:    journal,
				API:        config.APIConfig{Enabled: true},
			}
			for _, url := range pools {
				cfg.Pools = append(cfg.Pools, config.PoolConfig{URL: url, User: user})
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.Success("wrote ")+path)
			printPools(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&pools, "pool", nil, "Pool URL, in failover order (repeatable)")
	cmd.Flags().StringVar(&user, "user", "", "Wallet or login sent to every pool")
	cmd.Flags().StringSliceVar(&algos, "algo", []string{"rx/0"}, "Enabled algorithms in preference order")
	cmd.Flags().StringVar(&journal, "journal", "", "Share journal database path")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	_ = cmd.MarkFlagRequired("pool")
	return cmd
}
