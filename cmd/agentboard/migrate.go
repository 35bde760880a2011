package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply embedded migrations to the configured stores",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, cleanup, err := openStores(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		cleanup()

		logger.Info("migrations applied",
			zap.String("store", cfg.Store.Kind),
			zap.Bool("clickhouse", st.samples != nil && cfg.Store.ClickhouseDSN != ""),
		)
		return nil
	},
}
