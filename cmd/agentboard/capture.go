package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var captureReason string

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Take one capture now and print its report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, cleanup, err := openStores(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer cleanup()

		a, err := newApp(cfg, st, logger)
		if err != nil {
			return err
		}

		report, err := a.scheduler.Trigger(ctx, captureReason)
		if report != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return encErr
			}
		}
		return err
	},
}

func init() {
	captureCmd.Flags().StringVar(&captureReason, "reason", "cli", "description suffix for the capture")
}
