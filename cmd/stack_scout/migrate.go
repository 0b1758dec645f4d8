package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the store schema",
	Long:  `Applies the schema to the configured store. Every statement is idempotent, so this is safe to re-run.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		st.Close()
		logger.Info("schema applied", "database_url", redactURL(cfg.DatabaseURL))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
