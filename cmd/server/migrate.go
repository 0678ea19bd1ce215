package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ShopCx/PaymentService/internal/config"
	"github.com/ShopCx/PaymentService/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

		st, err := openStore(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer st.Close()

		log.Info("schema applied", "driver", cfg.StoreDriver)
		return nil
	},
}
