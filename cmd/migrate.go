package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/faucetgw/faucetgw/internal/config"
	"github.com/faucetgw/faucetgw/internal/db"
	"github.com/faucetgw/faucetgw/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the storage schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)

		// OpenStore ensures schema (postgres) or indexes (mongodb) on connect
		st, err := db.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() { _ = st.Close(context.Background()) }()

		log.Printf(">> migrations applied for backend %q", cfg.Database.Kind)
		return nil
	},
}
