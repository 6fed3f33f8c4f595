package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetgw/faucetgw/internal/config"
	"github.com/faucetgw/faucetgw/internal/db"
	"github.com/faucetgw/faucetgw/internal/logger"
	"github.com/faucetgw/faucetgw/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert demo users (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)

		st, err := db.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() { _ = st.Close(context.Background()) }()

		seeds := []struct {
			channel model.Channel
			handle  string
			domain  string
			role    model.Role
		}{
			{model.ChannelWeb, "ops@faucet.local", "faucet.local", model.RoleAdmin},
			{model.ChannelWeb, "alice@example.org", "example.org", model.RoleUser},
			{model.ChannelTelegram, "bob_dev", "", model.RoleUser},
			{model.ChannelDiscord, "carol#2044", "", model.RolePrivileged},
		}

		ctx := cmd.Context()
		for _, s := range seeds {
			existing, err := st.FindUser(ctx, s.channel, s.handle)
			if err != nil {
				return fmt.Errorf("find %s/%s: %w", s.channel, s.handle, err)
			}

			var user model.User
			if existing != nil {
				user = *existing
			} else {
				user = model.NewUser(s.channel, s.handle, s.domain)
			}
			user.Role = s.role
			user.LastSeenAt = time.Now().UTC()

			if err := st.UpsertUser(ctx, user); err != nil {
				return fmt.Errorf("seed %s/%s: %w", s.channel, s.handle, err)
			}
			log.Printf(">> seeded %s/%s role=%s", s.channel, s.handle, s.role)
		}

		return nil
	},
}
