package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/faucetgw/faucetgw/internal/config"
	"github.com/faucetgw/faucetgw/internal/db"
	httpSrv "github.com/faucetgw/faucetgw/internal/http"
	"github.com/faucetgw/faucetgw/internal/logger"
	"github.com/faucetgw/faucetgw/internal/service"
	"github.com/faucetgw/faucetgw/internal/transfer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
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

		// redis is optional; without it the edge limiter is disabled
		var rds *redis.Client
		if cfg.Redis.Addr != "" {
			rds, err = db.NewRedisClient(db.RedisOpts{
				Addr:        cfg.Redis.Addr,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = rds.Close() }()
		}

		faucet, err := service.New(cmd.Context(), st, newTransferClient(cfg.Transfer), cfg.Limits, cfg.Auth)
		if err != nil {
			return fmt.Errorf("build service: %w", err)
		}

		server := httpSrv.NewServer(cfg, faucet, rds)

		errCh := make(chan error, 1)
		go func() {
			log.Printf("starting http on %s", cfg.HTTP.Addr)
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Printf("signal received: %s, shutting down...", sig)
		case err := <-errCh:
			if err != nil {
				log.Printf("http server exited: %v", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}

func newTransferClient(cfg config.TransferConfig) transfer.Client {
	if cfg.Mode == "http" && cfg.BaseURL != "" {
		return transfer.NewHTTPClient(
			cfg.BaseURL,
			cfg.Path,
			cfg.TimeoutMs,
			cfg.Breaker.FailThreshold,
			cfg.Breaker.OpenForMs,
		)
	}
	return transfer.LoggingClient{}
}
