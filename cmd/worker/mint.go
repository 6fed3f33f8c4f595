package worker

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/faucetgw/faucetgw/internal/config"
	"github.com/faucetgw/faucetgw/internal/db"
	"github.com/faucetgw/faucetgw/internal/logger"
	"github.com/faucetgw/faucetgw/internal/metrics"
	"github.com/faucetgw/faucetgw/internal/pipeline"
	"github.com/faucetgw/faucetgw/internal/transfer"
)

var mintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Run mint pipeline workers (decoupled mode)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)
		metrics.MustRegister(prometheus.DefaultRegisterer)

		st, err := db.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() { _ = st.Close(context.Background()) }()

		var client transfer.Client = transfer.LoggingClient{}
		if cfg.Transfer.Mode == "http" && cfg.Transfer.BaseURL != "" {
			client = transfer.NewHTTPClient(
				cfg.Transfer.BaseURL,
				cfg.Transfer.Path,
				cfg.Transfer.TimeoutMs,
				cfg.Transfer.Breaker.FailThreshold,
				cfg.Transfer.Breaker.OpenForMs,
			)
		}

		exec := pipeline.NewExecutor(st, st, client)
		queue := pipeline.NewQueue(exec, cfg.Queue.Depth, cfg.Queue.SweepInterval)

		workers := cfg.Queue.WorkerCount
		if workers <= 0 {
			workers = 4
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.Printf(">> mint workers started count=%d depth=%d sweep=%s visibility=%s",
			workers, cfg.Queue.Depth, cfg.Queue.SweepInterval, cfg.Queue.VisibilityTimeout)

		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < workers; i++ {
			g.Go(func() error { return queue.Run(gctx) })
		}

		<-ctx.Done()
		queue.Close()

		return g.Wait()
	},
}
