package main

import (
	"beacon_p2p/internal/config"
	redisSvc "beacon_p2p/internal/service/redis"
	"beacon_p2p/internal/service/server"
	"beacon_p2p/internal/utils/log"
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath string
		useRedis   bool
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Development relay: Matrix client API subset and websocket hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if _, err := log.Setup(cfg.Log); err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var queue server.Queue
			if useRedis {
				redis, err := redisSvc.Dial(ctx, cfg.Storage)
				if err != nil {
					return err
				}
				defer redis.Close()
				queue = server.NewRedisQueue(redis)
			}

			s := server.NewHttpServer(cfg.Server, queue)
			if err := s.Run(ctx); err != nil {
				log.Error("relay stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (yaml)")
	cmd.Flags().BoolVar(&useRedis, "redis", false, "queue offline websocket frames in redis")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
