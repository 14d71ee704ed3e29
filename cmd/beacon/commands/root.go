package commands

import (
	"beacon_p2p/internal/config"
	"beacon_p2p/internal/repository/permission"
	"beacon_p2p/internal/service/app"
	redisSvc "beacon_p2p/internal/service/redis"
	"beacon_p2p/internal/service/storage"
	"beacon_p2p/internal/utils/log"
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	configPath string
	passphrase string
	backend    string
	useMongo   bool

	cfg     *config.Config
	closers []func()
)

func Execute() error {
	root := &cobra.Command{
		Use:          "beacon",
		Short:        "Pair a dApp with a wallet and exchange requests over the relay network",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			_, err = log.Setup(cfg.Log)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
			log.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the installation seed (default storage.passphrase)")
	root.PersistentFlags().StringVar(&backend, "store", "memory", "state storage: memory or redis")
	root.PersistentFlags().BoolVar(&useMongo, "mongo", false, "keep granted permissions in mongodb")

	root.AddCommand(dappCmd(), walletCmd(), peersCmd(), permissionsCmd())
	return root.Execute()
}

// newApp wires the root context from the loaded configuration.
func newApp(ctx context.Context) (*app.App, error) {
	pass := passphrase
	if pass == "" {
		pass = cfg.Storage.Passphrase
	}
	secure, err := storage.NewFileSecure(cfg.Storage.SecureDir, pass)
	if err != nil {
		return nil, err
	}

	var st storage.Storage
	switch backend {
	case "memory":
		st = storage.NewMemory()
	case "redis":
		redis, err := redisSvc.Dial(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() { redis.Close() })
		st = storage.NewRedis(redis)
	default:
		return nil, fmt.Errorf("unknown store %q", backend)
	}

	var perms permission.Repository
	if useMongo {
		db, err := initMongo(ctx)
		if err != nil {
			return nil, err
		}
		perms = permission.NewPermissionRepo(db)
	}

	return app.New(ctx, app.Options{
		Config:      cfg,
		Storage:     st,
		Secure:      secure,
		Permissions: perms,
	})
}

func initMongo(ctx context.Context) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Storage.MongoURI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	closers = append(closers, func() { client.Disconnect(context.Background()) })
	return client.Database(cfg.Storage.MongoDatabase), nil
}
