// Package config loads the engine configuration from YAML with BEACON_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName    string         `mapstructure:"app_name"`
		AppURL     string         `mapstructure:"app_url"`
		Icon       string         `mapstructure:"icon"`
		Log        LogConfig      `mapstructure:"log"`
		Relay      RelayConfig    `mapstructure:"relay"`
		Protocol   ProtocolConfig `mapstructure:"protocol"`
		Transports []string       `mapstructure:"transports"`
		Storage    StorageConfig  `mapstructure:"storage"`
		Server     ServerConfig   `mapstructure:"server"`
	}

	LogConfig struct {
		// Level: debug, info, warn, error
		Level string `mapstructure:"level"`
		// Format: console or json
		Format string `mapstructure:"format"`
		// Outputs: stdout, stderr or file paths
		Outputs     []string       `mapstructure:"outputs"`
		Rotation    RotationConfig `mapstructure:"rotation"`
		Development bool           `mapstructure:"development"`
	}

	RotationConfig struct {
		Enable     bool `mapstructure:"enable"`
		MaxSizeMB  int  `mapstructure:"max_size_mb"`
		MaxBackups int  `mapstructure:"max_backups"`
		MaxAgeDays int  `mapstructure:"max_age_days"`
		Compress   bool `mapstructure:"compress"`
	}

	// RelayConfig controls node selection and the sync/join retry policy.
	RelayConfig struct {
		Nodes  []string `mapstructure:"nodes"`
		Scheme string   `mapstructure:"scheme"`
		// Nonce is mixed into node hashes so a deployment can reshuffle assignment.
		Nonce          string        `mapstructure:"nonce"`
		PollingTimeout time.Duration `mapstructure:"polling_timeout"`
		// SyncRetries is the number of consecutive failed syncs after which
		// the poll loop gives up.
		SyncRetries       int           `mapstructure:"sync_retries"`
		SyncRetryInterval time.Duration `mapstructure:"sync_retry_interval"`
		JoinRetries       int           `mapstructure:"join_retries"`
		JoinRetryDelay    time.Duration `mapstructure:"join_retry_delay"`
		RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	}

	ProtocolConfig struct {
		// Version used for outgoing requests when the peer does not announce one.
		Version string `mapstructure:"version"`
	}

	StorageConfig struct {
		RedisAddr     string `mapstructure:"redis_addr"`
		RedisPassword string `mapstructure:"redis_password"`
		RedisDB       int    `mapstructure:"redis_db"`
		KeyPrefix     string `mapstructure:"key_prefix"`
		MongoURI      string `mapstructure:"mongo_uri"`
		MongoDatabase string `mapstructure:"mongo_database"`
		SecureDir     string `mapstructure:"secure_dir"`
		Passphrase    string `mapstructure:"passphrase"`
	}

	ServerConfig struct {
		Listen     string `mapstructure:"listen"`
		ServerName string `mapstructure:"server_name"`
	}
)

const (
	TransportP2P       = "p2p"
	TransportWebSocket = "websocket"
)

// Default returns a Config populated with the values the engine ships with.
func Default() *Config {
	return &Config{
		AppName: "beacon",
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Relay: RelayConfig{
			Nodes: []string{
				"beacon-node-1.diamond.papers.tech",
				"beacon-node-1.sky.papers.tech",
				"beacon-node-2.sky.papers.tech",
				"beacon-node-1.hope.papers.tech",
				"beacon-node-1.hope-2.papers.tech",
				"beacon-node-1.hope-3.papers.tech",
				"beacon-node-1.hope-4.papers.tech",
				"beacon-node-1.hope-5.papers.tech",
			},
			Scheme:            "https",
			PollingTimeout:    30 * time.Second,
			SyncRetries:       3,
			SyncRetryInterval: time.Second,
			JoinRetries:       10,
			JoinRetryDelay:    200 * time.Millisecond,
			RequestTimeout:    10 * time.Second,
		},
		Protocol:   ProtocolConfig{Version: "3"},
		Transports: []string{TransportP2P},
		Storage: StorageConfig{
			RedisAddr:     "localhost:6379",
			KeyPrefix:     "beacon:",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "beacon",
			SecureDir:     "./data",
		},
		Server: ServerConfig{
			Listen:     "localhost:9090",
			ServerName: "localhost:9090",
		},
	}
}

// Load reads configuration from path (if non-empty) and applies environment
// overrides, e.g. BEACON_RELAY_SYNC_RETRIES=5.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("app_url", cfg.AppURL)
	v.SetDefault("icon", cfg.Icon)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("relay.nodes", cfg.Relay.Nodes)
	v.SetDefault("relay.scheme", cfg.Relay.Scheme)
	v.SetDefault("relay.nonce", cfg.Relay.Nonce)
	v.SetDefault("relay.polling_timeout", cfg.Relay.PollingTimeout)
	v.SetDefault("relay.sync_retries", cfg.Relay.SyncRetries)
	v.SetDefault("relay.sync_retry_interval", cfg.Relay.SyncRetryInterval)
	v.SetDefault("relay.join_retries", cfg.Relay.JoinRetries)
	v.SetDefault("relay.join_retry_delay", cfg.Relay.JoinRetryDelay)
	v.SetDefault("relay.request_timeout", cfg.Relay.RequestTimeout)
	v.SetDefault("protocol.version", cfg.Protocol.Version)
	v.SetDefault("transports", cfg.Transports)
	v.SetDefault("storage.redis_addr", cfg.Storage.RedisAddr)
	v.SetDefault("storage.redis_password", cfg.Storage.RedisPassword)
	v.SetDefault("storage.redis_db", cfg.Storage.RedisDB)
	v.SetDefault("storage.key_prefix", cfg.Storage.KeyPrefix)
	v.SetDefault("storage.mongo_uri", cfg.Storage.MongoURI)
	v.SetDefault("storage.mongo_database", cfg.Storage.MongoDatabase)
	v.SetDefault("storage.secure_dir", cfg.Storage.SecureDir)
	v.SetDefault("storage.passphrase", cfg.Storage.Passphrase)
	v.SetDefault("server.listen", cfg.Server.Listen)
	v.SetDefault("server.server_name", cfg.Server.ServerName)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Relay.Nodes) == 0 {
		return errors.New("config: relay.nodes must not be empty")
	}
	if c.Relay.SyncRetries < 1 {
		return errors.New("config: relay.sync_retries must be at least 1")
	}
	if c.Relay.JoinRetries < 1 {
		return errors.New("config: relay.join_retries must be at least 1")
	}
	switch c.Protocol.Version {
	case "1", "2", "3":
	default:
		return fmt.Errorf("config: unsupported protocol.version %q", c.Protocol.Version)
	}
	for _, t := range c.Transports {
		if t != TransportP2P && t != TransportWebSocket {
			return fmt.Errorf("config: unknown transport %q", t)
		}
	}
	return nil
}
