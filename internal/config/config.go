// Package config defines the bot configuration, its defaults and validation.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Modes.
const (
	ModeBuy    = "buy"
	ModeStatus = "status"
)

// Config is the root configuration, read from TOML and then overridden by
// CONVBOT_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Target   TargetConfig   `toml:"target"`
	Strategy StrategyConfig `toml:"strategy"`
	Fees     FeesConfig     `toml:"fees"`
	Relay    RelayConfig    `toml:"relay"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
}

// ChainConfig holds node endpoints.
type ChainConfig struct {
	RPCURL      string `toml:"rpc_url"`
	WSURL       string `toml:"ws_url"`
	ChainID     int64  `toml:"chain_id"`
	ExplorerURL string `toml:"explorer_url"`
}

// WalletConfig holds the sending key, either raw or AES-GCM encrypted.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// TargetConfig describes the contract and its custom failure signatures.
type TargetConfig struct {
	Address string   `toml:"address"`
	Method  string   `toml:"method"`
	Errors  []string `toml:"errors"`
	ABIPath string   `toml:"abi_path"`
}

// StrategyConfig selects the delivery path.
type StrategyConfig struct {
	Kind string `toml:"kind"`
}

// FeesConfig holds fee caps in gwei. A zero GasLimit means estimate.
type FeesConfig struct {
	MempoolMaxFeeGwei        int64  `toml:"mempool_max_fee_gwei"`
	MempoolPriorityFeeGwei   int64  `toml:"mempool_priority_fee_gwei"`
	RelayMaxFeeGwei          int64  `toml:"relay_max_fee_gwei"`
	RelayPriorityPremiumGwei int64  `toml:"relay_priority_premium_gwei"`
	GasLimit                 uint64 `toml:"gas_limit"`
	GasBufferPct             int    `toml:"gas_buffer_pct"`
}

// RelayConfig configures the private relay. An empty AuthKey generates a
// throwaway identity per run.
type RelayConfig struct {
	URL              string   `toml:"url"`
	AuthKey          string   `toml:"auth_key"`
	ReplacementUUID  bool     `toml:"replacement_uuid"`
	WaitPollInterval duration `toml:"wait_poll_interval"`
	WaitTimeout      duration `toml:"wait_timeout"`
	HTTPTimeout      duration `toml:"http_timeout"`
}

// MonitorConfig configures the head source and reconnection.
type MonitorConfig struct {
	Source         string   `toml:"source"`
	ReceiveTimeout duration `toml:"receive_timeout"`
	StrictTimeout  bool     `toml:"strict_timeout"`
	MaxStalls      int      `toml:"max_stalls"`
	PollInterval   duration `toml:"poll_interval"`
	MaxReconnects  int      `toml:"max_reconnects"`
	InitialBackoff duration `toml:"initial_backoff"`
	MaxBackoff     duration `toml:"max_backoff"`
}

// RedisConfig holds Redis parameters. The lock keeps two instances from
// submitting for the same target.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    duration `toml:"lock_ttl"`
}

// PostgresConfig holds the journal database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	MaxConns      int    `toml:"max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds object storage parameters for the status archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	BatchRows      int    `toml:"batch_rows"`
}

// NotifyConfig holds chat channel credentials. Events filters what is sent;
// empty sends everything.
type NotifyConfig struct {
	Enabled           bool     `toml:"enabled"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds the operator HTTP endpoint parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	APIKey  string `toml:"api_key"`
}

// duration decodes TOML strings such as "500ms" or "2m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with every default filled in.
func Defaults() Config {
	return Config{
		Mode:     ModeBuy,
		LogLevel: "info",
		Chain:    ChainConfig{ChainID: 1},
		Target:   TargetConfig{Method: "buy"},
		Strategy: StrategyConfig{Kind: "relay"},
		Fees: FeesConfig{
			MempoolMaxFeeGwei:        100,
			MempoolPriorityFeeGwei:   20,
			RelayMaxFeeGwei:          200,
			RelayPriorityPremiumGwei: 20,
			GasBufferPct:             20,
		},
		Relay: RelayConfig{
			URL:              "https://relay.flashbots.net",
			ReplacementUUID:  true,
			WaitPollInterval: duration{time.Second},
			WaitTimeout:      duration{2 * time.Minute},
			HTTPTimeout:      duration{12 * time.Second},
		},
		Monitor: MonitorConfig{
			Source:         "ws",
			ReceiveTimeout: duration{60 * time.Second},
			PollInterval:   duration{500 * time.Millisecond},
			MaxReconnects:  10,
			InitialBackoff: duration{time.Second},
			MaxBackoff:     duration{60 * time.Second},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			LockTTL:  duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "convbot",
			SSLMode:       "disable",
			MaxConns:      5,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Prefix:         "status",
			ForcePathStyle: true,
			UseSSL:         true,
			BatchRows:      600,
		},
		Server: ServerConfig{Addr: ":9090"},
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if c.Mode != ModeBuy && c.Mode != ModeStatus {
		add("unknown mode %q (valid: buy, status)", c.Mode)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error", "critical"}, strings.ToLower(c.LogLevel)) {
		add("unknown log_level %q (valid: debug, info, warn, error, critical)", c.LogLevel)
	}

	if c.Chain.RPCURL == "" {
		add("chain: rpc_url must be set")
	}
	if c.Chain.ChainID <= 0 {
		add("chain: chain_id must be positive")
	}
	switch c.Monitor.Source {
	case "ws":
		if c.Chain.WSURL == "" {
			add("chain: ws_url must be set when monitor.source is ws")
		}
	case "poll":
	default:
		add("monitor: unknown source %q (valid: ws, poll)", c.Monitor.Source)
	}
	if c.Monitor.ReceiveTimeout.Duration <= 0 {
		add("monitor: receive_timeout must be positive")
	}
	if c.Monitor.MaxReconnects < 0 || c.Monitor.MaxStalls < 0 {
		add("monitor: max_reconnects and max_stalls must be >= 0")
	}

	if !common.IsHexAddress(c.Target.Address) {
		add("target: address %q is not a hex address", c.Target.Address)
	}

	if c.Mode == ModeBuy {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set for mode buy")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
		switch c.Strategy.Kind {
		case "mempool":
		case "relay":
			if c.Relay.URL == "" {
				add("relay: url must be set for strategy relay")
			}
		default:
			add("strategy: unknown kind %q (valid: mempool, relay)", c.Strategy.Kind)
		}
		if c.Fees.MempoolPriorityFeeGwei > c.Fees.MempoolMaxFeeGwei {
			add("fees: mempool_priority_fee_gwei exceeds mempool_max_fee_gwei")
		}
		if c.Fees.RelayMaxFeeGwei <= 0 {
			add("fees: relay_max_fee_gwei must be positive")
		}
		if c.Fees.GasBufferPct < 0 {
			add("fees: gas_buffer_pct must be >= 0")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			add("redis: lock_ttl must be at least 1s")
		}
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		add("postgres: host must not be empty (or set postgres.dsn)")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}
	if c.Notify.Enabled && c.Notify.TelegramToken == "" && c.Notify.DiscordWebhookURL == "" {
		add("notify: enabled without telegram_token or discord_webhook_url")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		add("server: addr must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
