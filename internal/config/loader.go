package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, loads .env when present
// and applies CONVBOT_* overrides. An empty path skips the file. The result
// is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject endpoints and secrets at deploy
// time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "CONVBOT_MODE")
	setStr(&cfg.LogLevel, "CONVBOT_LOG_LEVEL")

	setStr(&cfg.Chain.RPCURL, "CONVBOT_CHAIN_RPC_URL")
	setStr(&cfg.Chain.WSURL, "CONVBOT_CHAIN_WS_URL")
	setInt64(&cfg.Chain.ChainID, "CONVBOT_CHAIN_ID")
	setStr(&cfg.Chain.ExplorerURL, "CONVBOT_CHAIN_EXPLORER_URL")

	setStr(&cfg.Wallet.PrivateKey, "CONVBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "CONVBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "CONVBOT_WALLET_KEY_PASSWORD")

	setStr(&cfg.Target.Address, "CONVBOT_TARGET_ADDRESS")
	setStr(&cfg.Target.Method, "CONVBOT_TARGET_METHOD")
	setStringSlice(&cfg.Target.Errors, "CONVBOT_TARGET_ERRORS")
	setStr(&cfg.Target.ABIPath, "CONVBOT_TARGET_ABI_PATH")

	setStr(&cfg.Strategy.Kind, "CONVBOT_STRATEGY")

	setInt64(&cfg.Fees.MempoolMaxFeeGwei, "CONVBOT_FEES_MEMPOOL_MAX_FEE_GWEI")
	setInt64(&cfg.Fees.MempoolPriorityFeeGwei, "CONVBOT_FEES_MEMPOOL_PRIORITY_FEE_GWEI")
	setInt64(&cfg.Fees.RelayMaxFeeGwei, "CONVBOT_FEES_RELAY_MAX_FEE_GWEI")
	setInt64(&cfg.Fees.RelayPriorityPremiumGwei, "CONVBOT_FEES_RELAY_PRIORITY_PREMIUM_GWEI")

	setStr(&cfg.Relay.URL, "CONVBOT_RELAY_URL")
	setStr(&cfg.Relay.AuthKey, "CONVBOT_RELAY_AUTH_KEY")
	setBool(&cfg.Relay.ReplacementUUID, "CONVBOT_RELAY_REPLACEMENT_UUID")
	setDuration(&cfg.Relay.WaitTimeout, "CONVBOT_RELAY_WAIT_TIMEOUT")

	setStr(&cfg.Monitor.Source, "CONVBOT_MONITOR_SOURCE")
	setDuration(&cfg.Monitor.ReceiveTimeout, "CONVBOT_MONITOR_RECEIVE_TIMEOUT")
	setBool(&cfg.Monitor.StrictTimeout, "CONVBOT_MONITOR_STRICT_TIMEOUT")
	setInt(&cfg.Monitor.MaxReconnects, "CONVBOT_MONITOR_MAX_RECONNECTS")

	setBool(&cfg.Redis.Enabled, "CONVBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CONVBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CONVBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CONVBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "CONVBOT_REDIS_TLS_ENABLED")

	setBool(&cfg.Postgres.Enabled, "CONVBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CONVBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CONVBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CONVBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CONVBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CONVBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CONVBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CONVBOT_POSTGRES_SSL_MODE")

	setBool(&cfg.S3.Enabled, "CONVBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CONVBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CONVBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CONVBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CONVBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CONVBOT_S3_SECRET_KEY")

	setBool(&cfg.Notify.Enabled, "CONVBOT_NOTIFY_ENABLED")
	setStr(&cfg.Notify.TelegramToken, "CONVBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CONVBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CONVBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CONVBOT_NOTIFY_EVENTS")

	setBool(&cfg.Server.Enabled, "CONVBOT_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "CONVBOT_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "CONVBOT_SERVER_API_KEY")
}

// Each setter only touches dst when the variable is set, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setStringSlice splits on ";" because failure signatures contain commas.
func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for p := range strings.SplitSeq(v, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
