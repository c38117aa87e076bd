package config

const redacted = "***"

// Redacted returns a copy of cfg with secrets masked, for logging.
func Redacted(cfg *Config) Config {
	out := *cfg
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Relay.AuthKey)
	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Server.APIKey)

	out.Target.Errors = append([]string(nil), cfg.Target.Errors...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
