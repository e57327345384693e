package config

import (
	"fmt"
	"os"
	"strings"
)

// secretFields maps each *_FILE variable to the secret it fills.
func secretFields(cfg *Config) map[string]*string {
	return map[string]*string{
		"BIDENGINE_SERVER_API_KEY_FILE":               &cfg.Server.APIKey,
		"BIDENGINE_POSTGRES_DSN_FILE":                 &cfg.Postgres.DSN,
		"BIDENGINE_POSTGRES_PASSWORD_FILE":            &cfg.Postgres.Password,
		"BIDENGINE_REDIS_PASSWORD_FILE":               &cfg.Redis.Password,
		"BIDENGINE_S3_ACCESS_KEY_FILE":                &cfg.S3.AccessKey,
		"BIDENGINE_S3_SECRET_KEY_FILE":                &cfg.S3.SecretKey,
		"BIDENGINE_COLLABORATORS_SIGNING_SECRET_FILE": &cfg.Collaborators.SigningSecret,
		"BIDENGINE_NOTIFY_TELEGRAM_TOKEN_FILE":        &cfg.Notify.TelegramToken,
		"BIDENGINE_NOTIFY_DISCORD_WEBHOOK_FILE":       &cfg.Notify.DiscordWebhook,
	}
}

// resolveSecretFiles reads secrets from the files named by *_FILE variables,
// the convention used for mounted container secrets. A file value wins over
// a plain variable.
func resolveSecretFiles(cfg *Config) error {
	for key, dst := range secretFields(cfg) {
		path := os.Getenv(key)
		if path == "" {
			continue
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: read %s: %w", key, err)
		}
		*dst = strings.TrimSpace(string(b))
	}
	return nil
}

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.Server.APIKey)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Collaborators.SigningSecret)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhook)
	redact(&out.Notify.WebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
