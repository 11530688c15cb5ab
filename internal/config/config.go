// Package config loads runtime configuration for the FIA documents
// notifier: scraper/publisher intervals, storage locations, and the
// credentials for the object store and chat platform.
package config

import "github.com/spf13/viper"

// Config holds all runtime configuration for fianotify.
type Config struct {
	DatabaseURL string // path/DSN to the SQLite-compatible database file

	DiscordToken    string
	ApprovalChannel string // operator channel the approval gate posts to
	ApprovalMention string // optional "<@id>"/"<@&id>" string appended to new approval requests

	S3AccessKey string
	S3SecretKey string
	S3Host      string // host the mirror/image URLs are served from

	SentryDSN string // telemetry sink DSN; contract boundary only, see telemetry package

	ScraperIntervalSeconds int
	EventAgeOutDays        int

	TmpDir string // scratch directory for PDF staging and rasterized pages

	Verbose bool
}

// Load reads configuration from viper, which merges flag values, env
// vars, and defaults (set up by the cobra command in cmd/fianotify).
func Load() Config {
	return Config{
		DatabaseURL:            viper.GetString("database_url"),
		DiscordToken:           viper.GetString("discord_token"),
		ApprovalChannel:        viper.GetString("approval_channel"),
		ApprovalMention:        viper.GetString("approval_mention"),
		S3AccessKey:            viper.GetString("s3_access_key"),
		S3SecretKey:            viper.GetString("s3_secret_key"),
		S3Host:                 viper.GetString("s3_host"),
		SentryDSN:              viper.GetString("sentry_dsn"),
		ScraperIntervalSeconds: viper.GetInt("scraper_interval"),
		EventAgeOutDays:        viper.GetInt("event_age_out_days"),
		TmpDir:                 viper.GetString("tmp_dir"),
		Verbose:                viper.GetBool("verbose"),
	}
}
