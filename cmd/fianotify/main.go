package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ortdev/fianotify/internal/approval"
	"github.com/ortdev/fianotify/internal/chatclient"
	"github.com/ortdev/fianotify/internal/config"
	"github.com/ortdev/fianotify/internal/db"
	"github.com/ortdev/fianotify/internal/model"
	"github.com/ortdev/fianotify/internal/objectstore"
	"github.com/ortdev/fianotify/internal/publisher"
	"github.com/ortdev/fianotify/internal/rasterizer"
	"github.com/ortdev/fianotify/internal/redact"
	"github.com/ortdev/fianotify/internal/scraper"
	"github.com/ortdev/fianotify/internal/shutdown"
	"github.com/ortdev/fianotify/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "fianotify",
		Short: "Scrapes FIA racing documents and notifies subscribed Discord guilds",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.String("database-url", "./fianotify.db", "path/DSN to the SQLite-compatible database file")
	f.String("discord-token", "", "Discord bot token; unset disables chat delivery")
	f.String("approval-channel", "", "operator channel ID the approval gate posts to")
	f.String("approval-mention", "", "optional role/user mention appended to new approval requests")
	f.String("s3-access-key", "", "object store access key")
	f.String("s3-secret-key", "", "object store secret key")
	f.String("s3-host", "", "object store host the mirror/image URLs are served from")
	f.String("sentry-dsn", "", "telemetry sink DSN")
	f.Int("scraper-interval", 180, "seconds between scraper ticks")
	f.Int("event-age-out-days", 10, "days after an event's discovery before an Allowed event is marked Posted")
	f.String("tmp-dir", "./tmp", "scratch directory for PDF staging and rasterized pages")
	f.Bool("verbose", false, "enable verbose logging")

	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("database_url", "database-url")
	bindFlag("discord_token", "discord-token")
	bindFlag("approval_channel", "approval-channel")
	bindFlag("approval_mention", "approval-mention")
	bindFlag("s3_access_key", "s3-access-key")
	bindFlag("s3_secret_key", "s3-secret-key")
	bindFlag("s3_host", "s3-host")
	bindFlag("sentry_dsn", "sentry-dsn")
	bindFlag("scraper_interval", "scraper-interval")
	bindFlag("event_age_out_days", "event-age-out-days")
	bindFlag("tmp_dir", "tmp-dir")
	bindFlag("verbose", "verbose")

	viper.SetEnvPrefix("FIANOTIFY")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	cfg := config.Load()

	if cfg.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := requireConfig(cfg); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	if err := os.MkdirAll(cfg.TmpDir, 0o755); err != nil {
		return fmt.Errorf("startup: create tmp dir %s: %w", cfg.TmpDir, err)
	}

	logrus.WithFields(logrus.Fields{
		"database_url":     cfg.DatabaseURL,
		"scraper_interval": cfg.ScraperIntervalSeconds,
		"event_age_out":    cfg.EventAgeOutDays,
	}).Info("fianotify starting")

	store, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close() //nolint:errcheck

	filter := redact.NewFilter(map[string]string{
		"discord_token": cfg.DiscordToken,
		"s3_access_key": cfg.S3AccessKey,
		"s3_secret_key": cfg.S3SecretKey,
	})
	sink := telemetry.NewLogrusSink(cfg.SentryDSN, filter)

	var chat chatclient.ChatClient
	var discordClient *chatclient.DiscordClient
	if cfg.DiscordToken == "" {
		logrus.Warn("DISCORD_TOKEN is unset; chat delivery is disabled")
		chat = &chatclient.DisabledClient{Reason: "DISCORD_TOKEN is not set"}
	} else {
		var err error
		discordClient, err = chatclient.NewDiscordClient(context.Background(), cfg.DiscordToken)
		if err != nil {
			return fmt.Errorf("connect to discord: %w", err)
		}
		defer discordClient.Close() //nolint:errcheck
		chat = discordClient
	}

	objects := objectstore.New(cfg.S3Host, cfg.S3AccessKey, cfg.S3SecretKey)
	rast := &rasterizer.CommandInvoker{}
	sd := shutdown.New()
	stopSignals := sd.NotifyOnInterrupt()
	defer stopSignals()

	gate := &approval.Gate{Store: store, Chat: chat, Channel: cfg.ApprovalChannel, Mention: cfg.ApprovalMention}

	if discordClient != nil {
		discordClient.OnInteraction(gate.Dispatch)
		discordClient.OnGuildJoin(func(discordID, name string) { recordGuildJoin(store, discordID, name) })
		discordClient.OnGuildUpdate(func(discordID, name string) {
			if err := store.UpdateGuildName(discordID, name); err != nil {
				logrus.WithError(err).WithField("guild", discordID).Warn("guild update: rename")
			}
		})
		discordClient.OnGuildLeave(func(discordID string) {
			if err := store.DeleteGuild(discordID); err != nil {
				logrus.WithError(err).WithField("guild", discordID).Warn("guild leave: delete")
			}
		})
		if err := discordClient.RegisterCommands(context.Background()); err != nil {
			logrus.WithError(err).Warn("register slash commands")
		}
	}

	scr := scraper.New(store, objects, rast, sd, sink, cfg.TmpDir, cfg.ScraperIntervalSeconds)
	pub := publisher.New(store, chat, gate, sd, sink, cfg.EventAgeOutDays)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := scr.Run(context.Background()); err != nil {
			logrus.WithError(err).Error("scraper loop exited")
		}
	}()
	go func() {
		defer wg.Done()
		if err := pub.Run(context.Background()); err != nil {
			logrus.WithError(err).Error("publisher loop exited")
		}
	}()

	wg.Wait()
	logrus.Info("fianotify shut down")
	return nil
}

// recordGuildJoin upserts a guild on GuildCreate: Discord replays this event
// for every guild the bot is already a member of on startup, not just for
// genuinely new joins, so an existing row is renamed instead of duplicated.
func recordGuildJoin(store *db.DB, discordID, name string) {
	existing, err := store.FindGuildByDiscordID(discordID)
	if err != nil {
		logrus.WithError(err).WithField("guild", discordID).Warn("guild join: lookup")
		return
	}
	if existing != nil {
		if err := store.UpdateGuildName(discordID, name); err != nil {
			logrus.WithError(err).WithField("guild", discordID).Warn("guild join: rename existing")
		}
		return
	}
	g := model.Guild{DiscordID: discordID, Name: name, JoinedAt: time.Now().UTC()}
	if _, err := store.InsertGuild(&g); err != nil {
		logrus.WithError(err).WithField("guild", discordID).Warn("guild join: insert")
	}
}

func requireConfig(cfg config.Config) error {
	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.S3Host == "" {
		missing = append(missing, "S3_HOST")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
