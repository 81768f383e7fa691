package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	RunAddress  string `env:"RUN_ADDRESS" envDefault:"localhost:8080"`
	DatabaseURI string `env:"DATABASE_URI"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	DiscordToken     string `env:"DISCORD_BOT_TOKEN"`
	DiscordAppID     string `env:"DISCORD_APP_ID"`
	DiscordPublicKey string `env:"DISCORD_PUBLIC_KEY"`
	GuildID          string `env:"DISCORD_GUILD_ID"`

	CaseChannelID     string `env:"CASE_CHANNEL_ID"`
	InvoiceChannelID  string `env:"INVOICE_CHANNEL_ID"`
	TrackingChannelID string `env:"TRACKING_CHANNEL_ID"`
	UploadChannelID   string `env:"UPLOAD_CHANNEL_ID"`
	NotifyChannelID   string `env:"NOTIFY_CHANNEL_ID"`

	GoogleCredentialsFile string `env:"GOOGLE_CREDENTIALS_FILE"`
	CaseSpreadsheetID     string `env:"CASE_SPREADSHEET_ID"`
	CaseSheet             string `env:"CASE_SHEET" envDefault:"Casos"`
	InvoiceSpreadsheetID  string `env:"INVOICE_SPREADSHEET_ID"`
	InvoiceSheet          string `env:"INVOICE_SHEET" envDefault:"Facturas"`
	DriveParentFolderID   string `env:"DRIVE_PARENT_FOLDER_ID" envDefault:"root"`

	CaseCategories []string `env:"CASE_CATEGORIES" envSeparator:"," envDefault:"CAMBIO DEFECTUOSO,CAMBIO DE TALLA,DEVOLUCIÓN,INCIDENCIA TRANSPORTE"`

	ReconcileIntervalMS int           `env:"RECONCILE_INTERVAL_MS" envDefault:"300000"`
	PendingTTL          time.Duration `env:"PENDING_ATTACHMENT_TTL" envDefault:"15m"`

	OperatorLogin        string `env:"OPERATOR_LOGIN" envDefault:"operator"`
	OperatorPasswordHash string `env:"OPERATOR_PASSWORD_HASH"`
	JWTSecret            string `env:"JWT_SECRET"`
}

var ErrMissingSetting = errors.New("missing required setting")

// New reads the environment, applies command line overrides and validates
// the result.
func New() (*Config, error) {
	return Load(os.Args[1:])
}

func Load(args []string) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("intakebot", flag.ContinueOnError)
	fs.StringVar(&cfg.RunAddress, "a", cfg.RunAddress, "server address and port")
	fs.StringVar(&cfg.DatabaseURI, "d", cfg.DatabaseURI, "database URI for durable sessions")
	fs.StringVar(&cfg.GoogleCredentialsFile, "g", cfg.GoogleCredentialsFile, "google service account credentials file")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if cfg.TrackingChannelID == "" {
		cfg.TrackingChannelID = cfg.CaseChannelID
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	required := []struct {
		name, value string
	}{
		{"DISCORD_BOT_TOKEN", c.DiscordToken},
		{"DISCORD_APP_ID", c.DiscordAppID},
		{"DISCORD_PUBLIC_KEY", c.DiscordPublicKey},
		{"DISCORD_GUILD_ID", c.GuildID},
		{"CASE_CHANNEL_ID", c.CaseChannelID},
		{"INVOICE_CHANNEL_ID", c.InvoiceChannelID},
		{"UPLOAD_CHANNEL_ID", c.UploadChannelID},
		{"NOTIFY_CHANNEL_ID", c.NotifyChannelID},
		{"GOOGLE_CREDENTIALS_FILE", c.GoogleCredentialsFile},
		{"CASE_SPREADSHEET_ID", c.CaseSpreadsheetID},
		{"INVOICE_SPREADSHEET_ID", c.InvoiceSpreadsheetID},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingSetting, r.name)
		}
	}

	if len(c.CaseCategories) == 0 {
		return fmt.Errorf("%w: CASE_CATEGORIES", ErrMissingSetting)
	}
	if c.OperatorPasswordHash != "" && c.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET is required when OPERATOR_PASSWORD_HASH is set", ErrMissingSetting)
	}
	return nil
}

// OperatorEnabled reports whether the operator API should be mounted.
func (c *Config) OperatorEnabled() bool {
	return c.OperatorPasswordHash != ""
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalMS) * time.Millisecond
}
