package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Dispatch DispatchConfig
	Governor GovernorConfig
	Sync     SyncConfig
	Identity IdentityConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasePath           string
	BasicAuth          []string
	TrustedProxies     []string
	CorsAllowedOrigins []string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string // File path for SQLite, DB name for Postgres
}

// DispatchConfig bounds the recurring dispatch cycle.
type DispatchConfig struct {
	TickInterval           time.Duration
	MaxCampaignsPerTick    int
	MaxContactsPerCampaign int
	PoolWorkers            int
	PoolQueueSize          int
}

// GovernorConfig carries the per-channel anti-ban bounds. Delay bounds are
// applied at enqueue time by stamping scheduled_at, never by sleeping.
type GovernorConfig struct {
	DelayMin time.Duration
	DelayMax time.Duration
	DailyCap int
}

// SyncConfig bounds the pull protocol consumed by the delivery agent.
type SyncConfig struct {
	BatchSize     int
	AckTimeout    time.Duration
	SweepInterval time.Duration
	PollRate      float64 // polls per second allowed per agent
	PollBurst     int
}

type IdentityConfig struct {
	DefaultCountryCode string
}

// Global provides access to the loaded configuration globally.
var Global *Config

// LoadConfig loads configuration from a .env file (if present) and
// environment variables, with defaults suited to local development.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()
	viper.AutomaticEnv()

	setDefaults()

	cfg := &Config{
		App: AppConfig{
			Version:            "v1.4.0",
			Port:               viper.GetString("APP_PORT"),
			Debug:              viper.GetBool("APP_DEBUG"),
			Environment:        viper.GetString("APP_ENV"),
			BasePath:           viper.GetString("APP_BASE_PATH"),
			BasicAuth:          splitNonEmpty(viper.GetString("APP_BASIC_AUTH")),
			TrustedProxies:     splitNonEmpty(viper.GetString("APP_TRUSTED_PROXIES")),
			CorsAllowedOrigins: splitNonEmpty(viper.GetString("APP_CORS_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Driver:   viper.GetString("DB_DRIVER"),
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Name:     viper.GetString("DB_NAME"),
		},
		Dispatch: DispatchConfig{
			TickInterval:           viper.GetDuration("DISPATCH_TICK_INTERVAL"),
			MaxCampaignsPerTick:    viper.GetInt("DISPATCH_MAX_CAMPAIGNS_PER_TICK"),
			MaxContactsPerCampaign: viper.GetInt("DISPATCH_MAX_CONTACTS_PER_CAMPAIGN"),
			PoolWorkers:            viper.GetInt("DISPATCH_POOL_WORKERS"),
			PoolQueueSize:          viper.GetInt("DISPATCH_POOL_QUEUE_SIZE"),
		},
		Governor: GovernorConfig{
			DelayMin: viper.GetDuration("GOVERNOR_DELAY_MIN"),
			DelayMax: viper.GetDuration("GOVERNOR_DELAY_MAX"),
			DailyCap: viper.GetInt("GOVERNOR_DAILY_CAP"),
		},
		Sync: SyncConfig{
			BatchSize:     viper.GetInt("SYNC_BATCH_SIZE"),
			AckTimeout:    viper.GetDuration("SYNC_ACK_TIMEOUT"),
			SweepInterval: viper.GetDuration("SYNC_SWEEP_INTERVAL"),
			PollRate:      viper.GetFloat64("SYNC_POLL_RATE"),
			PollBurst:     viper.GetInt("SYNC_POLL_BURST"),
		},
		Identity: IdentityConfig{
			DefaultCountryCode: viper.GetString("IDENTITY_DEFAULT_COUNTRY_CODE"),
		},
	}

	if cfg.Database.Driver == "sqlite" && filepath.Ext(cfg.Database.Name) == "" {
		cfg.Database.Name = cfg.Database.Name + ".db"
	}

	Global = cfg
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("APP_PORT", "3000")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 5432)
	viper.SetDefault("DB_USER", "postgres")
	viper.SetDefault("DB_NAME", "leadpulse.db")
	viper.SetDefault("DISPATCH_TICK_INTERVAL", 30*time.Second)
	viper.SetDefault("DISPATCH_MAX_CAMPAIGNS_PER_TICK", 5)
	viper.SetDefault("DISPATCH_MAX_CONTACTS_PER_CAMPAIGN", 50)
	viper.SetDefault("DISPATCH_POOL_WORKERS", 4)
	viper.SetDefault("DISPATCH_POOL_QUEUE_SIZE", 16)
	viper.SetDefault("GOVERNOR_DELAY_MIN", 25*time.Second)
	viper.SetDefault("GOVERNOR_DELAY_MAX", 40*time.Second)
	viper.SetDefault("GOVERNOR_DAILY_CAP", 300)
	viper.SetDefault("SYNC_BATCH_SIZE", 10)
	viper.SetDefault("SYNC_ACK_TIMEOUT", 10*time.Minute)
	viper.SetDefault("SYNC_SWEEP_INTERVAL", 2*time.Minute)
	viper.SetDefault("SYNC_POLL_RATE", 1.0)
	viper.SetDefault("SYNC_POLL_BURST", 5)
	viper.SetDefault("IDENTITY_DEFAULT_COUNTRY_CODE", "55")
}

func splitNonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
