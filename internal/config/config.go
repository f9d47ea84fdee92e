package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// MigrationsDir is where the server looks for migration files when
	// reporting schema state on the health endpoint.
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	// APIKey guards the mutating ops endpoints (scan invocation, review
	// queue). Empty disables the guard, which is only acceptable in
	// development mode.
	APIKey string `mapstructure:"API_KEY"`

	// Scan engine tunables.
	ScanWorkers        int     `mapstructure:"SCAN_WORKERS"`
	ScanLookbackDays   int     `mapstructure:"SCAN_LOOKBACK_DAYS"`
	GPCacheLookback    int     `mapstructure:"GP_CACHE_LOOKBACK_DAYS"`
	MinOpportunityGP   float64 `mapstructure:"MIN_OPPORTUNITY_GP"`
	UpsertBatchSize    int     `mapstructure:"UPSERT_BATCH_SIZE"`
	PatientHistoryDays int     `mapstructure:"PATIENT_HISTORY_DAYS"`

	// Discovery scan tunables.
	DiscoveryLookbackDays  int     `mapstructure:"DISCOVERY_LOOKBACK_DAYS"`
	DiscoveryMinFills      int     `mapstructure:"DISCOVERY_MIN_FILLS"`
	DiscoveryMaxAvgGP      float64 `mapstructure:"DISCOVERY_MAX_AVG_GP"`
	DiscoveryAltMinFills   int     `mapstructure:"DISCOVERY_ALT_MIN_FILLS"`
	DiscoveryAltMinAvgGP   float64 `mapstructure:"DISCOVERY_ALT_MIN_AVG_GP"`
	DiscoveryMinAnnualGain float64 `mapstructure:"DISCOVERY_MIN_ANNUAL_GAIN"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("SCAN_WORKERS", 4)
	v.SetDefault("SCAN_LOOKBACK_DAYS", 120)
	v.SetDefault("GP_CACHE_LOOKBACK_DAYS", 365)
	v.SetDefault("MIN_OPPORTUNITY_GP", 10)
	v.SetDefault("UPSERT_BATCH_SIZE", 100)
	v.SetDefault("PATIENT_HISTORY_DAYS", 365)
	v.SetDefault("DISCOVERY_LOOKBACK_DAYS", 90)
	v.SetDefault("DISCOVERY_MIN_FILLS", 10)
	v.SetDefault("DISCOVERY_MAX_AVG_GP", -5)
	v.SetDefault("DISCOVERY_ALT_MIN_FILLS", 5)
	v.SetDefault("DISCOVERY_ALT_MIN_AVG_GP", 5)
	v.SetDefault("DISCOVERY_MIN_ANNUAL_GAIN", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("API_KEY")
	v.BindEnv("SCAN_WORKERS")
	v.BindEnv("SCAN_LOOKBACK_DAYS")
	v.BindEnv("GP_CACHE_LOOKBACK_DAYS")
	v.BindEnv("MIN_OPPORTUNITY_GP")
	v.BindEnv("UPSERT_BATCH_SIZE")
	v.BindEnv("PATIENT_HISTORY_DAYS")
	v.BindEnv("DISCOVERY_LOOKBACK_DAYS")
	v.BindEnv("DISCOVERY_MIN_FILLS")
	v.BindEnv("DISCOVERY_MAX_AVG_GP")
	v.BindEnv("DISCOVERY_ALT_MIN_FILLS")
	v.BindEnv("DISCOVERY_ALT_MIN_AVG_GP")
	v.BindEnv("DISCOVERY_MIN_ANNUAL_GAIN")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ScanWorkers < 1 {
		cfg.ScanWorkers = 1
	}
	if cfg.UpsertBatchSize < 1 {
		cfg.UpsertBatchSize = 1
	}

	if cfg.IsDev() && cfg.APIKey == "" {
		log.Println("WARNING: running in development mode with no API_KEY; ops endpoints are unauthenticated")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// the ops endpoints must be guarded by an API key, and the engine thresholds
// must be sane (a positive floor, a negative loser cutoff).
func (c *Config) Validate() error {
	if !c.IsDev() && c.APIKey == "" {
		return fmt.Errorf("API_KEY is required when ENV=%q", c.Env)
	}
	if c.MinOpportunityGP < 0 {
		return fmt.Errorf("MIN_OPPORTUNITY_GP must be >= 0, got %v", c.MinOpportunityGP)
	}
	if c.DiscoveryMaxAvgGP > 0 {
		return fmt.Errorf("DISCOVERY_MAX_AVG_GP must be <= 0, got %v", c.DiscoveryMaxAvgGP)
	}
	if c.DiscoveryAltMinAvgGP < 0 {
		return fmt.Errorf("DISCOVERY_ALT_MIN_AVG_GP must be >= 0, got %v", c.DiscoveryAltMinAvgGP)
	}
	return nil
}
