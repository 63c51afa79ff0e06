// Package config reads settings from the environment, optionally seeded by a
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/keshon/salabot/internal/prefix"
	"github.com/keshon/salabot/internal/store"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN"`
	MasterID     string `env:"MASTER_ID"`
	Prefix       string `env:"BOT_PREFIX" envDefault:"."`
	AppEnv       string `env:"APP_ENV" envDefault:"production"`
	// Verbose enables debug logs in production.
	Verbose bool `env:"LOG_VERBOSE"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	StoragePath   string `env:"STORAGE_PATH" envDefault:"salabot.db"`
	MySQLDSN      string `env:"MYSQL_DSN"`

	// StatusAddr enables the status HTTP server when set, e.g. ":8080".
	StatusAddr  string        `env:"STATUS_ADDR"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	FactURL     string        `env:"FACT_URL"`
}

// Load reads files (".env" when none are given) into the process environment
// without overriding it, then parses the environment. Missing files are skipped.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks what the bot needs to connect.
func (c *Config) Validate() error {
	var errs []error
	if c.DiscordToken == "" {
		errs = append(errs, errors.New("DISCORD_TOKEN is not set"))
	}
	if c.MasterID == "" {
		errs = append(errs, errors.New("MASTER_ID is not set"))
	}
	if err := prefix.Validate(c.Prefix); err != nil {
		errs = append(errs, fmt.Errorf("BOT_PREFIX: %w", err))
	}
	switch c.AppEnv {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV: unknown environment %q", c.AppEnv))
	}
	if c.StorageDriver == store.DriverMySQL && c.MySQLDSN == "" {
		errs = append(errs, errors.New("MYSQL_DSN is required by the mysql driver"))
	}
	return errors.Join(errs...)
}

// Store returns the storage settings.
func (c *Config) Store() store.Config {
	return store.Config{Driver: c.StorageDriver, Path: c.StoragePath, DSN: c.MySQLDSN}
}
