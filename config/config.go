// Package config loads the dispatcher's configuration from a YAML file in
// strict mode: any key the schema does not recognize fails startup
// (spec.md §6, "Unknown config keys must cause startup failure"). A small
// set of fields may be overridden by VJUDGE_-prefixed environment
// variables, matching the teacher's env-driven overrides in main.go
// (REDIS_ADDR, POD_INDEX, ...), generalized to a YAML document instead of
// a flat var-per-setting approach since the accounts list is structured.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NormalAccount is one (site, username, password) bot credential.
type NormalAccount struct {
	Site     string `yaml:"site"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ContestAccount is a bot credential scoped to specific contest ids.
type ContestAccount struct {
	Site                string  `yaml:"site"`
	Username            string  `yaml:"username"`
	Password            string  `yaml:"password"`
	AuthorizedContests  []int64 `yaml:"authorized_contests"`
}

// Accounts mirrors the shape described in spec.md §4.8.
type Accounts struct {
	Normal  []NormalAccount  `yaml:"normal"`
	Contest []ContestAccount `yaml:"contest"`
}

// Database holds the relational store connection string.
type Database struct {
	URL string `yaml:"url"`
}

// Redis holds key/value store connection settings.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Schedule is one periodic job entry. The dispatcher does not execute
// these itself (the periodic worker is an external collaborator per
// spec.md §1) but validates the config shape so a malformed schedule
// fails fast at the same startup gate as everything else.
type Schedule struct {
	Name string `yaml:"name"`
	Cron string `yaml:"cron"`
}

// Config is the top-level configuration document.
type Config struct {
	Database Database   `yaml:"database"`
	Redis    Redis      `yaml:"redis"`
	Accounts Accounts   `yaml:"accounts"`
	LogLevel string     `yaml:"log_level"`
	Schedule []Schedule `yaml:"schedule"`
}

// Load reads and strictly decodes the YAML file at path, then applies any
// VJUDGE_-prefixed environment overrides for the handful of fields that
// commonly differ between environments (database/redis connection info).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VJUDGE_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("VJUDGE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("VJUDGE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("VJUDGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	for i, a := range c.Accounts.Normal {
		if a.Site == "" || a.Username == "" {
			return fmt.Errorf("config: accounts.normal[%d] missing site/username", i)
		}
	}
	for i, a := range c.Accounts.Contest {
		if a.Site == "" || a.Username == "" {
			return fmt.Errorf("config: accounts.contest[%d] missing site/username", i)
		}
		if len(a.AuthorizedContests) == 0 {
			return fmt.Errorf("config: accounts.contest[%d] (%s) has no authorized_contests", i, a.Username)
		}
	}
	return nil
}
