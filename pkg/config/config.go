// Package config resolves runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys.
const (
	EnvTable         = "GIFTTAX_TABLE"
	EnvAddr          = "GIFTTAX_ADDR"
	EnvLogLevel      = "GIFTTAX_LOG_LEVEL"
	EnvDevelopment   = "GIFTTAX_DEV"
	EnvWatch         = "GIFTTAX_WATCH"
	EnvMaxPriorGifts = "GIFTTAX_MAX_PRIOR_GIFTS"
	EnvGinMode       = "GIN_MODE"
)

// Defaults applied when a key is unset. An empty log level lets the
// logger pick debug in development and info otherwise.
const (
	DefaultTable         = "lawtables/kor_2025.yaml"
	DefaultAddr          = ":8080"
	DefaultLogLevel      = ""
	DefaultMaxPriorGifts = 100
	DefaultGinMode       = "release"
)

// Config holds the resolved settings.
type Config struct {
	TablePath     string
	Addr          string
	LogLevel      string
	Development   bool
	Watch         bool
	MaxPriorGifts int
	GinMode       string
}

// Load resolves settings. Values already in the process environment win
// over those read from envFiles; when envFiles is empty ".env" is tried and
// silently skipped if missing.
func Load(envFiles ...string) (Config, error) {
	optional := len(envFiles) == 0
	if optional {
		envFiles = []string{".env"}
	}

	fileValues := map[string]string{}
	for _, path := range envFiles {
		values, err := godotenv.Read(path)
		if err != nil {
			if optional && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("reading env file %s: %w", path, err)
		}
		for k, v := range values {
			if _, seen := fileValues[k]; !seen {
				fileValues[k] = v
			}
		}
	}

	lookup := func(key, fallback string) string {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if v := strings.TrimSpace(fileValues[key]); v != "" {
			return v
		}
		return fallback
	}

	cfg := Config{
		TablePath: lookup(EnvTable, DefaultTable),
		Addr:      lookup(EnvAddr, DefaultAddr),
		LogLevel:  lookup(EnvLogLevel, DefaultLogLevel),
		GinMode:   lookup(EnvGinMode, DefaultGinMode),
	}

	var problems []string
	var err error
	if cfg.Development, err = parseBool(lookup(EnvDevelopment, "false")); err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", EnvDevelopment, err))
	}
	if cfg.Watch, err = parseBool(lookup(EnvWatch, "false")); err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", EnvWatch, err))
	}

	maxPrior := lookup(EnvMaxPriorGifts, strconv.Itoa(DefaultMaxPriorGifts))
	if cfg.MaxPriorGifts, err = strconv.Atoi(maxPrior); err != nil || cfg.MaxPriorGifts < 0 {
		problems = append(problems, fmt.Sprintf("%s: %q is not a non-negative integer", EnvMaxPriorGifts, maxPrior))
	}

	if len(problems) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%q is not a boolean", s)
	}
	return v, nil
}
