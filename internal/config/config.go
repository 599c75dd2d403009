// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/liamcoop/perfrules/rules"
)

// Config holds the settings shared by the server and the CLI
type Config struct {
	DatabaseURL     string
	Port            string
	LogLevel        string
	ErrorSampleRate int
	DefaultSamples  int
	DefaultNoise    float64
	PreviewRows     int
}

// Default returns the settings used when nothing is configured
func Default() Config {
	return Config{
		Port:           "8080",
		LogLevel:       "INFO",
		DefaultSamples: rules.DefaultSamples,
		DefaultNoise:   rules.DefaultNoise,
		PreviewRows:    20,
	}
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, starting from Default
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()

	if v := getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	var errs []error
	if v := getenv("ERROR_SAMPLE_RATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ERROR_SAMPLE_RATE: %w", err))
		} else {
			cfg.ErrorSampleRate = n
		}
	}
	if v := getenv("DEFAULT_SAMPLES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DEFAULT_SAMPLES: %w", err))
		} else {
			cfg.DefaultSamples = n
		}
	}
	if v := getenv("DEFAULT_NOISE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("DEFAULT_NOISE: %w", err))
		} else {
			cfg.DefaultNoise = f
		}
	}
	if v := getenv("PREVIEW_ROWS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PREVIEW_ROWS: %w", err))
		} else {
			cfg.PreviewRows = n
		}
	}
	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate checks that numeric settings are in range
func (c Config) Validate() error {
	if c.DefaultSamples <= 0 {
		return fmt.Errorf("DEFAULT_SAMPLES: %w", rules.ErrInvalidSampleCount)
	}
	if err := rules.ValidateNoise(c.DefaultNoise); err != nil {
		return fmt.Errorf("DEFAULT_NOISE: %w", err)
	}
	if c.PreviewRows < 0 {
		return fmt.Errorf("PREVIEW_ROWS must not be negative, got %d", c.PreviewRows)
	}
	if c.ErrorSampleRate < 0 {
		return fmt.Errorf("ERROR_SAMPLE_RATE must not be negative, got %d", c.ErrorSampleRate)
	}
	return nil
}
