// Package config reads the goguide configuration. Values come from a yaml
// file, environment variables or both; credentials should only be passed
// through the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jakopako/goguide/internal/chrome"
	"github.com/jakopako/goguide/internal/execution"
	"github.com/jakopako/goguide/internal/fetch"
	"github.com/jakopako/goguide/internal/overlay"
	"github.com/jakopako/goguide/internal/remote"
	"github.com/jakopako/goguide/internal/state"
)

type MetricsConfig struct {
	// Addr is the listen address of the metrics endpoint. Empty disables it.
	Addr string `yaml:"addr" env:"GOGUIDE_METRICS_ADDR"`
	Path string `yaml:"path" env-default:"/metrics"`
}

type Config struct {
	Browser chrome.Config       `yaml:"browser"`
	Fetcher fetch.FetcherConfig `yaml:"fetcher"`
	State   state.Config        `yaml:"state"`
	Remote  remote.Config       `yaml:"remote"`
	Tracker execution.Config    `yaml:"tracker"`
	Overlay overlay.Config      `yaml:"overlay"`
	Metrics MetricsConfig       `yaml:"metrics"`
}

// NewConfig reads the file at path. A missing file is not an error when
// path is the default one; the environment and the defaults are used then.
func NewConfig(path string, required bool) (*Config, error) {
	var config Config
	_, err := os.Stat(path)
	switch {
	case err == nil:
		if err := cleanenv.ReadConfig(path, &config); err != nil {
			return nil, fmt.Errorf("error while reading config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
		if err := cleanenv.ReadEnv(&config); err != nil {
			return nil, fmt.Errorf("error while reading config from env: %w", err)
		}
	default:
		return nil, err
	}
	return &config, nil
}

// Usage returns the description of the environment variables.
func Usage() (string, error) {
	var config Config
	return cleanenv.GetDescription(&config, nil)
}
