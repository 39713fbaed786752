// Package config loads the optional YAML configuration of the server.
package config

import (
	"fmt"
	"os"

	"github.com/Darkness4/tsremux/notify"
	"gopkg.in/yaml.v3"
)

// Config is the content of the configuration file.
type Config struct {
	// DefaultThreads is the thread hint used when a run does not give one.
	DefaultThreads *float64 `yaml:"defaultThreads,omitempty"`

	Notifier            NotifierConfig             `yaml:"notifier,omitempty"`
	NotificationFormats notify.NotificationFormats `yaml:"notificationFormats,omitempty"`
}

// NotifierConfig selects the notification back end.
type NotifierConfig struct {
	Gotify   GotifyConfig   `yaml:"gotify,omitempty"`
	Shoutrrr ShoutrrrConfig `yaml:"shoutrrr,omitempty"`
}

// GotifyConfig configures the Gotify back end.
type GotifyConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Token    string `yaml:"token,omitempty"`
}

// ShoutrrrConfig configures the shoutrrr back end.
type ShoutrrrConfig struct {
	Enabled bool     `yaml:"enabled,omitempty"`
	URLs    []string `yaml:"urls,omitempty"`
}

// Load reads and decodes a configuration file. An empty file is a valid,
// empty configuration.
func Load(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &Config{}
	if err := yaml.Unmarshal(b, config); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	return config, nil
}
