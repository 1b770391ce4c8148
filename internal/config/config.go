package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds the application configuration. Every session input is
// explicit here; nothing is read from ambient storage later.
type Config struct {
	APIBase     string
	SignalBase  string
	Token       string
	MeetingID   string
	DisplayName string
	Guest       bool
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		APIBase:     os.Getenv("HUDDLE_API_BASE"),
		SignalBase:  os.Getenv("HUDDLE_SIGNAL_BASE"),
		Token:       os.Getenv("HUDDLE_TOKEN"),
		MeetingID:   os.Getenv("HUDDLE_MEETING"),
		DisplayName: os.Getenv("HUDDLE_NAME"),
		Guest:       os.Getenv("HUDDLE_GUEST") == "1",
	}

	for _, v := range []struct{ name, val string }{
		{"HUDDLE_API_BASE", cfg.APIBase},
		{"HUDDLE_SIGNAL_BASE", cfg.SignalBase},
		{"HUDDLE_TOKEN", cfg.Token},
		{"HUDDLE_MEETING", cfg.MeetingID},
	} {
		if v.val == "" {
			return nil, fmt.Errorf("%s environment variable is required", v.name)
		}
	}

	if cfg.DisplayName == "" {
		cfg.DisplayName = "guest"
	}

	return cfg, nil
}
