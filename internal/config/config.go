// Package config loads and holds all service configuration.
// Settings start from defaults and are overridden by environment
// variables; a handful are additionally exposed as flags in main.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the full service configuration.
type Config struct {
	ListenAddr string
	Debug      bool
	LogLevel   string

	// Session lifecycle
	SessionTTL    time.Duration
	SweepInterval time.Duration

	// Routing
	TemplateThreshold float64
	HistoryWindow     int
	TemplateFile      string // optional TOML override for templates and crisis keywords

	// Privacy accounting
	EpsilonBudget float64 // total epsilon allowed per named statistic
	DefaultDelta  float64 // delta for the Gaussian mechanism

	// Collaborators
	ClassifierURL     string // empty means the built-in keyword classifier
	ClassifierTimeout time.Duration
	OllamaEndpoint    string
	OllamaModel       string
	FallbackTimeout   time.Duration

	// Storage
	AuditDBPath string
}

// Load returns config with defaults overridden by environment variables.
func Load() *Config {
	cfg := defaults()
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		ListenAddr:        ":8090",
		LogLevel:          "info",
		SessionTTL:        time.Hour,
		SweepInterval:     time.Minute,
		TemplateThreshold: 0.7,
		HistoryWindow:     10,
		EpsilonBudget:     10.0,
		DefaultDelta:      1e-5,
		ClassifierTimeout: 5 * time.Second,
		OllamaEndpoint:    "http://localhost:11434",
		OllamaModel:       "llama3:latest",
		FallbackTimeout:   10 * time.Second,
		AuditDBPath:       "empathychat.db",
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SESSION_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTL = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SWEEP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("TEMPLATE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.TemplateThreshold = f
		}
	}
	if v := os.Getenv("TEMPLATE_FILE"); v != "" {
		cfg.TemplateFile = v
	}
	if v := os.Getenv("EPSILON_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.EpsilonBudget = f
		}
	}
	if v := os.Getenv("DP_DELTA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DefaultDelta = f
		}
	}
	if v := os.Getenv("CLASSIFIER_URL"); v != "" {
		cfg.ClassifierURL = v
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		cfg.OllamaEndpoint = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.OllamaModel = v
	}
	if v := os.Getenv("AUDIT_DB_PATH"); v != "" {
		cfg.AuditDBPath = v
	}
}
