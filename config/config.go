package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

type ProviderConfig struct {
	Default string `toml:"default"`
	BaseURL string `toml:"base_url,omitempty"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key,omitempty"`
}

type GenerationConfig struct {
	SystemPrompt        string `toml:"system_prompt,omitempty"`
	ContextMessageLimit int    `toml:"context_message_limit"`
	ThrottleIntervalMS  int    `toml:"throttle_interval_ms"`
	MaxToolRounds       int    `toml:"max_tool_rounds"`
}

type Config struct {
	DataDirectory string           `toml:"data_directory"`
	Provider      ProviderConfig   `toml:"provider"`
	Generation    GenerationConfig `toml:"generation"`
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

func (c *Config) applyEnvOverrides() {
	if dataDir := os.Getenv("NORE_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if prov := os.Getenv("NORE_PROVIDER"); prov != "" {
		c.Provider.Default = prov
	}
	if model := os.Getenv("NORE_MODEL"); model != "" {
		c.Provider.Model = model
	}
	if key := os.Getenv("NORE_API_KEY"); key != "" {
		c.Provider.APIKey = key
	}
	if url := os.Getenv("NORE_BASE_URL"); url != "" {
		c.Provider.BaseURL = url
	}
}

// normalize clamps config values to their documented minimums.
func (c *Config) normalize() {
	if c.Generation.ContextMessageLimit < 1 {
		c.Generation.ContextMessageLimit = 1
	}
	if c.Generation.ThrottleIntervalMS <= 0 {
		c.Generation.ThrottleIntervalMS = 100
	}
	if c.Generation.MaxToolRounds < 1 {
		c.Generation.MaxToolRounds = 8
	}
}

func CheckDebug() bool {
	debug := os.Getenv("NORE_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600 - the log may contain conversation fragments
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (NORE_DEBUG=%s) ===", os.Getenv("NORE_DEBUG"))
}

func Load() (*Config, error) {
	cfg := Default()

	settingsPath := GetSettingsFilePath()
	if FileExists(settingsPath) {
		loaded, err := LoadSettings(settingsPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		if err := CreateDefaultSettings(); err != nil {
			return nil, fmt.Errorf("failed to create default settings: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()

	if err := EnsureDir(cfg.DataDir()); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

func Default() *Config {
	return &Config{
		DataDirectory: "~/.local/share/nore",
		Provider: ProviderConfig{
			Default: "ollama",
			BaseURL: "http://localhost:11434",
			Model:   "llama3.1:latest",
		},
		Generation: GenerationConfig{
			ContextMessageLimit: 20,
			ThrottleIntervalMS:  100,
			MaxToolRounds:       8,
		},
	}
}
