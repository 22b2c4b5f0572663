package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

func LoadSettings(path string) (*Config, error) {
	cfg := Default()

	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	return cfg, nil
}

func SaveSettings(cfg *Config) error {
	configDir := GetConfigDir()
	if err := EnsureDir(configDir); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settingsPath := GetSettingsFilePath()
	// 0600 - settings may contain an API key
	f, err := os.OpenFile(settingsPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create settings file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	return nil
}

func CreateDefaultSettings() error {
	configDir := GetConfigDir()
	if err := EnsureDir(configDir); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settingsPath := GetSettingsFilePath()
	if FileExists(settingsPath) {
		return nil
	}

	content := GenerateSettingsTemplate()
	if err := os.WriteFile(settingsPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	return nil
}

func GenerateSettingsTemplate() string {
	return `# Nore Configuration
# Location: ~/.config/nore/settings.toml
# This file uses TOML format: https://toml.io

# Directory where chats, tool server configs and the debug log are stored
data_directory = "~/.local/share/nore"

[provider]
# Model backend: "ollama", "openai" or "anthropic"
default = "ollama"

# Base URL for the backend (Ollama host, or an API-compatible endpoint)
base_url = "http://localhost:11434"

# Model to use for new conversations
model = "llama3.1:latest"

# API key (required for openai/anthropic, ignored for ollama)
# api_key = ""

[generation]
# Default system prompt for assistant responses (optional)
# system_prompt = "You are a helpful assistant."

# How many prior messages are sent to the model (minimum 1)
context_message_limit = 20

# Minimum interval between incremental UI updates, in milliseconds
throttle_interval_ms = 100

# Upper bound on tool-call rounds within one response
max_tool_rounds = 8
`
}
