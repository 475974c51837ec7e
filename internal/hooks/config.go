package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds hook configuration
type Config struct {
	// AutoStartSession opens a session when a step arrives without one
	AutoStartSession bool `json:"auto_start_session"`

	// SaveQTableOnEnd writes the Q-table to its persist path on session_end
	SaveQTableOnEnd bool `json:"save_q_table_on_end"`

	// MinImportance drops remember events below this importance (0-1)
	MinImportance float64 `json:"min_importance"`

	// BestActionOnStep adds the greedy action for next_state to step output
	BestActionOnStep bool `json:"best_action_on_step"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !(c.MinImportance >= 0 && c.MinImportance <= 1) {
		return fmt.Errorf("min_importance must be between 0 and 1, got %v", c.MinImportance)
	}
	return nil
}

// ConfigFile represents the structure of the config file
type ConfigFile struct {
	Hooks *Config `json:"hooks"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		AutoStartSession: true,
		SaveQTableOnEnd:  true,
		MinImportance:    0,
		BestActionOnStep: true,
	}
}

// LoadConfig loads configuration from a JSON file
// Returns default config if file doesn't exist
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Use default if hooks section missing
	if configFile.Hooks == nil {
		return DefaultConfig(), nil
	}

	if err := configFile.Hooks.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return configFile.Hooks, nil
}

// LoadConfigWithEnvOverride loads config from file and applies environment variable overrides
func LoadConfigWithEnvOverride(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if val := os.Getenv("KAZUBA_HOOK_AUTO_START_SESSION"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.AutoStartSession = b
		}
	}

	if val := os.Getenv("KAZUBA_HOOK_SAVE_Q_TABLE_ON_END"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.SaveQTableOnEnd = b
		}
	}

	if val := os.Getenv("KAZUBA_HOOK_MIN_IMPORTANCE"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			config.MinImportance = f
		}
	}

	if val := os.Getenv("KAZUBA_HOOK_BEST_ACTION_ON_STEP"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.BestActionOnStep = b
		}
	}

	// Validate after env overrides
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config after env override: %w", err)
	}

	return config, nil
}
