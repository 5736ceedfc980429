package core

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// ClientConfig stores backend connection details and the session identity
// for the CLI.
type ClientConfig struct {
	BaseURL  string `json:"base_url"`
	Token    string `json:"token,omitempty"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	CacheDir string `json:"cache_dir,omitempty"`
}

// Identity returns the session identity carried by the config.
func (c ClientConfig) Identity() Identity {
	return Identity{UserID: c.UserID, UserName: c.UserName}
}

// ConfigPath returns the location of the client config file.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "threadsync", "config.json"), nil
}

// DefaultCacheDir returns where the conversation cache lives unless the
// config overrides it.
func DefaultCacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "threadsync"), nil
}

// ReadClientConfig reads the client config file if present.
// Returns nil with no error when the file does not exist.
func ReadClientConfig() (*ClientConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var config ClientConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// WriteClientConfig writes the client config to disk, creating the config
// directory if needed.
func WriteClientConfig(config ClientConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
