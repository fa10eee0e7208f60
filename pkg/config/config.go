// Package config persists the local server-owner configuration written by
// the setup flow: who provisioned this server and how it is reached from
// the internet. The access-control middleware reads it on every request.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const (
	configDirName  = ".simple-mcp-server"
	configFileName = "config.json"

	defaultServerURL = "http://localhost:8000"
)

// Config is the locally persisted owner and deployment configuration.
type Config struct {
	UserID       string `json:"user_id,omitempty"`
	Email        string `json:"email,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TunnelURL    string `json:"tunnel_url,omitempty"`
	RobotName    string `json:"robot_name,omitempty"`
}

// DefaultPath returns the standard config file location,
// ~/.simple-mcp-server/config.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(configDirName, configFileName)
	}
	return filepath.Join(home, configDirName, configFileName)
}

// Load reads the config from the given path. A missing or unreadable file
// yields an empty config, not an error: the server then runs in open mode.
func Load(path string) *Config {
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &Config{}
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return &Config{}
	}
	return &cfg
}

// Save writes the config to the given path with owner-only permissions,
// creating the parent directory if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Clear removes the config file. A missing file is not an error.
func Clear(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsValid reports whether the config carries a complete owner identity.
func (c *Config) IsValid() bool {
	return c.UserID != "" && c.Email != "" && c.AccessToken != ""
}

// ServerURL resolves the public URL of this server: the tunnel URL from the
// config, then the SERVER_URL environment variable, then a local default.
func (c *Config) ServerURL() string {
	if c.TunnelURL != "" {
		return c.TunnelURL
	}
	if url := os.Getenv("SERVER_URL"); url != "" {
		return url
	}
	return defaultServerURL
}
