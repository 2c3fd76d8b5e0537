package config

import "time"

// Config represents the complete uplink configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	API     APIConfig     `yaml:"api,omitempty"`
	Uploads UploadsConfig `yaml:"uploads"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// Namespace is the worker target that launch and cancel messages are addressed to.
	Namespace string `yaml:"namespace"`
	// Tier selects the launch primitive: "legacy" (background) or "foreground".
	Tier           string        `yaml:"tier"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	DispatchAction string        `yaml:"dispatch_action"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
	// Retention is how long finished deliveries are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// UploadsConfig tunes the upload job runtime.
type UploadsConfig struct {
	// Timeout bounds a single HTTP attempt. Zero means no limit.
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	// MaxClaims bounds how often a delivery is picked up again after a crash.
	MaxClaims int `yaml:"max_claims"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:           "uplink",
			LogLevel:       "info",
			LogFormat:      "json",
			Namespace:      "uplink",
			Tier:           "legacy",
			PollInterval:   time.Second,
			DispatchAction: "startUpload",
		},
		State: StateConfig{
			Path:      "./data/uplink.db",
			Retention: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Uploads: UploadsConfig{
			Timeout:       5 * time.Minute,
			MaxConcurrent: 2,
			MaxClaims:     3,
		},
	}
}
