package cli

import (
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/tansive/instant-example/pkg/instant"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default name of the config file
const DefaultConfigFile = "config.yaml"

// ConfigFormatVersion is the current version of the configuration file format
const ConfigFormatVersion = "0.1.0"

// Config represents the configuration for the instant-example CLI.
// Every field can be overridden from the environment or a .env file.
type Config struct {
	// Version of the configuration file format
	Version string `yaml:"version"`
	// BackendURL is the base URL of the web-examples backend
	BackendURL string `yaml:"backend_url" env:"INSTANT_EXAMPLE_BACKEND_URL"`
	// Username and Password answer HTTP Basic challenges from the backend
	Username string `yaml:"username" env:"INSTANT_EXAMPLE_USERNAME"`
	Password string `yaml:"password" env:"INSTANT_EXAMPLE_PASSWORD"`
	// Timeout bounds each request, including authentication round trips
	Timeout time.Duration `yaml:"timeout" env:"INSTANT_EXAMPLE_TIMEOUT"`
	// MaxChallengeAttempts bounds how many authentication challenges one request answers
	MaxChallengeAttempts int `yaml:"max_challenge_attempts" env:"INSTANT_EXAMPLE_MAX_CHALLENGE_ATTEMPTS"`
	// Attempts is how many times a request is issued when it fails at the transport level
	Attempts uint `yaml:"attempts" env:"INSTANT_EXAMPLE_ATTEMPTS"`
}

var config *Config

func defaultConfig() Config {
	return Config{
		Version:              ConfigFormatVersion,
		BackendURL:           instant.DefaultBaseURL,
		Timeout:              30 * time.Second,
		MaxChallengeAttempts: instant.DefaultMaxChallengeAttempts,
		Attempts:             1,
	}
}

// GetDefaultConfigPath returns the default path for the config file
// It uses the OS-specific config directory (e.g., ~/.config/instant-example on Linux)
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user config directory")
	}
	return filepath.Join(configDir, "instant-example", DefaultConfigFile), nil
}

// LoadConfig loads the configuration from the specified file, then applies
// overrides from .env and the environment. A missing file is only an error
// when it was named explicitly.
func LoadConfig(file string) error {
	c := defaultConfig()

	explicit := file != ""
	if !explicit {
		var err error
		file, err = GetDefaultConfigPath()
		if err != nil {
			return err
		}
	}

	yamlStr, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(yamlStr, &c); err != nil {
			return errors.Wrap(err, "unable to parse config file")
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return errors.Wrap(err, "unable to read config file")
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "unable to load .env file")
	}
	if err := envdecode.Decode(&c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return errors.Wrap(err, "unable to read environment overrides")
	}

	if err := c.ValidateConfig(); err != nil {
		return err
	}
	config = &c
	return nil
}

// GetConfig returns the current configuration
func GetConfig() *Config {
	return config
}

// ValidateConfig checks required fields and fills in defaults for zero values
func (cfg *Config) ValidateConfig() error {
	if cfg.Version != "" && cfg.Version != ConfigFormatVersion {
		return errors.Errorf("unsupported config file format version: %s", cfg.Version)
	}
	if cfg.BackendURL == "" {
		return errors.New("backend_url is required")
	}
	u, err := url.Parse(cfg.BackendURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.Errorf("backend_url must be an absolute URL: %q", cfg.BackendURL)
	}
	if cfg.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if cfg.Password != "" && cfg.Username == "" {
		return errors.New("password is set without a username")
	}
	if cfg.MaxChallengeAttempts <= 0 {
		cfg.MaxChallengeAttempts = instant.DefaultMaxChallengeAttempts
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	return nil
}

// clientOptions translates the configuration into client options
func (cfg *Config) clientOptions() []instant.ClientOption {
	opts := []instant.ClientOption{
		instant.WithBaseURL(cfg.BackendURL),
		instant.WithTimeout(cfg.Timeout),
		instant.WithMaxChallengeAttempts(cfg.MaxChallengeAttempts),
	}
	if cfg.Username != "" {
		opts = append(opts, instant.WithBasicCredential(cfg.Username, cfg.Password))
	}
	return opts
}
