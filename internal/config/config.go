// Package config loads the unheard CLI configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/unheard/unheard/internal/contextfile"
	"github.com/unheard/unheard/internal/storage/git"
)

// EnvPrefix prefixes environment overrides, e.g. UNHEARD_USER_EMAIL.
const EnvPrefix = "UNHEARD"

// Config holds all configuration options for unheard.
type Config struct {
	LogLevel string       `mapstructure:"log_level"`
	Backend  string       `mapstructure:"backend"`
	User     UserConfig   `mapstructure:"user"`
	Upload   UploadConfig `mapstructure:"upload"`
	Watch    WatchConfig  `mapstructure:"watch"`
}

// UserConfig overrides the repository's commit identity when complete.
type UserConfig struct {
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
}

// UploadConfig configures context file uploads.
type UploadConfig struct {
	LargeFileThreshold int64 `mapstructure:"large_file_threshold"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Backend:  git.BackendGoGit.String(),
		Upload:   UploadConfig{LargeFileThreshold: contextfile.LargeFileThreshold},
		Watch:    WatchConfig{Debounce: 2 * time.Second},
	}
}

// DefaultPath returns $UNHEARD_CONFIG, or ~/.config/unheard/config.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".config", "unheard", "config.yaml"), nil
}

// Load reads the configuration file at path and applies environment
// overrides. An empty path selects DefaultPath. A missing file is not an
// error unless path was given explicitly.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("user.name", "")
	v.SetDefault("user.email", "")
	v.SetDefault("upload.large_file_threshold", d.Upload.LargeFileThreshold)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if _, err := git.ParseBackend(c.Backend); err != nil {
		return err
	}
	if (c.User.Name == "") != (c.User.Email == "") {
		return errors.New("user.name and user.email must be set together")
	}
	if c.Upload.LargeFileThreshold <= 0 {
		return errors.New("upload.large_file_threshold must be positive")
	}
	if c.Watch.Debounce <= 0 {
		return errors.New("watch.debounce must be positive")
	}
	return nil
}

// Identity returns the configured commit identity, possibly empty.
func (c *Config) Identity() git.Identity {
	return git.Identity{Name: c.User.Name, Email: c.User.Email}
}

// Manager returns a repository manager for the configured backend.
func (c *Config) Manager() (*git.Manager, error) {
	b, err := git.ParseBackend(c.Backend)
	if err != nil {
		return nil, err
	}
	return git.NewManager(b, c.Identity()), nil
}
