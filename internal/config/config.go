// Package config loads settings from defaults, an optional YAML file and
// CLAUDE_MEMORY_* environment variables, and resolves the storage root.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the tool reads.
const EnvPrefix = "CLAUDE_MEMORY"

// EnvPath overrides the storage root.
const EnvPath = "CLAUDE_MEMORY_PATH"

// AppName names the config and data directories.
const AppName = "claude-memory"

// Config is the complete configuration.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	// Debug lowers the console log level and writes debug.log in the
	// storage root.
	Debug   bool          `mapstructure:"debug"`
	Log     LogConfig     `mapstructure:"log"`
	Lock    LockConfig    `mapstructure:"lock"`
	Journal JournalConfig `mapstructure:"journal"`
	Cleanup CleanupConfig `mapstructure:"cleanup"`
}

// StorageConfig locates the storage root.
type StorageConfig struct {
	// Root overrides storage root resolution when set.
	Root string `mapstructure:"root"`
}

// LogConfig controls console logging.
type LogConfig struct {
	// Format is "text" or "json".
	Format string `mapstructure:"format"`
}

// LockConfig tunes the per-task lock.
type LockConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
}

// JournalConfig controls the event journal.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// CleanupConfig holds cleanup defaults.
type CleanupConfig struct {
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// MaxAge returns the cleanup age as a duration.
func (c CleanupConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Format: "text"},
		Lock: LockConfig{
			Timeout:        30 * time.Second,
			StaleThreshold: 5 * time.Minute,
			RetryInterval:  100 * time.Millisecond,
		},
		Journal: JournalConfig{Enabled: true},
		Cleanup: CleanupConfig{MaxAgeDays: 30},
	}
}

// SetDefaults registers the defaults on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("storage.root", d.Storage.Root)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("lock.timeout", d.Lock.Timeout)
	v.SetDefault("lock.stale_threshold", d.Lock.StaleThreshold)
	v.SetDefault("lock.retry_interval", d.Lock.RetryInterval)
	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("cleanup.max_age_days", d.Cleanup.MaxAgeDays)
}

// Dir returns the directory searched for config.yaml.
func Dir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Load reads configuration into v and decodes it. An explicit configFile
// must exist; otherwise config.yaml is looked up in Dir and the working
// directory and may be absent.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("storage.root", EnvPath); err != nil {
		return nil, fmt.Errorf("binding %s: %w", EnvPath, err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock.timeout must be positive, got %s", c.Lock.Timeout)
	}
	if c.Lock.StaleThreshold <= 0 {
		return fmt.Errorf("lock.stale_threshold must be positive, got %s", c.Lock.StaleThreshold)
	}
	if c.Lock.RetryInterval <= 0 {
		return fmt.Errorf("lock.retry_interval must be positive, got %s", c.Lock.RetryInterval)
	}
	if c.Cleanup.MaxAgeDays < 1 {
		return fmt.Errorf("cleanup.max_age_days must be at least 1, got %d", c.Cleanup.MaxAgeDays)
	}
	return nil
}

// Location is a resolved storage root and the project it belongs to.
type Location struct {
	Root        string
	ProjectPath string
	// Source is "override", "project" or "user".
	Source string
}

// ResolveRoot picks the storage root, in order: the configured override,
// <dir>/.claude/memories for the nearest ancestor of cwd holding a .claude
// directory, and a per-project directory under the user data home.
func (c *Config) ResolveRoot(cwd string) (Location, error) {
	cwd, err := filepath.Abs(cwd)
	if err != nil {
		return Location{}, fmt.Errorf("resolving working directory: %w", err)
	}

	if c.Storage.Root != "" {
		root, err := filepath.Abs(expandHome(c.Storage.Root))
		if err != nil {
			return Location{}, fmt.Errorf("resolving storage root: %w", err)
		}
		return Location{Root: root, ProjectPath: cwd, Source: "override"}, nil
	}

	if project := findProjectRoot(cwd); project != "" {
		return Location{
			Root:        filepath.Join(project, ".claude", "memories"),
			ProjectPath: project,
			Source:      "project",
		}, nil
	}

	return Location{
		Root:        filepath.Join(xdg.DataHome, AppName, ProjectHash(cwd)),
		ProjectPath: cwd,
		Source:      "user",
	}, nil
}

// ProjectHash is a short stable key for a project path.
func ProjectHash(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])[:8]
}

// findProjectRoot walks up from dir to the first directory containing a
// .claude directory. The home directory is skipped: ~/.claude holds user
// settings.
func findProjectRoot(dir string) string {
	home, _ := os.UserHomeDir()
	for {
		if dir != home {
			if info, err := os.Stat(filepath.Join(dir, ".claude")); err == nil && info.IsDir() {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
