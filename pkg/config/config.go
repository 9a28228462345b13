// Package config loads the worldkeeper configuration from a YAML file with
// environment overrides (WORLDKEEPER_* variables).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/worldkeeper/worldkeeper/pkg/pathutil"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. WORLDKEEPER_RCON_PASSWORD.
const EnvPrefix = "WORLDKEEPER"

// DefaultFileName is looked up in the current directory when no --config is given.
const DefaultFileName = "worldkeeper.yaml"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full controller configuration.
type Config struct {
	WorkDir  string `mapstructure:"work_dir" yaml:"work_dir"`
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`

	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Docker   DockerConfig   `mapstructure:"docker" yaml:"docker"`
	RCON     RCONConfig     `mapstructure:"rcon" yaml:"rcon"`
	Repo     RepoConfig     `mapstructure:"repo" yaml:"repo"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// ServerConfig holds game-server tunables passed to the image.
type ServerConfig struct {
	Port        int    `mapstructure:"port" yaml:"port"`
	Type        string `mapstructure:"type" yaml:"type"`
	Version     string `mapstructure:"version" yaml:"version"`
	Memory      string `mapstructure:"memory" yaml:"memory"`
	EULA        bool   `mapstructure:"eula" yaml:"eula"`
	PropsFile   string `mapstructure:"properties_file" yaml:"properties_file"`
	StopTimeout int    `mapstructure:"stop_timeout_seconds" yaml:"stop_timeout_seconds"`
}

// DockerConfig selects the engine and container identity.
type DockerConfig struct {
	Host          string `mapstructure:"host" yaml:"host"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Image         string `mapstructure:"image" yaml:"image"`
	DataMount     string `mapstructure:"data_mount" yaml:"data_mount"`
}

// RCONConfig configures the administrative protocol.
type RCONConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"password"`
}

// RepoConfig configures the mirrored repository.
type RepoConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	Branch        string `mapstructure:"branch" yaml:"branch"`
	SessionPrefix string `mapstructure:"session_prefix" yaml:"session_prefix"`
	Username      string `mapstructure:"username" yaml:"username"`
	Token         string `mapstructure:"token" yaml:"token"`
	AuthorName    string `mapstructure:"author_name" yaml:"author_name"`
	AuthorEmail   string `mapstructure:"author_email" yaml:"author_email"`
	// Author is "Name <email>" and overrides author_name and author_email.
	Author string `mapstructure:"author" yaml:"author,omitempty"`
}

// SyncConfig configures the background loops.
type SyncConfig struct {
	AutosaveInterval time.Duration `mapstructure:"autosave_interval" yaml:"autosave_interval"`
	PresenceInterval time.Duration `mapstructure:"presence_interval" yaml:"presence_interval"`
}

// TimeoutsConfig bounds every remote call made while the controller lock is held.
type TimeoutsConfig struct {
	Engine time.Duration `mapstructure:"engine" yaml:"engine"`
	RCON   time.Duration `mapstructure:"rcon" yaml:"rcon"`
	Git    time.Duration `mapstructure:"git" yaml:"git"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("work_dir", "data")
	v.SetDefault("state_dir", ".worldkeeper")

	v.SetDefault("server.port", 25565)
	v.SetDefault("server.type", "VANILLA")
	v.SetDefault("server.version", "LATEST")
	v.SetDefault("server.memory", "2G")
	v.SetDefault("server.eula", true)
	v.SetDefault("server.properties_file", "server.properties")
	v.SetDefault("server.stop_timeout_seconds", 30)

	v.SetDefault("docker.host", "")
	v.SetDefault("docker.container_name", "mc-server")
	v.SetDefault("docker.image", "itzg/minecraft-server:latest")
	v.SetDefault("docker.data_mount", "/data")

	v.SetDefault("rcon.host", "127.0.0.1")
	v.SetDefault("rcon.port", 25575)
	v.SetDefault("rcon.password", "")

	v.SetDefault("repo.url", "")
	v.SetDefault("repo.branch", "main")
	v.SetDefault("repo.session_prefix", "sessions")
	v.SetDefault("repo.username", "")
	v.SetDefault("repo.token", "")
	v.SetDefault("repo.author_name", "worldkeeper")
	v.SetDefault("repo.author_email", "worldkeeper@localhost")
	v.SetDefault("repo.author", "")

	v.SetDefault("sync.autosave_interval", 5*time.Minute)
	v.SetDefault("sync.presence_interval", 15*time.Second)

	v.SetDefault("timeouts.engine", 60*time.Second)
	v.SetDefault("timeouts.rcon", 5*time.Second)
	v.SetDefault("timeouts.git", 2*time.Minute)

	v.SetDefault("log.level", "progress")
	v.SetDefault("log.format", "console")
}

// Load reads path (or DefaultFileName when path is empty and the file exists)
// and applies environment overrides. Relative work_dir and state_dir are
// resolved against the config file's directory.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	baseDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(DefaultFileName); err == nil {
			path = DefaultFileName
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		baseDir = filepath.Dir(absPath)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.WorkDir = resolvePath(baseDir, cfg.WorkDir)
	cfg.StateDir = resolvePath(baseDir, cfg.StateDir)
	return &cfg, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate checks the fields every lifecycle operation depends on.
func (c *Config) Validate() error {
	var problems []string
	if c.WorkDir == "" {
		problems = append(problems, "work_dir is required")
	} else if pathutil.IsFilesystemRoot(c.WorkDir) {
		problems = append(problems, "work_dir must not be the filesystem root")
	}
	if c.WorkDir != "" && c.StateDir != "" && pathutil.Overlaps(c.WorkDir, c.StateDir) {
		problems = append(problems, "state_dir must be outside work_dir")
	}
	if c.Repo.URL == "" {
		problems = append(problems, "repo.url is required")
	}
	if c.Repo.Branch == "" {
		problems = append(problems, "repo.branch is required")
	}
	if c.RCON.Password == "" {
		problems = append(problems, "rcon.password is required (set WORLDKEEPER_RCON_PASSWORD)")
	}
	if c.RCON.Port <= 0 || c.RCON.Port > 65535 {
		problems = append(problems, fmt.Sprintf("rcon.port %d out of range", c.RCON.Port))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Sync.AutosaveInterval <= 0 {
		problems = append(problems, "sync.autosave_interval must be positive")
	}
	if c.Sync.PresenceInterval <= 0 {
		problems = append(problems, "sync.presence_interval must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalid, strings.Join(problems, "\n  - "))
	}
	return nil
}

// Secrets returns the values that must be scrubbed from logs.
func (c *Config) Secrets() []string {
	return []string{c.RCON.Password, c.Repo.Token}
}

const masked = "********"

// Redacted returns a copy safe to show to an operator.
func (c *Config) Redacted() Config {
	out := *c
	if out.RCON.Password != "" {
		out.RCON.Password = masked
	}
	if out.Repo.Token != "" {
		out.Repo.Token = masked
	}
	return out
}

// RenderYAML renders the redacted configuration.
func (c *Config) RenderYAML() ([]byte, error) {
	redacted := c.Redacted()
	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return data, nil
}
