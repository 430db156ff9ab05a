package samson

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the execution engine.
type Config struct {
	// Listen is the address the HTTP surface binds to.
	Listen string `yaml:"listen"`

	// CacheDir holds one mirror clone per project.
	CacheDir string `yaml:"cache_dir"`

	// WorkspaceDir is where temporary job checkouts are created.
	WorkspaceDir string `yaml:"workspace_dir"`

	Log LogConfig `yaml:"log"`

	// ShutdownPollInterval is how often the restart handler checks whether
	// active jobs have drained.
	ShutdownPollInterval time.Duration `yaml:"shutdown_poll_interval"`

	// CancelGracePeriod is how long a stopped command gets after SIGINT
	// before it is killed.
	CancelGracePeriod time.Duration `yaml:"cancel_grace_period"`

	// LockTimeout bounds how long a job waits for its project's git lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// LockTTL is the expiry of a held lock, protecting against crashed
	// holders.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// OutputBacklog caps the number of events kept per output buffer.
	// Zero keeps everything.
	OutputBacklog int `yaml:"output_backlog"`

	// OutputPersistRate is the maximum number of job output mirror writes
	// per second.
	OutputPersistRate float64 `yaml:"output_persist_rate"`

	// JobTimeout bounds a single execution. Zero means no limit.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// HookTimeout bounds the extension hooks run when a job finishes.
	HookTimeout time.Duration `yaml:"hook_timeout"`

	// Verbose echoes every command before running it.
	Verbose bool `yaml:"verbose"`

	// PTY runs commands attached to a pseudo-terminal.
	PTY bool `yaml:"pty"`

	// Audit logs every job lifecycle event as an audit record.
	Audit bool `yaml:"audit"`

	BuddyCheck BuddyCheckConfig `yaml:"buddy_check"`
	Redis      RedisConfig      `yaml:"redis"`
	Archive    ArchiveConfig    `yaml:"archive"`

	Projects []ProjectConfig `yaml:"projects"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// BuddyCheckConfig configures peer approval of production deploys.
type BuddyCheckConfig struct {
	Enabled   bool          `yaml:"enabled"`
	TimeLimit time.Duration `yaml:"time_limit"`
}

// RedisConfig enables the Redis lock backend and job store when Addr is set.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ArchiveConfig enables uploading finished job logs to an S3-compatible
// bucket when Endpoint is set.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ProjectConfig describes a deployable repository.
type ProjectConfig struct {
	ID         string        `yaml:"id"`
	Name       string        `yaml:"name"`
	Repository string        `yaml:"repository"`
	Stages     []StageConfig `yaml:"stages"`
}

// StageConfig describes one deploy target of a project.
type StageConfig struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Commands       []string          `yaml:"commands"`
	Production     bool              `yaml:"production"`
	NoCodeDeployed bool              `yaml:"no_code_deployed"`
	Env            map[string]string `yaml:"env"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Listen:               ":9080",
		CacheDir:             "/tmp/samson/cache",
		WorkspaceDir:         "/tmp/samson/workspaces",
		Log:                  LogConfig{Level: "info", Format: "text"},
		ShutdownPollInterval: 5 * time.Second,
		CancelGracePeriod:    10 * time.Second,
		LockTimeout:          10 * time.Minute,
		LockTTL:              30 * time.Minute,
		HookTimeout:          time.Minute,
		OutputBacklog:        100000,
		OutputPersistRate:    1,
		BuddyCheck: BuddyCheckConfig{
			TimeLimit: 20 * time.Minute,
		},
		Redis: RedisConfig{KeyPrefix: "samson:"},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and applies
// environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("samson: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("samson: parse config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides selected fields from SAMSON_* environment variables.
func (c *Config) ApplyEnv() {
	c.Listen = getenv("SAMSON_LISTEN", c.Listen)
	c.CacheDir = getenv("SAMSON_CACHE_DIR", c.CacheDir)
	c.WorkspaceDir = getenv("SAMSON_WORKSPACE_DIR", c.WorkspaceDir)
	c.Log.Level = getenv("SAMSON_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenv("SAMSON_LOG_FORMAT", c.Log.Format)
	c.Redis.Addr = getenv("SAMSON_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenv("SAMSON_REDIS_PASSWORD", c.Redis.Password)
	c.Archive.Endpoint = getenv("SAMSON_ARCHIVE_ENDPOINT", c.Archive.Endpoint)
	c.Archive.AccessKey = getenv("SAMSON_ARCHIVE_ACCESS_KEY", c.Archive.AccessKey)
	c.Archive.SecretKey = getenv("SAMSON_ARCHIVE_SECRET_KEY", c.Archive.SecretKey)
	c.BuddyCheck.Enabled = getenvBool("SAMSON_BUDDY_CHECK", c.BuddyCheck.Enabled)
	c.Verbose = getenvBool("SAMSON_VERBOSE", c.Verbose)
	c.PTY = getenvBool("SAMSON_PTY", c.PTY)
	c.Audit = getenvBool("SAMSON_AUDIT", c.Audit)
	if v := os.Getenv("SAMSON_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.JobTimeout = d
		}
	}
}

// Validate checks that project and stage identifiers are present and unique.
// Stage ids are unique across projects because deploys queue on them.
func (c Config) Validate() error {
	projects := make(map[string]struct{}, len(c.Projects))
	stages := make(map[string]string)
	for _, p := range c.Projects {
		if p.ID == "" {
			return fmt.Errorf("samson: project %q has no id", p.Name)
		}
		if _, dup := projects[p.ID]; dup {
			return fmt.Errorf("samson: duplicate project id %q", p.ID)
		}
		projects[p.ID] = struct{}{}
		if p.Repository == "" {
			return fmt.Errorf("samson: project %q has no repository", p.ID)
		}
		for _, s := range p.Stages {
			if s.ID == "" {
				return fmt.Errorf("samson: stage %q of project %q has no id", s.Name, p.ID)
			}
			if owner, dup := stages[s.ID]; dup {
				return fmt.Errorf("samson: stage id %q of project %q already used by project %q", s.ID, p.ID, owner)
			}
			stages[s.ID] = p.ID
		}
	}
	return nil
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
