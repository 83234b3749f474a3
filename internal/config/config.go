// Package config loads the coursebuilder service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only configuration file version accepted by Load.
const CurrentVersion = "1.0"

// Config is the root service configuration.
type Config struct {
	Version  string         `yaml:"version"`
	Paths    PathsConfig    `yaml:"paths"`
	Build    BuildConfig    `yaml:"build"`
	Frontend FrontendConfig `yaml:"frontend"`
	Static   StaticConfig   `yaml:"static"`
	Graders  []GraderConfig `yaml:"graders,omitempty"`
	Git      GitConfig      `yaml:"git"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Events   EventsConfig   `yaml:"events,omitempty"`
}

// PathsConfig holds the filesystem roots. Each stage root contains one directory per course key.
type PathsConfig struct {
	BuildDir       string `yaml:"build_dir"`
	StoreDir       string `yaml:"store_dir"`
	PublishDir     string `yaml:"publish_dir"`
	StaticDir      string `yaml:"static_dir"`       // externally served symlink root
	LocalSourceDir string `yaml:"local_source_dir"` // source for courses without a git origin
	Database       string `yaml:"database"`
}

// BuildConfig controls build invocation and job dispatch.
type BuildConfig struct {
	DefaultImage     string            `yaml:"default_image"`
	DefaultCommand   string            `yaml:"default_command"`
	Executor         ExecutorType      `yaml:"executor"`
	ExecutorSettings map[string]string `yaml:"executor_settings,omitempty"`
	FileLockTimeout  Duration          `yaml:"filelock_timeout"`
	RetryBackoff     RetryBackoffMode  `yaml:"retry_backoff,omitempty"`
	RetryDelay       Duration          `yaml:"retry_delay"`
	RetryMaxDelay    Duration          `yaml:"retry_max_delay"`
	MaxRequeues      int               `yaml:"max_requeues"`
	Workers          int               `yaml:"workers"`
	QueueSize        int               `yaml:"queue_size"`
	HistorySize      int               `yaml:"history_size"`
	RebuildSchedule  Duration          `yaml:"rebuild_schedule,omitempty"`
	WatchLocal       bool              `yaml:"watch_local_sources,omitempty"`
	WatchDebounce    Duration          `yaml:"watch_debounce,omitempty"`
}

// ExecutorType selects the build executor implementation.
type ExecutorType string

const (
	ExecutorDocker ExecutorType = "docker"
	ExecutorNone   ExecutorType = "none"
)

// FrontendConfig points at the learning platform that is notified after successful builds.
// An empty URL disables notifications and error mails.
type FrontendConfig struct {
	URL        string   `yaml:"url"`
	SigningKey string   `yaml:"signing_key"`
	Issuer     string   `yaml:"issuer"`
	Timeout    Duration `yaml:"timeout"`
}

// StaticConfig describes where published static files are served from.
type StaticConfig struct {
	URL     string `yaml:"url"`
	URLPath string `yaml:"url_path"`
}

// GraderConfig is one grading-store endpoint.
type GraderConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// GitConfig holds credentials used for all course origins.
type GitConfig struct {
	SSHKeyPath string `yaml:"ssh_key_path,omitempty"`
	Token      string `yaml:"token,omitempty"`
}

type HTTPConfig struct {
	Addr       string `yaml:"addr"`
	AdminToken string `yaml:"admin_token"`
}

type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EventsConfig enables publishing of update outcomes to NATS. An empty URL disables it.
type EventsConfig struct {
	NATSURL string   `yaml:"nats_url,omitempty"`
	Subject string   `yaml:"subject,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// Duration is a time.Duration that unmarshals from Go duration strings ("30s", "5m").
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	if d == 0 {
		return "", nil
	}
	return d.String(), nil
}

// Load reads, expands, defaults and validates a configuration file.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Note: .env file not loaded: %v\n", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration bytes. Environment variables in the YAML are expanded first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported configuration version: %q (expected %s)", cfg.Version, CurrentVersion)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// loadEnvFile loads .env then .env.local. Existing process variables are never overwritten.
func loadEnvFile() error {
	var loaded bool
	for _, p := range []string{".env", ".env.local"} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
		loaded = true
	}
	if !loaded {
		return errors.New("no .env file found")
	}
	return nil
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Config{
		Version: CurrentVersion,
		Paths: PathsConfig{
			BuildDir:       "./data/build",
			StoreDir:       "./data/store",
			PublishDir:     "./data/publish",
			StaticDir:      "./data/static",
			LocalSourceDir: "./courses",
			Database:       "./data/coursebuilder.db",
		},
		Build: BuildConfig{
			DefaultImage:    "apluslms/compile-rst:1.6",
			DefaultCommand:  "",
			Executor:        ExecutorDocker,
			FileLockTimeout: Duration(time.Minute),
			RetryBackoff:    RetryBackoffLinear,
			RetryDelay:      Duration(5 * time.Second),
			RetryMaxDelay:   Duration(time.Minute),
			Workers:         2,
			QueueSize:       100,
			HistorySize:     10,
		},
		Frontend: FrontendConfig{URL: "${FRONTEND_URL}", SigningKey: "${FRONTEND_SIGNING_KEY}", Issuer: "coursebuilder", Timeout: Duration(30 * time.Second)},
		Static:   StaticConfig{URL: "http://localhost:8070", URLPath: "/static"},
		HTTP:     HTTPConfig{Addr: ":8070", AdminToken: "${ADMIN_TOKEN}"},
		Logging:  LoggingConfig{Level: LogLevelInfo, Format: LogFormatText},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
		Events:   EventsConfig{Subject: "coursebuilder.updates"},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
