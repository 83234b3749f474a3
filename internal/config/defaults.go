package config

import (
	"strings"
	"time"
)

const (
	defaultWorkers         = 2
	defaultQueueSize       = 100
	defaultHistorySize     = 10
	defaultFileLockTimeout = time.Minute
	defaultRetryDelay      = 5 * time.Second
	defaultRetryMaxDelay   = time.Minute
	defaultWatchDebounce   = 2 * time.Second
	defaultFrontendTimeout = 30 * time.Second
	defaultEventsTimeout   = 5 * time.Second
)

// ApplyDefaults fills zero values with defaults and normalizes enumerations.
func ApplyDefaults(cfg *Config) {
	b := &cfg.Build
	if b.Workers <= 0 {
		b.Workers = defaultWorkers
	}
	if b.QueueSize <= 0 {
		b.QueueSize = defaultQueueSize
	}
	if b.HistorySize <= 0 {
		b.HistorySize = defaultHistorySize
	}
	if b.FileLockTimeout <= 0 {
		b.FileLockTimeout = Duration(defaultFileLockTimeout)
	}
	if b.RetryDelay <= 0 {
		b.RetryDelay = Duration(defaultRetryDelay)
	}
	if b.RetryMaxDelay <= 0 {
		b.RetryMaxDelay = Duration(defaultRetryMaxDelay)
	}
	if b.MaxRequeues < 0 {
		b.MaxRequeues = 0
	}
	if mode := NormalizeRetryBackoff(string(b.RetryBackoff)); mode != "" {
		b.RetryBackoff = mode
	} else {
		b.RetryBackoff = RetryBackoffLinear
	}
	switch ExecutorType(strings.ToLower(string(b.Executor))) {
	case ExecutorNone:
		b.Executor = ExecutorNone
	default:
		b.Executor = ExecutorDocker
	}
	if b.WatchDebounce <= 0 {
		b.WatchDebounce = Duration(defaultWatchDebounce)
	}

	if cfg.Paths.Database == "" {
		cfg.Paths.Database = "coursebuilder.db"
	}
	if cfg.Frontend.Timeout <= 0 {
		cfg.Frontend.Timeout = Duration(defaultFrontendTimeout)
	}
	if cfg.Frontend.Issuer == "" {
		cfg.Frontend.Issuer = "coursebuilder"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8070"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Events.Subject == "" {
		cfg.Events.Subject = "coursebuilder.updates"
	}
	if cfg.Events.Timeout <= 0 {
		cfg.Events.Timeout = Duration(defaultEventsTimeout)
	}
	if cfg.Static.URLPath == "" {
		cfg.Static.URLPath = "/static"
	}
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
}
