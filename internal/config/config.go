package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// AuthorityConfig configures the central authority server.
type AuthorityConfig struct {
	Port        int    `env:"PORT" envDefault:"8000"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Base URLs of the tracker agents this authority reconciles against,
	// e.g. "http://host-a:8080,http://host-b:8080".
	TrackerURLs []string `env:"TRACKER_URLS" envSeparator:","`

	ResumeWindowMinutes   int `env:"RESUME_WINDOW_MINUTES" envDefault:"60"`
	OrphanGraceMinutes    int `env:"ORPHAN_GRACE_MINUTES" envDefault:"10"`
	OrphanSweepSeconds    int `env:"ORPHAN_SWEEP_SECONDS" envDefault:"300"`
	EventRateLimitPerMin  int `env:"EVENT_RATE_LIMIT_PER_MIN" envDefault:"600"`
	EventRetentionDays    int `env:"EVENT_RETENTION_DAYS" envDefault:"90"`
	SessionRetentionDays  int `env:"SESSION_RETENTION_DAYS" envDefault:"180"`
}

func (c *AuthorityConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *AuthorityConfig) ResumeWindow() time.Duration {
	return time.Duration(c.ResumeWindowMinutes) * time.Minute
}

func (c *AuthorityConfig) OrphanGrace() time.Duration {
	return time.Duration(c.OrphanGraceMinutes) * time.Minute
}

func (c *AuthorityConfig) OrphanSweepInterval() time.Duration {
	return time.Duration(c.OrphanSweepSeconds) * time.Second
}

func (c *AuthorityConfig) Validate() error {
	if c.ResumeWindowMinutes <= 0 {
		return fmt.Errorf("RESUME_WINDOW_MINUTES must be positive")
	}
	if c.OrphanGraceMinutes <= 0 {
		return fmt.Errorf("ORPHAN_GRACE_MINUTES must be positive")
	}
	for _, u := range c.TrackerURLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("TRACKER_URLS entry %q must be an http(s) URL", u)
		}
	}
	return nil
}

func LoadAuthority() (*AuthorityConfig, error) {
	var cfg AuthorityConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// TrackerConfig configures the local session tracker agent.
type TrackerConfig struct {
	AgentPort    int    `env:"AGENT_PORT" envDefault:"8080"`
	AuthorityURL string `env:"AUTHORITY_URL" envDefault:"http://localhost:8000"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	// TrackerID identifies this agent in events it reports. Defaults to
	// the hostname when empty.
	TrackerID string `env:"TRACKER_ID"`

	WatchPaths     []string `env:"WATCH_PATHS" envSeparator:"," envDefault:"./watched"`
	IgnorePatterns []string `env:"IGNORE_PATTERNS" envSeparator:","`
	IgnoreDirs     []string `env:"IGNORE_DIRS" envSeparator:","`

	SessionTimeoutMinutes int `env:"SESSION_TIMEOUT_MINUTES" envDefault:"30"`
	MaxSessionAgeHours    int `env:"MAX_SESSION_AGE_HOURS" envDefault:"3"`
	ResumeWindowMinutes   int `env:"RESUME_WINDOW_MINUTES" envDefault:"60"`
	EditorGraceMinutes    int `env:"EDITOR_GRACE_MINUTES" envDefault:"5"`
	CheckIntervalSeconds  int `env:"CHECK_INTERVAL_SECONDS" envDefault:"15"`

	HashingEnabled    bool   `env:"HASHING_ENABLED" envDefault:"true"`
	HashMaxFileSizeMB int    `env:"HASH_MAX_FILE_SIZE_MB" envDefault:"50"`
	EventQueuePath    string `env:"EVENT_QUEUE_PATH" envDefault:"event-queue.json"`
}

func (c *TrackerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.AgentPort)
}

func (c *TrackerConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}

func (c *TrackerConfig) MaxSessionAge() time.Duration {
	return time.Duration(c.MaxSessionAgeHours) * time.Hour
}

func (c *TrackerConfig) ResumeWindow() time.Duration {
	return time.Duration(c.ResumeWindowMinutes) * time.Minute
}

func (c *TrackerConfig) EditorGrace() time.Duration {
	return time.Duration(c.EditorGraceMinutes) * time.Minute
}

func (c *TrackerConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c *TrackerConfig) Validate() error {
	if len(c.WatchPaths) == 0 {
		return fmt.Errorf("WATCH_PATHS must not be empty")
	}
	if c.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT_MINUTES must be positive")
	}
	if c.MaxSessionAgeHours <= 0 {
		return fmt.Errorf("MAX_SESSION_AGE_HOURS must be positive")
	}
	if !strings.HasPrefix(c.AuthorityURL, "http://") && !strings.HasPrefix(c.AuthorityURL, "https://") {
		return fmt.Errorf("AUTHORITY_URL must be an http(s) URL")
	}
	return nil
}

func LoadTracker() (*TrackerConfig, error) {
	var cfg TrackerConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
