package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const RetentionJobInterval = 1 * time.Hour

// Tracker-side timings
const (
	// A file with no process holding it open is only closed after this
	// quiet period, to tolerate snapshot races in process enumeration.
	FileCloseQuietPeriod = 5 * time.Second

	// Rename chain entries older than this are dropped.
	RenameChainTTL = 10 * time.Minute

	// Final delivery attempt window during tracker shutdown.
	ShutdownDrainTimeout = 10 * time.Second
)

// Bounds for the tracker's in-memory bookkeeping
const (
	ClassifierCacheLimit = 1000
	ClosedHistoryLimit   = 5
)
