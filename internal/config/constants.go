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
	ServerWriteTimeout    = 30 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Paging limits. MaxPageSize is a hard ceiling applied regardless of the
// requested limit.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Default date window for session listing when no range is given.
const SessionListWindow = 90 * 24 * time.Hour

// Bounded fan-out when merging live state across a set of rows.
const LiveStateMergeConcurrency = 8

// JetStream duplicate-detection window for idempotent publishes.
const EventDuplicateWindow = 2 * time.Minute
