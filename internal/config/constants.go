package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 10
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts. Write timeout stays zero for the operator SSE stream.
const (
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Ping timeout for health checks
const PingTimeout = 5 * time.Second

// Background job intervals
const JournalCleanupInterval = time.Hour

// Per-IP rate limits, requests per minute
const (
	ApprovalRateLimitPerMin   = 10
	CodeRateLimitPerMin       = 10
	ActivationRateLimitPerMin = 10
	DefaultRateLimitPerMin    = 120
)
