package db

import "time"

// Database connection constants
const (
	// ConnectionRetrySleep is the sleep duration between connection retries
	ConnectionRetrySleep = 2 * time.Second
	// maxConnectionRetries is the number of retries for initial connection
	maxConnectionRetries = 10
)

// Database pool default constants
const (
	defaultMaxConns          int32         = 20
	defaultMinConns          int32         = 2
	defaultMaxConnIdleTime   time.Duration = 5 * time.Minute
	defaultMaxConnLifetime   time.Duration = time.Hour
	defaultHealthCheckPeriod time.Duration = time.Minute
)

// Dedup window constants
const (
	// TitleDedupWindow is how far back same-source title duplicates are rejected.
	TitleDedupWindow = 7 * 24 * time.Hour
	// HashDedupWindow is how far back identical content hashes are rejected.
	HashDedupWindow = 24 * time.Hour
)
