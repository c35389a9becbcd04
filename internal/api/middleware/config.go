package middleware

import (
	"time"

	"github.com/eventsink-io/eventsink/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for two tiers:
//   - Global: Applied to all requests
//   - Per-client: Applied per client IP
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS int // Default: 500
	ClientRPS int // Default: 100

	// Optional burst capacity overrides (0 = compute automatically as 2 × rate)
	GlobalBurst int // Default: 0 (computed as 2 × GlobalRPS = 1000)
	ClientBurst int // Default: 0 (computed as 2 × ClientRPS = 200)

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxClients      int           // Default: 10,000

	// Enabled toggles the rate limiting middleware entirely.
	Enabled bool // Default: true
}

// LoadConfig loads middleware config from environment variables with
// fallback to defaults.
//
// Default burst capacity: 2 × rate (allows 2-second burst)
// Default cleanup: every 5 minutes, removes clients idle >1 hour
// Default max clients: 10,000 (prevents unbounded memory growth).
func LoadConfig() *Config {
	return &Config{
		// Rate limits
		GlobalRPS: config.GetEnvInt("EVENTSINK_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS: config.GetEnvInt("EVENTSINK_CLIENT_RPS", defaultClientRPS),

		// Burst overrides (0 = auto-compute)
		GlobalBurst: config.GetEnvInt("EVENTSINK_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("EVENTSINK_CLIENT_BURST", 0),

		// Cleanup configuration
		CleanupInterval: config.GetEnvDuration(
			"EVENTSINK_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("EVENTSINK_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:  config.GetEnvInt("EVENTSINK_RATE_LIMIT_MAX_CLIENTS", maxClients),

		Enabled: config.GetEnvBool("EVENTSINK_RATE_LIMIT_ENABLED", true),
	}
}
