package queue

import (
	"errors"
	"strings"
	"time"

	"github.com/eventsink-io/eventsink/internal/config"
)

const (
	defaultQueueName  = "event_queue"
	defaultPopTimeout = 1 * time.Second
)

var (
	// ErrRedisURLEmpty is returned when the Redis url is an empty string.
	ErrRedisURLEmpty = errors.New("redis URL cannot be empty")

	// ErrQueueNameEmpty is returned when the queue name is an empty string.
	ErrQueueNameEmpty = errors.New("queue name cannot be empty")

	// ErrPopTimeoutInvalid is returned when the pop timeout is not positive.
	ErrPopTimeoutInvalid = errors.New("pop timeout must be positive")
)

// Config holds Redis queue configuration.
//
// PopTimeout bounds how long a Dequeue blocks on an empty queue; it is the
// interval at which idle workers observe shutdown, so keep it short.
type Config struct {
	redisURL   string
	QueueName  string
	PopTimeout time.Duration
}

// LoadConfig loads Redis queue configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		redisURL:   config.GetEnvStr("REDIS_URL", ""), // RedisURL is private for obvious reasons.
		QueueName:  config.GetEnvStr("EVENTSINK_QUEUE_NAME", defaultQueueName),
		PopTimeout: config.GetEnvDuration("EVENTSINK_QUEUE_POP_TIMEOUT", defaultPopTimeout),
	}
}

// Validate checks if the Redis queue configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.redisURL) == "" {
		return ErrRedisURLEmpty
	}

	if strings.TrimSpace(c.QueueName) == "" {
		return ErrQueueNameEmpty
	}

	if c.PopTimeout <= 0 {
		return ErrPopTimeoutInvalid
	}

	return nil
}

// MaskRedisURL returns a masked redisURL safe for logging.
func (c *Config) MaskRedisURL() string {
	if c.redisURL == "" {
		return ""
	}

	schemeEnd := strings.Index(c.redisURL, "://")
	if schemeEnd == -1 {
		return c.redisURL
	}

	afterScheme := c.redisURL[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		return c.redisURL
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		return c.redisURL
	}

	username := userInfo[:colonIndex]
	password := userInfo[colonIndex+1:]

	if password == "" {
		return c.redisURL
	}

	scheme := c.redisURL[:schemeEnd]
	hostAndRest := afterScheme[lastAtIndex:]

	return scheme + "://" + username + ":***" + hostAndRest
}
