package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/eventsink-io/eventsink/internal/config"
)

const (
	defaultTopic        = "events"
	defaultGroupID      = "eventsink-relay"
	defaultErrorBackoff = 1 * time.Second
)

var (
	// ErrTopicEmpty indicates the Kafka topic is empty.
	ErrTopicEmpty = errors.New("kafka topic cannot be empty")

	// ErrGroupIDEmpty indicates the consumer group ID is empty.
	ErrGroupIDEmpty = errors.New("kafka group ID cannot be empty")

	// ErrErrorBackoffInvalid indicates the error backoff is zero or negative.
	ErrErrorBackoffInvalid = errors.New("error backoff must be positive")
)

// Config holds Kafka relay configuration.
//
// The relay is optional: an empty broker list disables it entirely and the
// service runs on HTTP intake alone.
type Config struct {
	Brokers      []string
	Topic        string
	GroupID      string
	ErrorBackoff time.Duration
}

// LoadConfig loads relay configuration from environment variables with
// fallback to defaults. EVENTSINK_KAFKA_BROKERS unset or empty means the
// relay stays disabled.
func LoadConfig() *Config {
	return &Config{
		Brokers:      config.ParseCommaSeparatedList(config.GetEnvStr("EVENTSINK_KAFKA_BROKERS", "")),
		Topic:        config.GetEnvStr("EVENTSINK_KAFKA_TOPIC", defaultTopic),
		GroupID:      config.GetEnvStr("EVENTSINK_KAFKA_GROUP_ID", defaultGroupID),
		ErrorBackoff: config.GetEnvDuration("EVENTSINK_KAFKA_ERROR_BACKOFF", defaultErrorBackoff),
	}
}

// Enabled reports whether a broker list was configured.
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// Validate checks that an enabled relay configuration is complete.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}

	if c.Topic == "" {
		return ErrTopicEmpty
	}

	if c.GroupID == "" {
		return ErrGroupIDEmpty
	}

	if c.ErrorBackoff <= 0 {
		return fmt.Errorf("%w: got %v", ErrErrorBackoffInvalid, c.ErrorBackoff)
	}

	return nil
}
