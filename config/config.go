// Package config holds the topology configuration consumed by the executor
// core. Keys are flat and wire-stable; JSON documents are validated against
// a schema before they are accepted.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/c360/streamexec/errors"
)

// Default values applied by New and Load.
const (
	DefaultProducerBatchSize  = 1
	DefaultMessageTimeoutSecs = 30
	DefaultReceiveBufferSize  = 32768
	DefaultWaitStrategy       = "progressive"

	// PendingBuckets is the number of time-wheel buckets for the pending
	// map. An entry expires within [T, 2T] of one tick interval T.
	PendingBuckets = 2
)

// Config represents the topology configuration. The JSON keys are the
// authoritative names; field names are convenience.
type Config struct {
	// MaxSpoutPending caps in-flight anchored tuples per task.
	// Zero means unbounded.
	MaxSpoutPending int `json:"topology.max.spout.pending"`

	// ProducerBatchSize is the per-producer staging batch size (>= 1).
	ProducerBatchSize int `json:"topology.producer.batch.size"`

	// SpoutWaitStrategy idles the executor when nextTuple emitted nothing.
	SpoutWaitStrategy string `json:"topology.spout.wait.strategy"`

	// BackPressureWaitStrategy idles producers when a queue is full.
	BackPressureWaitStrategy string `json:"topology.backpressure.wait.strategy"`

	// Debug enables verbose per-tuple logging.
	Debug bool `json:"topology.debug"`

	// MessageTimeoutSecs controls the pending-map tick period. A tuple
	// unacked after the full wheel (PendingBuckets ticks) is failed with
	// reason TIMEOUT.
	MessageTimeoutSecs int `json:"topology.message.timeout.secs"`

	// ReceiveBufferSize is the executor receive queue capacity, rounded up
	// to a power of two.
	ReceiveBufferSize int `json:"topology.executor.receive.buffer.size"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		MaxSpoutPending:          0,
		ProducerBatchSize:        DefaultProducerBatchSize,
		SpoutWaitStrategy:        DefaultWaitStrategy,
		BackPressureWaitStrategy: DefaultWaitStrategy,
		Debug:                    false,
		MessageTimeoutSecs:       DefaultMessageTimeoutSecs,
		ReceiveBufferSize:        DefaultReceiveBufferSize,
	}
}

// Load reads a JSON config file, validates it against the schema, and
// applies defaults for absent keys.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapInvalid(errors.ErrConfigNotFound, "config", "Load", "reading config file")
		}
		return nil, errors.WrapTransient(err, "config", "Load", "reading config file")
	}
	return Parse(data)
}

// Parse validates and decodes a JSON config document.
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Parse", "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value constraints beyond what the schema expresses.
func (c *Config) Validate() error {
	if c.MaxSpoutPending < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("topology.max.spout.pending must be >= 0, got %d", c.MaxSpoutPending),
			"config", "Validate", "checking max spout pending")
	}
	if c.ProducerBatchSize < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("topology.producer.batch.size must be >= 1, got %d", c.ProducerBatchSize),
			"config", "Validate", "checking producer batch size")
	}
	if c.MessageTimeoutSecs <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("topology.message.timeout.secs must be > 0, got %d", c.MessageTimeoutSecs),
			"config", "Validate", "checking message timeout")
	}
	if c.ReceiveBufferSize <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("topology.executor.receive.buffer.size must be > 0, got %d", c.ReceiveBufferSize),
			"config", "Validate", "checking receive buffer size")
	}
	for _, id := range []string{c.SpoutWaitStrategy, c.BackPressureWaitStrategy} {
		switch id {
		case "progressive", "sleep", "noop":
		default:
			return errors.WrapInvalid(
				fmt.Errorf("unknown wait strategy %q", id),
				"config", "Validate", "checking wait strategy")
		}
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return New()
	}
	copied := *c
	return &copied
}
