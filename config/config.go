// Package config implements the on-disk configuration used by the demo
// harness to size each module's timeout and window knobs. Core modules
// never read files themselves; they take the plain Go structs defined
// here directly, keeping file I/O confined to this outer layer.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
)

// AckConfig configures the fixed-timeout Acknowledgement module.
type AckConfig struct {
	TimeoutMS int `json:"timeout_ms"`
}

// DefaultAckConfig returns the spec's defaults for the Acknowledgement module.
func DefaultAckConfig() AckConfig {
	return AckConfig{TimeoutMS: 500}
}

// Timeout returns the configured timeout as a time.Duration.
func (c AckConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// DynAckConfig configures the adaptive-timeout DynamicAcknowledgement module.
type DynAckConfig struct {
	MinTimeoutMS int     `json:"min_timeout_ms"`
	MaxTimeoutMS int     `json:"max_timeout_ms"`
	Multiplier   float64 `json:"timeout_multiplier"`
}

// DefaultDynAckConfig returns the spec's defaults for DynamicAcknowledgement.
func DefaultDynAckConfig() DynAckConfig {
	return DynAckConfig{MinTimeoutMS: 1, MaxTimeoutMS: 1000, Multiplier: 2}
}

// MinTimeout returns the configured minimum timeout as a time.Duration.
func (c DynAckConfig) MinTimeout() time.Duration {
	return time.Duration(c.MinTimeoutMS) * time.Millisecond
}

// MaxTimeout returns the configured maximum timeout as a time.Duration.
func (c DynAckConfig) MaxTimeout() time.Duration {
	return time.Duration(c.MaxTimeoutMS) * time.Millisecond
}

// StreamConfig configures the fixed-timeout Stream module.
type StreamConfig struct {
	TimeoutMS         int    `json:"timeout_ms"`
	ReceiveBufferSize uint32 `json:"receive_buffer_size"`
}

// DefaultStreamConfig returns the spec's defaults for the Stream module.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{TimeoutMS: 50, ReceiveBufferSize: 50}
}

// Timeout returns the configured timeout as a time.Duration.
func (c StreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// DynStreamConfig configures the adaptive-timeout DynamicStream module.
type DynStreamConfig struct {
	MinTimeoutMS      int     `json:"min_timeout_ms"`
	MaxTimeoutMS      int     `json:"max_timeout_ms"`
	Multiplier        float64 `json:"timeout_multiplier"`
	ReceiveBufferSize uint32  `json:"receive_buffer_size"`
}

// DefaultDynStreamConfig returns the spec's defaults for DynamicStream.
func DefaultDynStreamConfig() DynStreamConfig {
	return DynStreamConfig{MinTimeoutMS: 1, MaxTimeoutMS: 500, Multiplier: 2, ReceiveBufferSize: 50}
}

// MinTimeout returns the configured minimum timeout as a time.Duration.
func (c DynStreamConfig) MinTimeout() time.Duration {
	return time.Duration(c.MinTimeoutMS) * time.Millisecond
}

// MaxTimeout returns the configured maximum timeout as a time.Duration.
func (c DynStreamConfig) MaxTimeout() time.Duration {
	return time.Duration(c.MaxTimeoutMS) * time.Millisecond
}

// Config is the top-level, JSON-serializable settings document for a
// pipeline built from some subset of the four core modules.
type Config struct {
	Ack       AckConfig       `json:"ack"`
	DynAck    DynAckConfig    `json:"dynamic_acknowledgement"`
	Stream    StreamConfig    `json:"stream"`
	DynStream DynStreamConfig `json:"dynamic_stream"`
}

// Default returns a Config populated with every module's spec default.
func Default() *Config {
	return &Config{
		Ack:       DefaultAckConfig(),
		DynAck:    DefaultDynAckConfig(),
		Stream:    DefaultStreamConfig(),
		DynStream: DefaultDynStreamConfig(),
	}
}

// LoadFile reads and parses a JSON config document from path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}
	return cfg, nil
}

// Save writes cfg as indented JSON to path.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "config: marshal")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "config: write %s", path)
	}
	return nil
}
