// Package config loads the gateway's configuration document: a JSON list
// of stream definitions plus the top-level listen/bind settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethan/rtp-egress-gateway/pkg/gwerrors"
	"github.com/ethan/rtp-egress-gateway/pkg/types"
)

// Config holds the full set of gateway configuration.
type Config struct {
	// ListenAddr is the address the signalling HTTP server binds to.
	ListenAddr string `json:"listen_addr"`

	// Streams are the statically configured streams available at startup.
	// Additional streams may be created later through the stream registry.
	Streams []types.StreamDef `json:"streams"`
}

// Load reads a configuration document, accepting either a raw JSON string
// or a path to a file containing JSON, mirroring the "json or file" CLI
// ergonomics the gateway's command-line argument uses.
func Load(arg string) (*Config, error) {
	raw := []byte(arg)
	if !json.Valid(raw) {
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is neither valid JSON nor a readable file: %v", gwerrors.ErrConfig, arg, err)
		}
		raw = data
	}

	cfg := &Config{
		ListenAddr: "0.0.0.0:80",
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %w", gwerrors.ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the document as a whole: every stream definition must be
// individually valid, and stream ids must be unique, with at most one
// stream marked default.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr must not be empty", gwerrors.ErrConfig)
	}

	seen := make(map[string]bool, len(c.Streams))
	defaultCount := 0
	for _, s := range c.Streams {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: %w", gwerrors.ErrConfig, err)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate stream id %q", gwerrors.ErrConfig, s.ID)
		}
		seen[s.ID] = true
		if s.Default {
			defaultCount++
		}
	}
	if defaultCount > 1 {
		return fmt.Errorf("%w: at most one stream may be marked default", gwerrors.ErrConfig)
	}
	return nil
}
