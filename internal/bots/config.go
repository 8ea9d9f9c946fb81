package bots

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BotConfig declares one bot in the fleet config file.
type BotConfig struct {
	ID        string  `yaml:"id"`
	UserID    string  `yaml:"user_id"`
	Strategy  string  `yaml:"strategy"`
	Symbol    string  `yaml:"symbol"`
	Window    int     `yaml:"window"`
	Threshold float64 `yaml:"threshold"`
	Qty       float64 `yaml:"qty"`
	Enabled   *bool   `yaml:"enabled"` // nil means enabled
}

// FleetConfig is the top-level structure of bots.yaml.
type FleetConfig struct {
	Bots []BotConfig `yaml:"bots"`
}

// LoadFleetConfig parses and validates a bots.yaml file.
func LoadFleetConfig(path string) (*FleetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fleet config: %w", err)
	}

	var cfg FleetConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse fleet config %s: %w", path, err)
	}

	seen := make(map[string]bool)
	for i, b := range cfg.Bots {
		if b.ID == "" {
			return nil, fmt.Errorf("fleet config: bot %d missing id", i)
		}
		if b.UserID == "" {
			return nil, fmt.Errorf("fleet config: bot %q missing user_id", b.ID)
		}
		if b.Symbol == "" {
			return nil, fmt.Errorf("fleet config: bot %q missing symbol", b.ID)
		}
		key := b.UserID + "/" + b.ID
		if seen[key] {
			return nil, fmt.Errorf("fleet config: duplicate bot %q", key)
		}
		seen[key] = true
		if b.Strategy == "" {
			cfg.Bots[i].Strategy = "mean_reversion"
		}
	}
	return &cfg, nil
}

// Build constructs a bot from its config entry.
func (c BotConfig) Build(submit Submitter) (Bot, error) {
	switch c.Strategy {
	case "mean_reversion", "":
		return NewMeanReversion(MeanReversionParams{
			ID:        c.ID,
			UserID:    c.UserID,
			Symbol:    c.Symbol,
			Window:    c.Window,
			Threshold: c.Threshold,
			Qty:       c.Qty,
		}, submit), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q for bot %s", c.Strategy, c.ID)
	}
}

// IsEnabled reports whether the entry should be registered at startup.
func (c BotConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
