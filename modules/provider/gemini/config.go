package gemini

import (
	"fmt"
	"time"
)

// Config holds the configuration for the Gemini provider module.
type Config struct {
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	BaseURL         string        `yaml:"base_url"`
	Temperature     *float64      `yaml:"temperature"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = "gemini-2.0-flash"
	}
	if c.Temperature == nil {
		t := 0.7
		c.Temperature = &t
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 300
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
}

func (c *Config) validate() error {
	if t := *c.Temperature; t < 0 || t > 2 {
		return fmt.Errorf("%s: temperature %v must be within [0, 2]", ModuleID, t)
	}
	return nil
}
