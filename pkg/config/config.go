// Package config loads the gateway configuration from a TOML file and the
// environment, and keeps it current while the gateway runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/recap/pkg/dispatch"
	"github.com/papercomputeco/recap/pkg/tokens"
)

// Environment variables that override file values.
const (
	EnvAPIKey            = "OPENAI_API_KEY"
	EnvModel             = "OPENAI_MODEL"
	EnvBaseURL           = "OPENAI_BASE_URL"
	EnvPassword          = "API_PASSWORD"
	EnvMaxTotalTokens    = "OPENAI_MAX_TOTAL_TOKENS"
	EnvMaxResponseTokens = "OPENAI_MAX_RESPONSE_TOKENS"
)

// Config is the complete gateway configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Upstream   UpstreamConfig   `toml:"upstream"`
	Budget     BudgetConfig     `toml:"budget"`
	Storage    StorageConfig    `toml:"storage"`
	Transcript TranscriptConfig `toml:"transcript"`
}

type ServerConfig struct {
	// Listen is the address the gateway binds, e.g. ":8080".
	Listen string `toml:"listen"`

	// Password is the shared secret every request must present.
	Password string `toml:"password"`

	Debug bool `toml:"debug"`
}

type UpstreamConfig struct {
	BaseURL         string   `toml:"base_url"`
	APIKey          string   `toml:"api_key"`
	Model           string   `toml:"model"`
	JobInstructions string   `toml:"job_instructions"`
	Timeout         Duration `toml:"timeout"`
}

type BudgetConfig struct {
	// MaxTotalTokens is the upstream model's context window.
	MaxTotalTokens int `toml:"max_total_tokens"`

	// MaxResponseTokens is reserved for the answer and caps its size.
	MaxResponseTokens int `toml:"max_response_tokens"`

	// Encoding names the tokenizer, or "chars" for the length heuristic.
	Encoding string `toml:"encoding"`

	// Overflow is "defer" or "trim".
	Overflow string `toml:"overflow"`
}

type StorageConfig struct {
	// SQLitePath stores conversations on disk. Empty keeps them in memory.
	SQLitePath string `toml:"sqlite_path"`
}

type TranscriptConfig struct {
	// Endpoint is the transcript service URL. Empty disables /api/transcript.
	Endpoint string   `toml:"endpoint"`
	Timeout  Duration `toml:"timeout"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Load reads path, applies environment overrides, and validates the result.
// An empty path skips the file and configures from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{EnvAPIKey, &c.Upstream.APIKey},
		{EnvModel, &c.Upstream.Model},
		{EnvBaseURL, &c.Upstream.BaseURL},
		{EnvPassword, &c.Server.Password},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && v != "" {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvMaxTotalTokens, &c.Budget.MaxTotalTokens},
		{EnvMaxResponseTokens, &c.Budget.MaxResponseTokens},
	}
	for _, i := range ints {
		v, ok := lookup(i.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", i.key, err)
		}
		*i.dst = n
	}
	return nil
}

// Validate checks required fields and fills in defaults.
func (c *Config) Validate() error {
	if c.Upstream.APIKey == "" {
		return errors.New("upstream.api_key is required")
	}
	if c.Upstream.Model == "" {
		return errors.New("upstream.model is required")
	}
	if c.Server.Password == "" {
		return errors.New("server.password is required")
	}

	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Upstream.Timeout.Duration == 0 {
		c.Upstream.Timeout.Duration = 60 * time.Second
	}
	if c.Budget.MaxTotalTokens == 0 {
		c.Budget.MaxTotalTokens = 128000
	}
	if c.Budget.MaxResponseTokens == 0 {
		c.Budget.MaxResponseTokens = 4096
	}
	if c.Budget.Overflow == "" {
		c.Budget.Overflow = string(dispatch.OverflowDefer)
	}
	if c.Transcript.Timeout.Duration == 0 {
		c.Transcript.Timeout.Duration = 30 * time.Second
	}

	if err := c.TokenBudget().Validate(); err != nil {
		return fmt.Errorf("budget: %w", err)
	}
	switch dispatch.Overflow(c.Budget.Overflow) {
	case dispatch.OverflowDefer, dispatch.OverflowTrim:
	default:
		return fmt.Errorf("budget.overflow must be %q or %q, got %q", dispatch.OverflowDefer, dispatch.OverflowTrim, c.Budget.Overflow)
	}
	if _, err := tokens.New(c.Budget.Encoding); err != nil {
		return fmt.Errorf("budget.encoding: %w", err)
	}
	return nil
}

// TokenBudget is the budget the router decides against.
func (c *Config) TokenBudget() tokens.Budget {
	return tokens.Budget{
		Available:           c.Budget.MaxTotalTokens,
		ReservedForResponse: c.Budget.MaxResponseTokens,
	}
}
