package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Policy holds the tunable limits the gateway enforces on every execution.
// All caps are policy constants, not semantics: they can be changed without
// touching the enforcement code.
type Policy struct {
	// APIBaseURL is the fixed base of the remote mailbox API. Capability
	// paths are resolved relative to it.
	APIBaseURL string `yaml:"api_base_url"`
	// TokenEndpoint is the provider's OAuth token-exchange endpoint used
	// for refresh-token grants.
	TokenEndpoint string `yaml:"token_endpoint"`

	// MaxCallsPerRun caps how many remote calls one script may issue.
	MaxCallsPerRun int `yaml:"max_calls_per_run"`
	// MaxStringLen caps any string field in a sanitized payload.
	MaxStringLen int `yaml:"max_string_len"`
	// MaxBodyLen caps a decoded message body after HTML stripping.
	MaxBodyLen int `yaml:"max_body_len"`
	// MaxListLen caps any array in a sanitized payload.
	MaxListLen int `yaml:"max_list_len"`
	// MaxListResults clamps list-style query parameters (maxResults)
	// before the request is issued.
	MaxListResults int `yaml:"max_list_results"`
	// ExecTimeout is the wall-clock budget for one script execution.
	ExecTimeout time.Duration `yaml:"exec_timeout"`
}

// Default returns the policy used when no config file is present.
func Default() Policy {
	return Policy{
		APIBaseURL:     "https://gmail.googleapis.com/gmail/v1/users/me",
		TokenEndpoint:  "https://oauth2.googleapis.com/token",
		MaxCallsPerRun: 10,
		MaxStringLen:   2000,
		MaxBodyLen:     4000,
		MaxListLen:     25,
		MaxListResults: 100,
		ExecTimeout:    30 * time.Second,
	}
}

// Load reads a policy file and overlays it on the defaults. A missing file is
// not an error: the defaults are returned as-is.
func Load(path string) (Policy, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("reading policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid policy in %s: %w", path, err)
	}
	return p, nil
}

// Validate rejects policies that would disable the governor entirely.
func (p Policy) Validate() error {
	if p.APIBaseURL == "" {
		return fmt.Errorf("api_base_url must not be empty")
	}
	if p.MaxCallsPerRun <= 0 {
		return fmt.Errorf("max_calls_per_run must be positive, got %d", p.MaxCallsPerRun)
	}
	if p.MaxStringLen <= 0 || p.MaxBodyLen <= 0 || p.MaxListLen <= 0 {
		return fmt.Errorf("size caps must be positive")
	}
	if p.MaxListResults <= 0 {
		return fmt.Errorf("max_list_results must be positive, got %d", p.MaxListResults)
	}
	if p.ExecTimeout <= 0 {
		return fmt.Errorf("exec_timeout must be positive, got %s", p.ExecTimeout)
	}
	return nil
}
