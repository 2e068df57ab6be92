package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GovernanceProfile is the deployment's governance constitution: the
// scheduler's mandatory delay, the ballot bound, and the bootstrap
// authority. Delay and addresses are fixed at construction; changing
// authority afterwards goes through the scheduler's own plan/exec path.
type GovernanceProfile struct {
	SchedulerAddress string `yaml:"scheduler_address" json:"scheduler_address"`
	DelayMs          int64  `yaml:"delay_ms" json:"delay_ms"`
	MaxSlateSize     int    `yaml:"max_slate_size" json:"max_slate_size"`

	// Bootstrap authority: exactly one of Owner or PolicyExpr. With
	// neither set the scheduler boots fail-closed behind the electorate
	// alone (nobody is authorized until a leader is lifted).
	Owner      string `yaml:"owner,omitempty" json:"owner,omitempty"`
	PolicyExpr string `yaml:"policy_expr,omitempty" json:"policy_expr,omitempty"`

	// RateLimitRPS bounds per-actor HTTP calls; zero disables limiting.
	RateLimitRPS float64 `yaml:"rate_limit_rps,omitempty" json:"rate_limit_rps,omitempty"`
}

// Delay returns the maturation delay as a duration.
func (p *GovernanceProfile) Delay() time.Duration {
	return time.Duration(p.DelayMs) * time.Millisecond
}

// DefaultProfile returns a profile with conservative defaults: a one-day
// delay and five-candidate slates.
func DefaultProfile() *GovernanceProfile {
	return &GovernanceProfile{
		SchedulerAddress: "tiller/scheduler",
		DelayMs:          86_400_000,
		MaxSlateSize:     5,
	}
}

// LoadProfile loads a governance profile from a YAML file.
func LoadProfile(path string) (*GovernanceProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load governance profile %q: %w", path, err)
	}

	profile := DefaultProfile()
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("parse governance profile %q: %w", path, err)
	}

	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("governance profile %q: %w", path, err)
	}
	return profile, nil
}

// Validate rejects profiles that cannot govern anything.
func (p *GovernanceProfile) Validate() error {
	if p.SchedulerAddress == "" {
		return fmt.Errorf("scheduler_address must be set")
	}
	if p.DelayMs < 0 {
		return fmt.Errorf("delay_ms must be non-negative, got %d", p.DelayMs)
	}
	if p.MaxSlateSize <= 0 {
		return fmt.Errorf("max_slate_size must be positive, got %d", p.MaxSlateSize)
	}
	if p.Owner != "" && p.PolicyExpr != "" {
		return fmt.Errorf("owner and policy_expr are mutually exclusive")
	}
	return nil
}
