package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds the deployment rules operators tune without a rebuild.
type Policy struct {
	// DeployTimeout bounds how long an attempt may sit in DEPLOYING without
	// a provider milestone before the watchdog fails it.
	DeployTimeout time.Duration `yaml:"deploy_timeout"`
	DraftTTL      time.Duration `yaml:"draft_ttl"`
	// ReservedSubdomains can never be claimed by an organization.
	ReservedSubdomains []string `yaml:"reserved_subdomains"`
	BaseDomain         string   `yaml:"base_domain"`

	ReconcileCron         string `yaml:"reconcile_cron"`
	DraftSweepCron        string `yaml:"draft_sweep_cron"`
	DraftSweepParallelism int    `yaml:"draft_sweep_parallelism"`
}

func DefaultPolicy() Policy {
	return Policy{
		DeployTimeout:         15 * time.Minute,
		DraftTTL:              7 * 24 * time.Hour,
		ReservedSubdomains:    []string{"www", "api", "admin", "app", "mail", "status", "preview", "internal"},
		BaseDomain:            "go4it.live",
		ReconcileCron:         "*/2 * * * *",
		DraftSweepCron:        "17 * * * *",
		DraftSweepParallelism: 4,
	}
}

// LoadFile overlays the YAML policy at path onto p. Keys missing from the
// file keep their current values.
func (p *Policy) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}
	for i, s := range p.ReservedSubdomains {
		p.ReservedSubdomains[i] = strings.ToLower(strings.TrimSpace(s))
	}
	p.BaseDomain = strings.ToLower(strings.Trim(strings.TrimSpace(p.BaseDomain), "."))
	return nil
}

var baseDomainRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

func (p *Policy) Validate() error {
	if p.DeployTimeout <= 0 {
		return fmt.Errorf("policy deploy_timeout must be positive")
	}
	if p.DraftTTL <= 0 {
		return fmt.Errorf("policy draft_ttl must be positive")
	}
	if !baseDomainRe.MatchString(p.BaseDomain) {
		return fmt.Errorf("policy base_domain %q is not a valid domain", p.BaseDomain)
	}
	if p.ReconcileCron == "" || p.DraftSweepCron == "" {
		return fmt.Errorf("policy cron expressions must be set")
	}
	if p.DraftSweepParallelism < 1 {
		return fmt.Errorf("policy draft_sweep_parallelism must be at least 1")
	}
	return nil
}

// IsReserved reports whether label is on the reserved subdomain list.
func (p *Policy) IsReserved(label string) bool {
	for _, r := range p.ReservedSubdomains {
		if r == label {
			return true
		}
	}
	return false
}
