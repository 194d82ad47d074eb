package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Category is a lexical category definition used by the rule categorizer.
type Category struct {
	Name     string   `mapstructure:"name" json:"name"`
	Keywords []string `mapstructure:"keywords" json:"keywords"`
}

// Provider resolves analysis settings by dotted path ("sla.resolution_hours")
// with layered defaults. A nil *Provider is valid and answers every lookup
// with the caller's default.
type Provider struct {
	v *viper.Viper
}

// NewProvider loads settings from a YAML file when it exists. A missing file
// is not an error; built-in defaults apply.
func NewProvider(path string) (*Provider, error) {
	v := newSettingsViper()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read settings %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat settings %s: %w", path, err)
		}
	}
	return &Provider{v: v}, nil
}

// DefaultProvider returns a provider carrying only built-in defaults.
func DefaultProvider() *Provider {
	return &Provider{v: newSettingsViper()}
}

func newSettingsViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FTEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("sla.first_response_hours", 12)
	v.SetDefault("sla.resolution_hours", 24)
	v.SetDefault("sla.stale_threshold_days", 15)

	v.SetDefault("industry.primary_entity", "customer")
	v.SetDefault("industry.entity_field", "entity_name")
	v.SetDefault("industry.entity_custom_fields", []string{"cf_vesselname", "cf_company"})

	v.SetDefault("loader.entity_field", "company.name")

	v.SetDefault("categories", defaultCategories())

	v.SetDefault("extraction.issue_patterns", []string{})
	v.SetDefault("extraction.decision_patterns", []string{})
	v.SetDefault("extraction.commitment_patterns", []string{})
	v.SetDefault("extraction.action_patterns", []string{})
	v.SetDefault("extraction.entity_patterns", []string{})
	v.SetDefault("extraction.resolution_keywords", []string{"done", "completed", "resolved", "finished", "closed"})
	v.SetDefault("extraction.product_custom_field", "cf_products")
	v.SetDefault("extraction.subject_separator", "|")
	v.SetDefault("extraction.product_tag_prefix", "product:")
	v.SetDefault("extraction.entity_tag_prefix", "entity:")

	v.SetDefault("metrics.high_risk", 0.7)
	v.SetDefault("metrics.medium_risk", 0.3)
	return v
}

func defaultCategories() []map[string]any {
	return []map[string]any{
		{"name": "Bug Report", "keywords": []string{"bug", "error", "crash", "broken", "fails"}},
		{"name": "Feature Request", "keywords": []string{"feature", "enhancement", "suggestion", "please add"}},
		{"name": "Configuration", "keywords": []string{"configure", "setup", "settings", "config"}},
		{"name": "Activation/License", "keywords": []string{"license", "activation", "subscription", "product key"}},
		{"name": "Integration/Sync", "keywords": []string{"sync", "integration", "api", "connection"}},
		{"name": "Installation", "keywords": []string{"install", "deploy", "upgrade", "update"}},
		{"name": "Training", "keywords": []string{"training", "how to", "documentation", "guide"}},
		{"name": "Follow-up", "keywords": []string{"follow up", "following up", "any update", "reminder"}},
		{"name": "Acknowledgment", "keywords": []string{"thank you", "thanks", "acknowledged"}},
	}
}

// Set overrides a single path, e.g. from a CLI flag.
func (p *Provider) Set(path string, value any) {
	if p == nil {
		return
	}
	p.v.Set(path, value)
}

func (p *Provider) has(path string) bool {
	return p != nil && p.v.IsSet(path)
}

func (p *Provider) Int(path string, def int) int {
	if !p.has(path) {
		return def
	}
	return p.v.GetInt(path)
}

func (p *Provider) Float(path string, def float64) float64 {
	if !p.has(path) {
		return def
	}
	return p.v.GetFloat64(path)
}

func (p *Provider) String(path string, def string) string {
	if !p.has(path) {
		return def
	}
	if s := p.v.GetString(path); s != "" {
		return s
	}
	return def
}

func (p *Provider) StringSlice(path string, def []string) []string {
	if !p.has(path) {
		return def
	}
	return p.v.GetStringSlice(path)
}

func (p *Provider) Duration(path string, def time.Duration) time.Duration {
	if !p.has(path) {
		return def
	}
	return p.v.GetDuration(path)
}

// Categories returns the configured lexical categories. Entries without a
// name or keywords are dropped.
func (p *Provider) Categories() []Category {
	if !p.has("categories") {
		return nil
	}
	var raw []Category
	if err := p.v.UnmarshalKey("categories", &raw); err != nil {
		return nil
	}
	out := make([]Category, 0, len(raw))
	for _, c := range raw {
		if strings.TrimSpace(c.Name) == "" || len(c.Keywords) == 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}
