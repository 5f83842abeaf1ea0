package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models siteline.yml.
type Config struct {
	Tenant struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"tenant"`
	Compliance struct {
		// Required document kinds per unit; keys are kind ids, values are
		// display descriptions. Units missing any required kind surface as
		// "missing" in the compliance register.
		Required map[string]string `yaml:"required"`
	} `yaml:"compliance"`
	Kitchen struct {
		Allowances KitchenAllowances `yaml:"allowances"`
		// Option catalogues offered to purchasers.
		CounterTypes  map[string]string `yaml:"counter_types"`
		CabinetColors []string          `yaml:"cabinet_colors"`
		HandleStyles  []string          `yaml:"handle_styles"`
	} `yaml:"kitchen"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// KitchenAllowances are the PC sums credited back when a purchaser declines
// the developer kitchen or wardrobes.
type KitchenAllowances struct {
	FourBed  int `yaml:"four_bed"`
	ThreeBed int `yaml:"three_bed"`
	TwoBed   int `yaml:"two_bed"`
	Wardrobe int `yaml:"wardrobe"`
}

// KitchenAllowance returns the kitchen PC sum for a bedroom count.
func (a KitchenAllowances) KitchenAllowance(bedrooms int) int {
	switch {
	case bedrooms >= 4:
		return a.FourBed
	case bedrooms == 3:
		return a.ThreeBed
	default:
		return a.TwoBed
	}
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run sl init or import with sl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tenant.ID == "" {
		return fmt.Errorf("config.tenant.id is required")
	}
	a := c.Kitchen.Allowances
	if a.FourBed < 0 || a.ThreeBed < 0 || a.TwoBed < 0 || a.Wardrobe < 0 {
		return fmt.Errorf("config.kitchen.allowances must not be negative")
	}
	for kind, desc := range c.Compliance.Required {
		if kind == "" {
			return fmt.Errorf("config.compliance.required contains empty kind")
		}
		if desc == "" {
			return fmt.Errorf("compliance kind %s has empty description", kind)
		}
	}
	for code := range c.Kitchen.CounterTypes {
		if code == "" {
			return fmt.Errorf("config.kitchen.counter_types contains empty code")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "siteline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(tenantID string) string {
	return fmt.Sprintf(defaultTemplate, tenantID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a tenant.
func Default(tenantID string) *Config {
	var cfg Config
	cfg.Tenant.ID = tenantID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, tenantID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `tenant:
  id: %s
  name: ""

compliance:
  required:
    homebond:
      "HomeBond structural warranty certificate"
    ber:
      "Building Energy Rating certificate"
    fire_safety:
      "Fire safety compliance certificate"
    planning:
      "Certificate of compliance with planning"

kitchen:
  allowances:
    four_bed: 7000
    three_bed: 6000
    two_bed: 5000
    wardrobe: 1000

  counter_types:
    CT1: "Show House Counter"
    CT2: "White with Gold/Black Vein"
    CT3: "Wood"
    CT4: "Black/Yellow"
    CT5: "Grey Counter"
    CT6: "White with Brown Vein"

  cabinet_colors: [Green, Charcoal, Navy, White, Dust Grey, Light Grey]

  handle_styles: [H1, H2, H3, H4, H5, H6, H7, H8, H9, H10, H11, H12, H13, H14, H15, H16]
`
