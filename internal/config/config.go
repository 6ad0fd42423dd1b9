package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config models prodline.yml. It is imported into the workspace database and
// read back from the settings table, so the zero source of truth is the DB.
type Config struct {
	Org struct {
		Name     string `yaml:"name" json:"name"`
		Timezone string `yaml:"timezone" json:"timezone"`
	} `yaml:"org" json:"org"`
	Scheduling struct {
		// DefaultDefectRate is a percentage (0..100) applied to plans that
		// do not carry their own rate.
		DefaultDefectRate float64 `yaml:"default_defect_rate" json:"default_defect_rate"`
		// HorizonDays bounds the calendar walk when computing end times.
		HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
	} `yaml:"scheduling" json:"scheduling"`
	Server struct {
		BasePath               string `yaml:"base_path" json:"base_path"`
		JWTSecret              string `yaml:"jwt_secret" json:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header" json:"allow_legacy_actor_header"`
	} `yaml:"server" json:"server"`
	// Calendar is the organization's default work calendar. Any of the three
	// accepted shapes may appear here; it is normalized when imported.
	Calendar any `yaml:"calendar" json:"calendar"`
}

// Default returns a config with a single-lane Mon-Fri day shift.
func Default() *Config {
	c := &Config{}
	c.Org.Name = "prodline"
	c.Org.Timezone = "UTC"
	c.Scheduling.DefaultDefectRate = 0
	c.Scheduling.HorizonDays = 365
	c.Server.BasePath = "/v0"
	c.Calendar = map[string]any{
		"lanes": map[string]any{
			"1": map[string]any{
				"mon": defaultDay(), "tue": defaultDay(), "wed": defaultDay(),
				"thu": defaultDay(), "fri": defaultDay(),
			},
		},
	}
	return c
}

func defaultDay() []any {
	return []any{
		map[string]any{"kind": "work", "start": "08:00", "end": "12:00"},
		map[string]any{"kind": "break", "start": "12:00", "end": "13:00"},
		map[string]any{"kind": "work", "start": "13:00", "end": "17:00"},
	}
}

// Load reads and validates config from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with pl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a config document.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Org.Timezone == "" {
		c.Org.Timezone = "UTC"
	}
	if c.Scheduling.HorizonDays <= 0 {
		c.Scheduling.HorizonDays = 365
	}
	if c.Scheduling.DefaultDefectRate < 0 || c.Scheduling.DefaultDefectRate > 100 {
		return fmt.Errorf("config.scheduling.default_defect_rate must be within 0..100")
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
	return nil
}

// CalendarJSON renders the raw calendar document as JSON for storage and
// for normalization by the schedule package.
func (c *Config) CalendarJSON() ([]byte, error) {
	if c.Calendar == nil {
		return nil, nil
	}
	return json.Marshal(normalizeYAML(c.Calendar))
}

// normalizeYAML rewrites map[any]any trees produced by yaml.v3 into
// map[string]any so they survive json.Marshal.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}
