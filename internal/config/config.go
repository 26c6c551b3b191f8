// Package config loads the orchestrator configuration from a YAML file,
// falling back to defaults when no file is given.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	DBPath        string   `yaml:"db_path"`
	HTTPAddr      string   `yaml:"http_addr"`
	Workers       int      `yaml:"workers"`
	DequeueBatch  int      `yaml:"dequeue_batch"`
	PollInterval  Duration `yaml:"poll_interval"`
	TickInterval  Duration `yaml:"tick_interval"`
	RetentionDays int      `yaml:"retention_days"`
	Debug         bool     `yaml:"debug"`
}

func Default() Config {
	return Config{
		DBPath:        "fcraflow.db",
		HTTPAddr:      ":8080",
		Workers:       4,
		DequeueBatch:  5,
		PollInterval:  Duration(2 * time.Second),
		TickInterval:  Duration(time.Minute),
		RetentionDays: 30,
	}
}

// Load reads path into a Config on top of the defaults. Unknown keys are an
// error so typos don't silently fall back.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
