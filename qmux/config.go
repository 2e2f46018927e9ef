package qmux

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the enumerated configuration surface: a name used to namespace
// per-reactor resources, the device path, and timing knobs. The indication
// callback is supplied separately to New, since a callback is not
// serializable.
//
// A flat struct decoded from YAML with gopkg.in/yaml.v3.
type Config struct {
	Name          string        `yaml:"name"`
	DevicePath    string        `yaml:"devicePath"`
	CallTimeout   time.Duration `yaml:"callTimeout"`
	ReopenBackoff time.Duration `yaml:"reopenBackoff"`
}

// DefaultCallTimeout is the default per-call timeout.
const DefaultCallTimeout = 5 * time.Second

// DefaultReopenBackoff is how long the reactor waits between reopen
// attempts after a device-closed event.
const DefaultReopenBackoff = 500 * time.Millisecond

func (c *Config) setDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.ReopenBackoff <= 0 {
		c.ReopenBackoff = DefaultReopenBackoff
	}
}

// LoadConfig reads and parses a YAML config file at path. It returns an
// error rather than calling log.Fatalf: a transport library must not be
// able to kill its host process.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("qmux: read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("qmux: parse config %s: %w", path, err)
	}
	cfg.setDefaults()
	return &cfg, nil
}
