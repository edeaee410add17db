package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantmuse/marketdata/internal/adapters"
	"github.com/quantmuse/marketdata/internal/store"
)

// Root is the top-level configuration file layout.
type Root struct {
	LogLevel string              `yaml:"log_level"` // debug | info | warn | error
	Fetch    adapters.FetchConfig `yaml:"fetch"`
	Store    store.Config        `yaml:"store"`
}

// Load reads the yaml config at path and applies defaults. A missing file
// is not an error when path is empty: the defaults describe a usable
// credential-free deployment.
func Load(path string) (Root, error) {
	var c Root
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, err
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Fetch.ApplyDefaults()
	return c, nil
}
