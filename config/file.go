package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"wearbridge/internal/errors"
)

// LoadFile decodes the TOML file at path onto cfg.  Keys absent from
// the file leave the existing value alone; unknown keys are an error.
func LoadFile(cfg *Config, path string) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return &errors.ConfigError{
			Field:   "config",
			Value:   path,
			Message: "unknown keys: " + strings.Join(keys, ", "),
		}
	}
	return nil
}
