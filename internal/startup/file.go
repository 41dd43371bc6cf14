package startup

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// applyFile decodes the YAML overlay at path into cfg. Keys absent from the
// file keep their current value. A missing file is not an error.
func applyFile(cfg *Config, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return false, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return true, nil
}
