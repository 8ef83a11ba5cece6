package llm

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// pricingFile is the YAML shape of an operator-supplied pricing override
// file: a flat map from model name to its price-per-token pair, mirroring
// DefaultModelPricing's own shape so the file can override or add
// entries without having to restate the ones it leaves alone.
type pricingFile struct {
	Models map[string]ModelPricing `yaml:"models"`
}

// LoadPricing reads an optional YAML override file and merges it onto
// DefaultModelPricing, grounded on pkg/config/loader.go's "read YAML,
// mergo.Merge onto the built-in table" shape. A missing file is not an
// error: it simply means the built-in pricing table is used as-is,
// matching internal/config.Load's tolerance of a missing .env.
func LoadPricing(path string) (map[string]ModelPricing, error) {
	merged := make(map[string]ModelPricing, len(DefaultModelPricing))
	for model, price := range DefaultModelPricing {
		merged[model] = price
	}

	if path == "" {
		return merged, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("no model pricing override file found, using built-in pricing", "path", path)
			return merged, nil
		}
		return nil, fmt.Errorf("read pricing file %s: %w", path, err)
	}

	var file pricingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pricing file %s: %w", path, err)
	}

	if err := mergo.Merge(&merged, file.Models, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge pricing overrides from %s: %w", path, err)
	}

	return merged, nil
}
