// Package catalog loads the quest and badge catalog from YAML.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/studyforge/studyplanner/internal/domain/progression"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Default returns the embedded catalog.
func Default() (progression.Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog at path. An empty path yields the embedded default.
func Load(path string) (progression.Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return progression.Catalog{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return progression.Catalog{}, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog. Unknown fields are rejected.
func Parse(data []byte) (progression.Catalog, error) {
	var c progression.Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return progression.Catalog{}, fmt.Errorf("decode: %w", err)
	}
	if len(c.Quests) == 0 {
		return progression.Catalog{}, fmt.Errorf("catalog has no quests")
	}
	if err := c.Validate(); err != nil {
		return progression.Catalog{}, err
	}
	return c, nil
}
