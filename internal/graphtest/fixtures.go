package graphtest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixtures is the YAML document the stub backend is seeded from:
//
//	nodes:
//	  person-1:
//	    profile:
//	      - revision: 3
//	        data: {name: Ada}
//	responses:
//	  /people:
//	    node_ids: [person-1]
type Fixtures struct {
	Nodes     map[string]map[string][]LayerVersion `yaml:"nodes"`
	Responses map[string]any                       `yaml:"responses"`
}

// LayerVersion is one revision of a layer.
type LayerVersion struct {
	Revision int64 `yaml:"revision"`
	Data     any   `yaml:"data"`
}

// LoadFixtures reads and parses a fixtures file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}

	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixtures: %w", err)
	}
	return &f, nil
}

// Validate checks revisions are positive and response paths are absolute.
func (f *Fixtures) Validate() error {
	for id, layers := range f.Nodes {
		for layer, versions := range layers {
			for _, v := range versions {
				if v.Revision <= 0 {
					return fmt.Errorf("node %s layer %s: revision must be positive, got %d", id, layer, v.Revision)
				}
			}
		}
	}
	for path := range f.Responses {
		if len(path) == 0 || path[0] != '/' {
			return fmt.Errorf("response path %q must start with /", path)
		}
	}
	return nil
}

// Apply seeds b with every node version and response.
func (f *Fixtures) Apply(b *Backend) {
	for id, layers := range f.Nodes {
		for layer, versions := range layers {
			for _, v := range versions {
				b.SetLayer(id, layer, v.Revision, v.Data)
			}
		}
	}
	for path, body := range f.Responses {
		b.SetFixture(path, body)
	}
}
