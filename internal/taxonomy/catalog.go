package taxonomy

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Attributes []struct {
		Key         string `yaml:"key"`
		Label       string `yaml:"label"`
		Description string `yaml:"description"`
		Default     string `yaml:"default"`
		Options     []struct {
			Value string `yaml:"value"`
			Label string `yaml:"label"`
		} `yaml:"options"`
	} `yaml:"attributes"`
	Groups []struct {
		ID          string `yaml:"id"`
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
		Fields      []struct {
			Key         string `yaml:"key"`
			Label       string `yaml:"label"`
			Description string `yaml:"description"`
		} `yaml:"fields"`
	} `yaml:"groups"`
	Outcomes []struct {
		Key   string `yaml:"key"`
		Label string `yaml:"label"`
	} `yaml:"outcomes"`
}

// Load parses a YAML catalog and validates it with New. Unknown keys in the
// document are rejected.
func Load(r io.Reader) (*Taxonomy, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc catalogFile
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("taxonomy: decoding catalog: %w", err)
	}

	attrs := make([]Attribute, 0, len(doc.Attributes))
	for _, a := range doc.Attributes {
		opts := make([]Option, 0, len(a.Options))
		for _, o := range a.Options {
			opts = append(opts, Option{Value: o.Value, Label: o.Label})
		}
		attrs = append(attrs, Attribute{
			Key:         a.Key,
			Label:       a.Label,
			Description: a.Description,
			Options:     opts,
			Default:     a.Default,
		})
	}

	groups := make([]Group, 0, len(doc.Groups))
	for _, g := range doc.Groups {
		fields := make([]Field, 0, len(g.Fields))
		for _, f := range g.Fields {
			fields = append(fields, Field{Key: f.Key, Label: f.Label, Description: f.Description})
		}
		groups = append(groups, Group{
			ID:          GroupID(g.ID),
			Title:       g.Title,
			Description: g.Description,
			Fields:      fields,
		})
	}

	outcomes := make([]Outcome, 0, len(doc.Outcomes))
	for _, o := range doc.Outcomes {
		outcomes = append(outcomes, Outcome{Key: o.Key, Label: o.Label})
	}

	return New(attrs, groups, outcomes)
}

var (
	defaultOnce sync.Once
	defaultTax  *Taxonomy
)

// Default returns the embedded canonical catalog. A defective catalog panics
// on first use.
func Default() *Taxonomy {
	defaultOnce.Do(func() {
		t, err := Load(bytes.NewReader(catalogYAML))
		if err != nil {
			panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
		}
		defaultTax = t
	})
	return defaultTax
}
