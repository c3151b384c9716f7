package intake

import (
	"fmt"
	"sort"
	"strings"

	"github.com/disease-intake-server/internal/domain"
	"github.com/disease-intake-server/internal/taxonomy"
)

// Schema validates records against a taxonomy.
type Schema struct {
	tax *taxonomy.Taxonomy
}

// NewSchema derives a schema from tax.
func NewSchema(tax *taxonomy.Taxonomy) *Schema {
	return &Schema{tax: tax}
}

// Taxonomy returns the catalog the schema was derived from.
func (s *Schema) Taxonomy() *taxonomy.Taxonomy {
	return s.tax
}

// Defaults returns a complete record with every attribute at its default and
// every symptom false.
func (s *Schema) Defaults() Record {
	r := Record{
		Demographics: make(map[string]string),
		Symptoms:     make(map[string]bool, s.tax.FieldCount()),
	}
	for _, a := range s.tax.Attributes() {
		r.Demographics[a.Key] = a.Default
	}
	for _, key := range s.tax.FieldKeys() {
		r.Symptoms[key] = false
	}
	return r
}

// Validate returns nil or a domain.ValidationErrors listing every problem in
// catalog order. Any combination of symptom values is acceptable as long as
// each field is present.
func (s *Schema) Validate(r Record) error {
	var errs domain.ValidationErrors

	for _, a := range s.tax.Attributes() {
		v, ok := r.Demographics[a.Key]
		switch {
		case !ok || v == "":
			errs = append(errs, domain.NewValidationError(a.Key, "is required", nil))
		case !a.Allows(v):
			errs = append(errs, domain.NewValidationError(a.Key,
				fmt.Sprintf("must be one of %s", strings.Join(a.Values(), ", ")), v))
		}
	}
	for _, key := range sortedKeys(r.Demographics) {
		if _, ok := s.tax.Attribute(key); !ok {
			errs = append(errs, domain.NewValidationError(key, "unknown attribute", r.Demographics[key]))
		}
	}

	for _, key := range s.tax.FieldKeys() {
		if _, ok := r.Symptoms[key]; !ok {
			errs = append(errs, domain.NewValidationError(key, "is required", nil))
		}
	}
	for _, key := range sortedKeys(r.Symptoms) {
		if _, ok := s.tax.Field(key); !ok {
			errs = append(errs, domain.NewValidationError(key, "unknown symptom", r.Symptoms[key]))
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Normalize builds a record from partial operator input. Omitted symptoms
// default to false; demographics are never defaulted, so a missing attribute
// still fails validation.
func (s *Schema) Normalize(demographics map[string]string, symptoms map[string]bool) (Record, error) {
	r := Record{
		Demographics: make(map[string]string, len(demographics)),
		Symptoms:     make(map[string]bool, s.tax.FieldCount()),
	}
	for k, v := range demographics {
		r.Demographics[k] = v
	}
	for _, key := range s.tax.FieldKeys() {
		r.Symptoms[key] = false
	}
	for k, v := range symptoms {
		r.Symptoms[k] = v
	}
	if err := s.Validate(r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// FromSelected is Normalize with the present symptoms given as a list.
func (s *Schema) FromSelected(demographics map[string]string, selected []string) (Record, error) {
	symptoms := make(map[string]bool, len(selected))
	for _, key := range selected {
		symptoms[strings.TrimSpace(key)] = true
	}
	return s.Normalize(demographics, symptoms)
}

// FormDefinition is the catalog shaped for rendering an intake form.
type FormDefinition struct {
	Attributes []taxonomy.Attribute `json:"attributes"`
	Groups     []taxonomy.Group     `json:"groups"`
	Defaults   Record               `json:"defaults"`
	FieldCount int                  `json:"field_count"`
}

// Describe returns the form definition derived from the catalog.
func (s *Schema) Describe() FormDefinition {
	return FormDefinition{
		Attributes: s.tax.Attributes(),
		Groups:     s.tax.Groups(),
		Defaults:   s.Defaults(),
		FieldCount: s.tax.FieldCount(),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
