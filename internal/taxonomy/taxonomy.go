// Package taxonomy holds the canonical catalog of intake fields: the
// categorical demographic attributes, the grouped binary symptom flags and the
// closed set of outcome categories the prediction service can return.
//
// Everything else in the pipeline (validation schema, default record, wire
// encoding, form rendering) is derived from a *Taxonomy so field lists cannot
// drift apart.
package taxonomy

import (
	"fmt"
)

// GroupID identifies a clinical symptom category.
type GroupID string

const (
	General          GroupID = "general"
	Gastrointestinal GroupID = "gastrointestinal"
	Respiratory      GroupID = "respiratory"
	Genitourinary    GroupID = "genitourinary"
	Metabolic        GroupID = "metabolic"
	Neurological     GroupID = "neurological"
	Dermatological   GroupID = "dermatological"
	Infection        GroupID = "infection"
)

var knownGroups = map[GroupID]bool{
	General:          true,
	Gastrointestinal: true,
	Respiratory:      true,
	Genitourinary:    true,
	Metabolic:        true,
	Neurological:     true,
	Dermatological:   true,
	Infection:        true,
}

// Option is one allowed value of a demographic attribute.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Attribute is a categorical demographic field constrained to Options.
type Attribute struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Options     []Option `json:"options"`
	Default     string   `json:"default"`
}

// Allows reports whether value is one of the attribute's options.
func (a Attribute) Allows(value string) bool {
	for _, o := range a.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// Values returns the option values in display order.
func (a Attribute) Values() []string {
	out := make([]string, len(a.Options))
	for i, o := range a.Options {
		out[i] = o.Value
	}
	return out
}

// Field is a binary symptom flag.
type Field struct {
	Key         string  `json:"key"`
	Label       string  `json:"label"`
	Description string  `json:"description,omitempty"`
	Group       GroupID `json:"group"`
}

// Group is an ordered set of symptom fields under one clinical heading.
type Group struct {
	ID          GroupID `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields"`
}

// Outcome is one category of the closed result set.
type Outcome struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// DuplicateKeyError reports a key defined twice in the catalog.
type DuplicateKeyError struct {
	Key    string
	First  string
	Second string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("taxonomy: key %q defined in both %s and %s", e.Key, e.First, e.Second)
}

// Taxonomy is immutable reference data. All accessors return copies.
type Taxonomy struct {
	attributes []Attribute
	groups     []Group
	fields     []Field
	outcomes   []Outcome

	attrIndex    map[string]int
	fieldIndex   map[string]int
	outcomeIndex map[string]int
}

// New validates the catalog eagerly and builds a Taxonomy. Keys must be unique
// across attributes and every group; a duplicate is a definition defect.
func New(attributes []Attribute, groups []Group, outcomes []Outcome) (*Taxonomy, error) {
	t := &Taxonomy{
		attrIndex:    make(map[string]int, len(attributes)),
		fieldIndex:   make(map[string]int),
		outcomeIndex: make(map[string]int, len(outcomes)),
	}
	owner := make(map[string]string)

	claim := func(key, where string) error {
		if key == "" {
			return fmt.Errorf("taxonomy: empty key in %s", where)
		}
		if prev, ok := owner[key]; ok {
			return &DuplicateKeyError{Key: key, First: prev, Second: where}
		}
		owner[key] = where
		return nil
	}

	for _, a := range attributes {
		if err := claim(a.Key, "attributes"); err != nil {
			return nil, err
		}
		if len(a.Options) == 0 {
			return nil, fmt.Errorf("taxonomy: attribute %q has no options", a.Key)
		}
		seen := make(map[string]bool, len(a.Options))
		for _, o := range a.Options {
			if o.Value == "" {
				return nil, fmt.Errorf("taxonomy: attribute %q has an empty option", a.Key)
			}
			if seen[o.Value] {
				return nil, fmt.Errorf("taxonomy: attribute %q repeats option %q", a.Key, o.Value)
			}
			seen[o.Value] = true
		}
		if !seen[a.Default] {
			return nil, fmt.Errorf("taxonomy: attribute %q default %q is not an option", a.Key, a.Default)
		}
		a.Options = append([]Option(nil), a.Options...)
		t.attrIndex[a.Key] = len(t.attributes)
		t.attributes = append(t.attributes, a)
	}

	seenGroups := make(map[GroupID]bool, len(groups))
	for _, g := range groups {
		if !knownGroups[g.ID] {
			return nil, fmt.Errorf("taxonomy: unknown group %q", g.ID)
		}
		if seenGroups[g.ID] {
			return nil, fmt.Errorf("taxonomy: group %q defined twice", g.ID)
		}
		seenGroups[g.ID] = true

		fields := make([]Field, 0, len(g.Fields))
		for _, f := range g.Fields {
			if err := claim(f.Key, "group "+string(g.ID)); err != nil {
				return nil, err
			}
			f.Group = g.ID
			fields = append(fields, f)
			t.fieldIndex[f.Key] = len(t.fields)
			t.fields = append(t.fields, f)
		}
		g.Fields = fields
		t.groups = append(t.groups, g)
	}

	for _, o := range outcomes {
		if o.Key == "" {
			return nil, fmt.Errorf("taxonomy: empty outcome key")
		}
		if _, ok := t.outcomeIndex[o.Key]; ok {
			return nil, &DuplicateKeyError{Key: o.Key, First: "outcomes", Second: "outcomes"}
		}
		t.outcomeIndex[o.Key] = len(t.outcomes)
		t.outcomes = append(t.outcomes, o)
	}

	return t, nil
}

// Attributes returns the demographic attributes in wire order.
func (t *Taxonomy) Attributes() []Attribute {
	out := make([]Attribute, len(t.attributes))
	for i, a := range t.attributes {
		a.Options = append([]Option(nil), a.Options...)
		out[i] = a
	}
	return out
}

// Attribute looks up a demographic attribute by key.
func (t *Taxonomy) Attribute(key string) (Attribute, bool) {
	i, ok := t.attrIndex[key]
	if !ok {
		return Attribute{}, false
	}
	a := t.attributes[i]
	a.Options = append([]Option(nil), a.Options...)
	return a, true
}

// Groups returns the symptom groups in display order.
func (t *Taxonomy) Groups() []Group {
	out := make([]Group, len(t.groups))
	for i, g := range t.groups {
		g.Fields = append([]Field(nil), g.Fields...)
		out[i] = g
	}
	return out
}

// Fields returns every symptom field flattened, preserving group order and
// field order within each group.
func (t *Taxonomy) Fields() []Field {
	return append([]Field(nil), t.fields...)
}

// FieldKeys is Fields reduced to keys.
func (t *Taxonomy) FieldKeys() []string {
	out := make([]string, len(t.fields))
	for i, f := range t.fields {
		out[i] = f.Key
	}
	return out
}

// Field looks up a symptom field by key.
func (t *Taxonomy) Field(key string) (Field, bool) {
	i, ok := t.fieldIndex[key]
	if !ok {
		return Field{}, false
	}
	return t.fields[i], true
}

// FieldCount is the number of symptom fields.
func (t *Taxonomy) FieldCount() int {
	return len(t.fields)
}

// Outcomes returns the closed outcome set in catalog order.
func (t *Taxonomy) Outcomes() []Outcome {
	return append([]Outcome(nil), t.outcomes...)
}

// OutcomeKeys is Outcomes reduced to keys.
func (t *Taxonomy) OutcomeKeys() []string {
	out := make([]string, len(t.outcomes))
	for i, o := range t.outcomes {
		out[i] = o.Key
	}
	return out
}

// IsOutcome reports whether key belongs to the closed outcome set.
func (t *Taxonomy) IsOutcome(key string) bool {
	_, ok := t.outcomeIndex[key]
	return ok
}
