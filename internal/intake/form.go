package intake

import (
	"github.com/disease-intake-server/internal/domain"
)

// Form is the mutable draft record behind one intake screen. It is not safe
// for concurrent use; callers serialize access.
type Form struct {
	schema *Schema
	record Record
}

// NewForm starts a form at the schema defaults.
func NewForm(schema *Schema) *Form {
	return &Form{schema: schema, record: schema.Defaults()}
}

// SetDemographic stores value for an attribute. Out-of-enum values are kept
// and rejected by Validate at submission time.
func (f *Form) SetDemographic(key, value string) error {
	if _, ok := f.schema.tax.Attribute(key); !ok {
		return domain.ValidationErrors{domain.NewValidationError(key, "unknown attribute", value)}
	}
	f.record.Demographics[key] = value
	return nil
}

// SetSymptom sets a symptom flag explicitly.
func (f *Form) SetSymptom(key string, value bool) error {
	if _, ok := f.schema.tax.Field(key); !ok {
		return domain.ValidationErrors{domain.NewValidationError(key, "unknown symptom", value)}
	}
	f.record.Symptoms[key] = value
	return nil
}

// Toggle flips a symptom flag and returns the new value. Two toggles restore
// the original value.
func (f *Form) Toggle(key string) (bool, error) {
	if _, ok := f.schema.tax.Field(key); !ok {
		return false, domain.ValidationErrors{domain.NewValidationError(key, "unknown symptom", nil)}
	}
	v := !f.record.Symptoms[key]
	f.record.Symptoms[key] = v
	return v, nil
}

// Replace swaps in a whole record.
func (f *Form) Replace(r Record) {
	f.record = r.Clone()
}

// Reset replaces the record with the schema defaults.
func (f *Form) Reset() {
	f.record = f.schema.Defaults()
}

// Selected lists the symptoms currently true, in catalog order.
func (f *Form) Selected() []string {
	out := []string{}
	for _, key := range f.schema.tax.FieldKeys() {
		if f.record.Symptoms[key] {
			out = append(out, key)
		}
	}
	return out
}

// SelectedCount is len(Selected()).
func (f *Form) SelectedCount() int {
	n := 0
	for _, key := range f.schema.tax.FieldKeys() {
		if f.record.Symptoms[key] {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the current record.
func (f *Form) Snapshot() Record {
	return f.record.Clone()
}

// Validate checks the current record against the schema.
func (f *Form) Validate() error {
	return f.schema.Validate(f.record)
}
