// Package encoder converts intake records to the prediction service wire
// format and back. Both directions are pure.
package encoder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/taxonomy"
)

// Attribute is a demographic value as sent on the wire.
type Attribute struct {
	Key   string
	Value string
}

// Flag is a symptom encoded as 0 or 1.
type Flag struct {
	Key   string
	Value int
}

// Request is the wire form of a complete record, ordered as the taxonomy.
type Request struct {
	Demographics []Attribute
	Symptoms     []Flag
}

// MismatchError means a record and the taxonomy disagree about which fields
// exist. It indicates a defect, never operator input.
type MismatchError struct {
	Missing []string
	Unknown []string
}

func (e *MismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown "+strings.Join(e.Unknown, ", "))
	}
	return "encoder: schema mismatch: " + strings.Join(parts, "; ")
}

// Encode maps every symptom true to 1 and false to 0; demographics pass
// through. A record lacking any taxonomy field is refused, never defaulted.
func Encode(tax *taxonomy.Taxonomy, r intake.Record) (Request, error) {
	attrs := tax.Attributes()
	keys := tax.FieldKeys()
	req := Request{
		Demographics: make([]Attribute, 0, len(attrs)),
		Symptoms:     make([]Flag, 0, len(keys)),
	}
	mismatch := &MismatchError{}

	for _, a := range attrs {
		v, ok := r.Demographics[a.Key]
		if !ok {
			mismatch.Missing = append(mismatch.Missing, a.Key)
			continue
		}
		req.Demographics = append(req.Demographics, Attribute{Key: a.Key, Value: v})
	}
	for _, key := range keys {
		v, ok := r.Symptoms[key]
		if !ok {
			mismatch.Missing = append(mismatch.Missing, key)
			continue
		}
		flag := Flag{Key: key}
		if v {
			flag.Value = 1
		}
		req.Symptoms = append(req.Symptoms, flag)
	}

	for k := range r.Demographics {
		if _, ok := tax.Attribute(k); !ok {
			mismatch.Unknown = append(mismatch.Unknown, k)
		}
	}
	for k := range r.Symptoms {
		if _, ok := tax.Field(k); !ok {
			mismatch.Unknown = append(mismatch.Unknown, k)
		}
	}
	sort.Strings(mismatch.Unknown)

	if len(mismatch.Missing) > 0 || len(mismatch.Unknown) > 0 {
		return Request{}, mismatch
	}
	return req, nil
}

// Decode is the inverse of Encode.
func Decode(tax *taxonomy.Taxonomy, req Request) (intake.Record, error) {
	r := intake.Record{
		Demographics: make(map[string]string, len(req.Demographics)),
		Symptoms:     make(map[string]bool, len(req.Symptoms)),
	}
	mismatch := &MismatchError{}

	for _, a := range req.Demographics {
		if _, ok := tax.Attribute(a.Key); !ok {
			mismatch.Unknown = append(mismatch.Unknown, a.Key)
			continue
		}
		r.Demographics[a.Key] = a.Value
	}
	for _, f := range req.Symptoms {
		if _, ok := tax.Field(f.Key); !ok {
			mismatch.Unknown = append(mismatch.Unknown, f.Key)
			continue
		}
		switch f.Value {
		case 0:
			r.Symptoms[f.Key] = false
		case 1:
			r.Symptoms[f.Key] = true
		default:
			return intake.Record{}, fmt.Errorf("encoder: symptom %q has value %d, want 0 or 1", f.Key, f.Value)
		}
	}

	for _, a := range tax.Attributes() {
		if _, ok := r.Demographics[a.Key]; !ok {
			mismatch.Missing = append(mismatch.Missing, a.Key)
		}
	}
	for _, key := range tax.FieldKeys() {
		if _, ok := r.Symptoms[key]; !ok {
			mismatch.Missing = append(mismatch.Missing, key)
		}
	}

	if len(mismatch.Missing) > 0 || len(mismatch.Unknown) > 0 {
		return intake.Record{}, mismatch
	}
	return r, nil
}

// Value returns the encoded value for key: a string for demographics, an int
// for symptoms.
func (r Request) Value(key string) (any, bool) {
	for _, a := range r.Demographics {
		if a.Key == key {
			return a.Value, true
		}
	}
	for _, f := range r.Symptoms {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// MarshalJSON writes one flat object: demographics first, then symptom flags,
// each in taxonomy order.
func (r Request) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, value any) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}
	for _, a := range r.Demographics {
		if err := write(a.Key, a.Value); err != nil {
			return nil, err
		}
	}
	for _, f := range r.Symptoms {
		if err := write(f.Key, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat object, keeping key order. String values are
// demographics and integer values are symptom flags.
func (r *Request) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("encoder: request must be a JSON object")
	}

	var out Request
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)

		tok, err = dec.Token()
		if err != nil {
			return err
		}
		switch v := tok.(type) {
		case string:
			out.Demographics = append(out.Demographics, Attribute{Key: key, Value: v})
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return fmt.Errorf("encoder: field %q: %w", key, err)
			}
			out.Symptoms = append(out.Symptoms, Flag{Key: key, Value: int(n)})
		default:
			return fmt.Errorf("encoder: field %q has unsupported value %v", key, tok)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = out
	return nil
}
