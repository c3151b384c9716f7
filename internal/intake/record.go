// Package intake derives the validation schema and default record from the
// taxonomy and holds the operator's in-progress answers.
package intake

// Record is one in-progress set of answers: a value per demographic attribute
// and a boolean per symptom field.
type Record struct {
	Demographics map[string]string `json:"demographics"`
	Symptoms     map[string]bool   `json:"symptoms"`
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := Record{
		Demographics: make(map[string]string, len(r.Demographics)),
		Symptoms:     make(map[string]bool, len(r.Symptoms)),
	}
	for k, v := range r.Demographics {
		out.Demographics[k] = v
	}
	for k, v := range r.Symptoms {
		out.Symptoms[k] = v
	}
	return out
}
