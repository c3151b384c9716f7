package mockservice

import (
	"math"

	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/taxonomy"
	"github.com/disease-intake-server/pkg/predictor"
)

// symptomWeights is the fixed evidence table: outcome → symptom → weight.
var symptomWeights = map[string]map[string]float64{
	"malaria": {
		"fever": 2, "chills": 2, "sweats": 1.5, "headache": 1, "body_ache": 1,
		"nausea": 0.5, "vomiting": 0.5, "fatigue": 0.5,
	},
	"typhoid": {
		"fever": 1.5, "abdominal_pain": 1.5, "rose_spots": 2.5, "constipation": 1,
		"diarrhea": 0.5, "headache": 0.5, "loss_of_appetite": 1, "fatigue": 0.5,
	},
	"tuberculosis": {
		"chronic_cough": 2.5, "night_sweats": 2, "weight_loss": 1.5, "hemoptysis": 2,
		"fever": 0.5, "fatigue": 0.5, "loss_of_appetite": 0.5, "chest_pain": 0.5,
	},
	"pneumonia": {
		"cough": 1.5, "productive_cough": 2, "shortness_of_breath": 2, "rapid_breathing": 2,
		"chest_pain": 1.5, "fever": 1, "chills": 0.5,
	},
	"gastroenteritis": {
		"diarrhea": 2.5, "vomiting": 2, "nausea": 1.5, "abdominal_pain": 1, "fever": 0.5,
	},
	"peptic_ulcer": {
		"epigastric_pain": 2.5, "heartburn": 2, "hunger_pain": 2, "nausea": 0.5,
	},
	"diabetes": {
		"polyuria": 2, "polydipsia": 2, "polyphagia": 1.5, "blurred_vision": 1,
		"weight_loss": 0.5, "fatigue": 0.5, "recurrent_infections": 0.5,
	},
	"hypertension": {
		"headache": 1, "dizziness": 2, "blurred_vision": 1, "chest_pain": 0.5, "confusion": 1,
	},
	"measles": {
		"maculopapular_rash": 2.5, "rash": 1.5, "conjunctivitis": 2, "runny_nose": 1,
		"cough": 0.5, "fever": 1,
	},
	"hiv": {
		"recurrent_infections": 2, "oral_thrush": 2.5, "lymph_nodes": 2, "weight_loss": 1,
		"night_sweats": 0.5, "fatigue": 0.5, "diarrhea": 0.5,
	},
}

// demographicBias nudges outcomes by attribute value.
var demographicBias = map[string]map[string]map[string]float64{
	"malaria":      {"season": {"rainy": 0.6}, "setting": {"rural": 0.4}},
	"measles":      {"age_band": {"0-4": 0.8, "5-14": 0.6}},
	"hypertension": {"age_band": {"45-64": 0.8, "65+": 1.2}},
	"diabetes":     {"age_band": {"45-64": 0.6, "65+": 0.8}},
	"typhoid":      {"season": {"rainy": 0.3}},
}

const (
	healthyBase     = 2.0
	healthyPerFlag  = 0.8
	temperature     = 1.0
	unmatchedPrior  = -0.5
	healthyCategory = "healthy"
)

// Score returns a probability for every outcome of tax. The same record
// always produces the same result.
func Score(tax *taxonomy.Taxonomy, r intake.Record) predictor.Probabilities {
	present := 0
	for _, v := range r.Symptoms {
		if v {
			present++
		}
	}

	keys := tax.OutcomeKeys()
	logits := make([]float64, len(keys))
	for i, outcome := range keys {
		if outcome == healthyCategory {
			logits[i] = healthyBase - healthyPerFlag*float64(present)
			continue
		}
		score := unmatchedPrior
		for symptom, w := range symptomWeights[outcome] {
			if r.Symptoms[symptom] {
				score += w
			}
		}
		for attr, values := range demographicBias[outcome] {
			score += values[r.Demographics[attr]]
		}
		logits[i] = score
	}

	probs := softmax(logits)
	out := make(predictor.Probabilities, len(keys))
	for i, k := range keys {
		out[i] = predictor.Probability{Category: k, Value: probs[i]}
	}
	return out
}

func softmax(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		maxLogit = math.Max(maxLogit, l)
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		out[i] = math.Exp((l - maxLogit) / temperature)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// top returns the first highest-probability category.
func top(p predictor.Probabilities) predictor.Probability {
	best := p[0]
	for _, c := range p[1:] {
		if c.Value > best.Value {
			best = c
		}
	}
	return best
}
