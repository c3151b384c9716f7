// Package ranking turns a probability map into an ordered, visually weighted
// bar chart. Everything here is pure.
package ranking

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/disease-intake-server/pkg/predictor"
)

// HealthyCategory is the no-finding outcome.
const HealthyCategory = "healthy"

// Options controls filtering and layout.
type Options struct {
	// Threshold hides categories below this probability. The predicted
	// category is never hidden.
	Threshold    float64
	BarHeight    int
	Padding      int
	MinHeight    int
	PrimaryColor string
	LabelWidth   int
}

// DefaultOptions hides categories under 0.1% and sizes bars at 40px.
func DefaultOptions() Options {
	return Options{
		Threshold:    0.001,
		BarHeight:    40,
		Padding:      40,
		MinHeight:    200,
		PrimaryColor: "#2563eb",
		LabelWidth:   15,
	}
}

// Bar is one rendered category.
type Bar struct {
	Rank           int     `json:"rank"`
	Category       string  `json:"category"`
	Label          string  `json:"label"`
	ShortLabel     string  `json:"short_label"`
	Probability    float64 `json:"probability"`
	Percent        float64 `json:"percent"`
	PercentText    string  `json:"percent_text"`
	Intensity      float64 `json:"intensity"`
	Color          string  `json:"color"`
	Primary        bool    `json:"primary"`
	Predicted      bool    `json:"predicted"`
	BelowThreshold bool    `json:"below_threshold,omitempty"`
}

// Chart is the ranked view of one prediction.
type Chart struct {
	Bars           []Bar    `json:"bars"`
	Height         int      `json:"height"`
	Predicted      string   `json:"predicted"`
	PredictedLabel string   `json:"predicted_label"`
	Confidence     float64  `json:"confidence"`
	ConfidenceText string   `json:"confidence_text"`
	Timestamp      string   `json:"timestamp,omitempty"`
	Hidden         int      `json:"hidden"`
	Inconclusive   bool     `json:"inconclusive"`
	Notes          []string `json:"notes,omitempty"`
}

// Rank sorts probabilities descending, ties kept in the order the service
// sent them, drops immaterial categories except the predicted one and assigns
// each bar its visual weight.
func Rank(result *predictor.PredictionResult, opts Options) Chart {
	chart := Chart{
		Predicted:      result.PredictedDisease,
		PredictedLabel: Label(result.PredictedDisease),
		Confidence:     result.Confidence,
		ConfidenceText: PercentText(result.Confidence),
		Timestamp:      result.Timestamp,
		Bars:           []Bar{},
	}

	sorted := append(predictor.Probabilities(nil), result.AllProbabilities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value > sorted[j].Value
	})

	kept := sorted[:0:0]
	for _, p := range sorted {
		if p.Value < opts.Threshold && p.Category != result.PredictedDisease {
			chart.Hidden++
			continue
		}
		kept = append(kept, p)
	}

	for i, p := range kept {
		intensity := Intensity(i, len(kept))
		chart.Bars = append(chart.Bars, Bar{
			Rank:           i + 1,
			Category:       p.Category,
			Label:          Label(p.Category),
			ShortLabel:     ShortLabel(Label(p.Category), opts.LabelWidth),
			Probability:    p.Value,
			Percent:        p.Value * 100,
			PercentText:    PercentText(p.Value),
			Intensity:      intensity,
			Color:          Color(opts.PrimaryColor, intensity),
			Primary:        i == 0,
			Predicted:      p.Category == result.PredictedDisease,
			BelowThreshold: p.Value < opts.Threshold,
		})
	}
	chart.Height = ChartHeight(len(chart.Bars), opts)

	if chart.Hidden > 0 {
		chart.Notes = append(chart.Notes, fmt.Sprintf("%d categories below %s not shown", chart.Hidden, PercentText(opts.Threshold)))
	}
	if len(chart.Bars) > 0 && !chart.Bars[0].Predicted {
		chart.Notes = append(chart.Notes, fmt.Sprintf("Predicted category %s is not the most probable one", chart.PredictedLabel))
	}
	if result.PredictedDisease == HealthyCategory {
		chart.Inconclusive = true
		chart.Notes = append(chart.Notes, "No disease pattern matched. This is not a clinical all-clear; consult a healthcare professional if symptoms persist.")
	}
	return chart
}

// Intensity is the visual weight of the bar at index out of total: 1 for the
// top bar, then strictly decreasing from 0.8 toward a floor of 0.2.
func Intensity(index, total int) float64 {
	if index <= 0 || total <= 1 {
		return 1
	}
	return math.Max(0.2, 0.8-float64(index)/float64(total-1)*0.6)
}

// Color renders a #rrggbb base color at the given intensity as CSS rgba.
// An unparseable base falls back to the default primary color.
func Color(hex string, intensity float64) string {
	r, g, b, ok := parseHex(hex)
	if !ok {
		r, g, b, _ = parseHex(DefaultOptions().PrimaryColor)
	}
	return fmt.Sprintf("rgba(%d, %d, %d, %.2f)", r, g, b, intensity)
}

func parseHex(hex string) (r, g, b uint8, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), true
}

// Label turns a category identifier into display text: separators become
// spaces and the result is upper-cased.
func Label(category string) string {
	return strings.ToUpper(strings.NewReplacer("_", " ", "-", " ").Replace(category))
}

// ShortLabel truncates label to width runes followed by "...".
func ShortLabel(label string, width int) string {
	runes := []rune(label)
	if width <= 0 || len(runes) <= width {
		return label
	}
	return string(runes[:width]) + "..."
}

// PercentText formats a probability as a percentage with one decimal.
func PercentText(p float64) string {
	return fmt.Sprintf("%.1f%%", p*100)
}

// ChartHeight sizes the chart for n bars, never below MinHeight.
func ChartHeight(n int, opts Options) int {
	h := n*opts.BarHeight + opts.Padding
	if h < opts.MinHeight {
		return opts.MinHeight
	}
	return h
}
