package ranking

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// shade picks a block character so rank stays legible without color.
func shade(intensity float64) string {
	switch {
	case intensity >= 0.9:
		return "█"
	case intensity >= 0.6:
		return "▓"
	case intensity >= 0.4:
		return "▒"
	default:
		return "░"
	}
}

// RenderText draws chart as a terminal bar chart with bars up to width cells.
func RenderText(w io.Writer, chart Chart, width int) error {
	if width <= 0 {
		width = 40
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Predicted: %s (%s confidence)\n", chart.PredictedLabel, chart.ConfidenceText)
	if ts, err := time.Parse("2006-01-02T15:04:05.999999999", chart.Timestamp); err == nil {
		fmt.Fprintf(&b, "Analyzed:  %s\n", ts.Local().Format("2006-01-02 15:04:05"))
	} else if t, err := time.Parse(time.RFC3339Nano, chart.Timestamp); err == nil {
		fmt.Fprintf(&b, "Analyzed:  %s\n", t.Local().Format("2006-01-02 15:04:05"))
	}
	b.WriteString("\n")

	labelWidth := 0
	for _, bar := range chart.Bars {
		if n := len([]rune(bar.ShortLabel)); n > labelWidth {
			labelWidth = n
		}
	}

	for _, bar := range chart.Bars {
		cells := int(math.Round(bar.Probability * float64(width)))
		if cells == 0 && bar.Probability > 0 {
			cells = 1
		}
		if cells > width {
			cells = width
		}
		marker := ""
		if bar.Predicted {
			marker = " ◀"
		}
		pad := labelWidth - len([]rune(bar.ShortLabel))
		fmt.Fprintf(&b, "%s%s  %s%s %6s%s\n",
			bar.ShortLabel, strings.Repeat(" ", pad),
			strings.Repeat(shade(bar.Intensity), cells), strings.Repeat(" ", width-cells),
			bar.PercentText, marker)
	}

	for _, note := range chart.Notes {
		fmt.Fprintf(&b, "\nNote: %s", note)
	}
	if len(chart.Notes) > 0 {
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}
