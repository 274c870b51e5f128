// Package charts renders dashboard series and proportions as PNG images.
package charts

import (
	"fmt"
	"io"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/prohosp/flow-monitor/internal/derive"
	"github.com/prohosp/flow-monitor/internal/models"
)

const (
	DefaultWidth  = 720
	DefaultHeight = 320
	ratioSize     = 320
)

var (
	colorPrimary   = drawing.Color{R: 94, G: 199, B: 255, A: 255}
	colorRemainder = drawing.Color{R: 203, G: 213, B: 225, A: 255}
)

// ConfidenceTrend draws the confidence window as a line over sample labels.
func ConfidenceTrend(w io.Writer, series []models.HistorySample) error {
	if len(series) == 0 {
		series = []models.HistorySample{{Label: "--"}}
	}

	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	ticks := make([]chart.Tick, len(series))
	for i, sample := range series {
		x := float64(i + 1)
		xs[i] = x
		ys[i] = sample.Confidence
		ticks[i] = chart.Tick{Value: x, Label: sample.Label}
	}

	ch := chart.Chart{
		Title:      "Confianza del modelo (%)",
		Width:      DefaultWidth,
		Height:     DefaultHeight,
		Background: chart.Style{Padding: chart.Box{Top: 24, Left: 16, Right: 16, Bottom: 28}},
		XAxis: chart.XAxis{
			Range: &chart.ContinuousRange{Min: 0.5, Max: float64(len(series)) + 0.5},
			Ticks: ticks,
		},
		YAxis: chart.YAxis{
			Name:  "%",
			Range: &chart.ContinuousRange{Min: 0, Max: 100},
			Ticks: []chart.Tick{{Value: 0, Label: "0"}, {Value: 25, Label: "25"}, {Value: 50, Label: "50"}, {Value: 75, Label: "75"}, {Value: 100, Label: "100"}},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Confianza",
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeColor: colorPrimary,
					StrokeWidth: 2,
					DotColor:    colorPrimary,
					DotWidth:    4,
				},
			},
		},
	}
	if err := ch.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render confidence trend: %w", err)
	}
	return nil
}

// RiskDistribution draws the risk ratio as a two-slice pie.
func RiskDistribution(w io.Writer, ratio derive.Ratio) error {
	return renderRatio(w, "Riesgo de bloqueo", ratio, "Flujo libre", "Bloqueo")
}

// ConfidenceDistribution draws the confidence ratio as a two-slice pie.
func ConfidenceDistribution(w io.Writer, ratio derive.Ratio) error {
	return renderRatio(w, "Confianza", ratio, "Confianza", "Incertidumbre")
}

func renderRatio(w io.Writer, title string, ratio derive.Ratio, primaryLabel, remainderLabel string) error {
	values := make([]chart.Value, 0, 2)
	// Zero-width slices cannot be drawn.
	if ratio.Primary > 0 {
		values = append(values, chart.Value{
			Label: fmt.Sprintf("%s %.0f%%", primaryLabel, ratio.Primary),
			Value: ratio.Primary,
			Style: chart.Style{FillColor: colorPrimary},
		})
	}
	if ratio.Remainder > 0 {
		values = append(values, chart.Value{
			Label: fmt.Sprintf("%s %.0f%%", remainderLabel, ratio.Remainder),
			Value: ratio.Remainder,
			Style: chart.Style{FillColor: colorRemainder},
		})
	}
	if len(values) == 0 {
		values = append(values, chart.Value{Label: remainderLabel, Value: 1, Style: chart.Style{FillColor: colorRemainder}})
	}

	pie := chart.PieChart{
		Title:  title,
		Width:  ratioSize,
		Height: ratioSize,
		Values: values,
	}
	if err := pie.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render %s ratio: %w", title, err)
	}
	return nil
}
