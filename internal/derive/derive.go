// Package derive maps a Summary onto display-ready classifications. Every
// function is pure; results are recomputed on each read and never cached.
package derive

import (
	"fmt"
	"math"
	"time"

	"github.com/prohosp/flow-monitor/internal/models"
	"github.com/prohosp/flow-monitor/internal/utils"
)

// Placeholder is shown wherever a value is absent.
const Placeholder = "—"

// ConfidenceOKThreshold is the minimum confidence rendered with StatusOK.
const ConfidenceOKThreshold = 80.0

// Status is the visual tone of a classification.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarn    Status = "warn"
	StatusDanger  Status = "danger"
	StatusNeutral Status = "neutral"
)

// Classification pairs a label with its tone.
type Classification struct {
	Label  string `json:"label"`
	Status Status `json:"status"`
}

// Ratio is a two-slice proportion for a doughnut chart. Slices sum to 100.
type Ratio struct {
	Primary   float64 `json:"primary"`
	Remainder float64 `json:"remainder"`
}

var severityLabels = map[string]string{
	"Severe":   "ALTA",
	"Moderate": "MEDIA",
	"Minor":    "BAJA",
}

var labelTones = map[string]Status{
	"ALTA":  StatusDanger,
	"ALTO":  StatusDanger,
	"MEDIA": StatusWarn,
	"MEDIO": StatusWarn,
	"BAJA":  StatusOK,
	"BAJO":  StatusOK,
}

// RiskLabel classifies the binary bed-block risk flag.
func RiskLabel(nivelRiesgo *int) Classification {
	if nivelRiesgo != nil {
		switch *nivelRiesgo {
		case 1:
			return Classification{Label: "ALTO", Status: StatusDanger}
		case 0:
			return Classification{Label: "BAJO", Status: StatusOK}
		}
	}
	return Classification{Label: Placeholder, Status: StatusWarn}
}

// SeverityLabel translates an Illness_Severity value; unknown input yields Placeholder.
func SeverityLabel(illnessSeverity string) string {
	if label, ok := severityLabels[illnessSeverity]; ok {
		return label
	}
	return Placeholder
}

// ConfidenceStatus returns ok at or above the threshold and warn below it.
// The boolean is false when confidence is absent or not finite.
func ConfidenceStatus(confianza *float64) (Status, bool) {
	if !finite(confianza) {
		return "", false
	}
	if *confianza >= ConfidenceOKThreshold {
		return StatusOK, true
	}
	return StatusWarn, true
}

// RiskRatio splits the risk doughnut: no-risk share first.
func RiskRatio(nivelRiesgo *int) Ratio {
	if nivelRiesgo != nil {
		switch *nivelRiesgo {
		case 1:
			return Ratio{Primary: 0, Remainder: 100}
		case 0:
			return Ratio{Primary: 100, Remainder: 0}
		}
	}
	return Ratio{Primary: 50, Remainder: 50}
}

// ConfidenceRatio clamps confidence to [0, 100]; absent counts as 0.
func ConfidenceRatio(confianza *float64) Ratio {
	v := 0.0
	if finite(confianza) {
		v = math.Min(100, math.Max(0, *confianza))
	}
	return Ratio{Primary: v, Remainder: 100 - v}
}

// Tone maps a badge label onto its status colour.
func Tone(label string) Status {
	if s, ok := labelTones[label]; ok {
		return s
	}
	return StatusNeutral
}

// Dashboard is the full set of derived values for one Summary.
type Dashboard struct {
	Risk             Classification `json:"risk"`
	Severity         Classification `json:"severity"`
	Confidence       string         `json:"confidence"`
	ConfidenceStatus Status         `json:"confidence_status,omitempty"`
	EstimatedStay    string         `json:"estimated_stay"`
	Alert            string         `json:"alert"`
	ClinicalNote     string         `json:"clinical_note"`
	Mode             string         `json:"mode"`
	RiskRatio        Ratio          `json:"risk_ratio"`
	ConfidenceRatio  Ratio          `json:"confidence_ratio"`
	UpdatedAgo       string         `json:"updated_ago"`
}

// Compute derives every dashboard value from s as of now.
func Compute(s models.Summary, now time.Time) Dashboard {
	out := models.Output{}
	if s.LastOutput != nil {
		out = *s.LastOutput
	}

	severity := SeverityLabel(s.IllnessSeverity())
	d := Dashboard{
		Risk:            RiskLabel(out.NivelRiesgo),
		Severity:        Classification{Label: severity, Status: Tone(severity)},
		Confidence:      Placeholder,
		EstimatedStay:   Placeholder,
		Alert:           textOr(out.AlertaGestion),
		ClinicalNote:    textOr(out.MensajeClinico),
		Mode:            textOr(out.Modo),
		RiskRatio:       RiskRatio(out.NivelRiesgo),
		ConfidenceRatio: ConfidenceRatio(out.ConfianzaModelo),
		UpdatedAgo:      Placeholder,
	}
	if status, ok := ConfidenceStatus(out.ConfianzaModelo); ok {
		d.ConfidenceStatus = status
		d.Confidence = fmt.Sprintf("%.1f%%", *out.ConfianzaModelo)
	}
	if out.DiasEstimados != nil {
		unit := "días"
		if *out.DiasEstimados == 1 {
			unit = "día"
		}
		d.EstimatedStay = fmt.Sprintf("%d %s", *out.DiasEstimados, unit)
	}
	if s.UpdatedAt != nil {
		if ts, err := utils.ParseUpdatedAt(*s.UpdatedAt, now.Location()); err == nil {
			d.UpdatedAgo = utils.Ago(ts, now)
		}
	}
	return d
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

func textOr(v *string) string {
	if v == nil || *v == "" {
		return Placeholder
	}
	return *v
}
