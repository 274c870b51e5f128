package prediction

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/prohosp/flow-monitor/internal/models"
)

const (
	// ModeML marks outputs produced by the trained models.
	ModeML = "ML"
	// ModeDemoRules marks outputs produced by the rule heuristic.
	ModeDemoRules = "DEMO_RULES"

	// UpdatedAtLayout matches the naive ISO timestamps the prediction service emits.
	UpdatedAtLayout = "2006-01-02T15:04:05.000000"
)

var ambulatoryDepartments = map[string]struct{}{
	"radiotherapy": {},
	"anesthesia":   {},
}

// DemoRules estimates stay length and bed-block risk without a trained model.
// Ambulatory departments with minor severity are fast-tracked; everything
// else is scored from severity, room availability, visitors, deposit and
// bed grade.
func DemoRules(in models.PatientInput) models.Output {
	severity := in.IllnessSeverity
	if severity == "" {
		severity = "Minor"
	}
	_, ambulatory := ambulatoryDepartments[strings.ToLower(in.Department)]

	if ambulatory && severity == "Minor" {
		return newOutput(1, 0, 98.5,
			"🟢 FLUJO EFICIENTE (DEMO Fast-Track)",
			"Paciente ambulatorio leve. Alta rápida sugerida (regla demo).",
		)
	}

	score := Score(in.AvailableExtraRoomsInHospital, in.PatientVisitors, in.AdmissionDeposit, in.BedGrade, severity)
	days := 2 + score/2
	risk := 0
	if score >= 6 || days >= 7 {
		risk = 1
	}

	alert := "🟢 FLUJO NORMAL (DEMO)"
	outlook := "Flujo estable."
	if risk == 1 {
		alert = "🔴 ALERTA DE BLOQUEO (DEMO)"
		outlook = "Posible bloqueo, planificar camas."
	}
	confidence := 72.0 + math.Min(25, float64(score)*3)
	message := fmt.Sprintf("Estimación por reglas demo: score=%d. Estancia ~%d días. %s", score, days, outlook)

	return newOutput(days, risk, math.Round(confidence*10)/10, alert, message)
}

// Score sums the demo risk points for one admission.
func Score(extraRooms, visitors int, deposit, bedGrade float64, severity string) int {
	score := 0
	switch severity {
	case "Moderate":
		score += 2
	case "Severe":
		score += 4
	}
	if extraRooms <= 1 {
		score += 3
	}
	if visitors >= 4 {
		score++
	}
	if deposit >= 8000 {
		score += 2
	}
	if bedGrade >= 3.5 {
		score++
	}
	return score
}

func newOutput(days, risk int, confidence float64, alert, message string) models.Output {
	mode := ModeDemoRules
	return models.Output{
		DiasEstimados:   &days,
		NivelRiesgo:     &risk,
		AlertaGestion:   &alert,
		ConfianzaModelo: &confidence,
		MensajeClinico:  &message,
		Modo:            &mode,
	}
}

// Ledger keeps the most recent ingested prediction, as served by the
// dashboard summary endpoint.
type Ledger struct {
	mu      sync.RWMutex
	summary models.Summary
	now     func() time.Time
}

// NewLedger returns an empty ledger; its summary serialises as all-null.
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

// Ingest predicts for in and records input, output and timestamp.
func (l *Ledger) Ingest(in models.PatientInput) models.Output {
	out := DemoRules(in)
	stamp := l.now().Format(UpdatedAtLayout)

	l.mu.Lock()
	defer l.mu.Unlock()
	result := out
	l.summary = models.Summary{
		LastInput:  in.Fields(),
		LastOutput: &result,
		UpdatedAt:  &stamp,
	}
	return out
}

// Summary returns a copy of the last ingested prediction.
func (l *Ledger) Summary() models.Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.summary.Clone()
}
