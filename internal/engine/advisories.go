package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/prohosp/flow-monitor/internal/derive"
	"github.com/prohosp/flow-monitor/internal/models"
	"github.com/prohosp/flow-monitor/internal/store"
	"github.com/prohosp/flow-monitor/internal/trend"
)

// Advisory is an operational recommendation derived from the current state.
type Advisory struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Recommendation string        `json:"recommendation"`
	Tone           derive.Status `json:"tone"`
}

// AdvisoryRule pairs match criteria with the advisory emitted when they hold.
type AdvisoryRule struct {
	ID             string        `yaml:"id"`
	Title          string        `yaml:"title"`
	Recommendation string        `yaml:"recommendation"`
	Tone           derive.Status `yaml:"tone"`
	Match          AdvisoryMatch `yaml:"match"`
}

// AdvisoryMatch lists optional criteria. Every criterion set must hold.
type AdvisoryMatch struct {
	Risk              *int     `yaml:"risk"`
	Severity          []string `yaml:"severity"`
	ConfidenceBelow   *float64 `yaml:"confidence_below"`
	ConfidenceAtLeast *float64 `yaml:"confidence_at_least"`
	MinStayDays       *int     `yaml:"min_stay_days"`
	OnError           bool     `yaml:"on_error"`

	// ConfidenceDropSigma matches when the newest history sample sits this
	// many standard deviations below the rest of the window.
	ConfidenceDropSigma *float64 `yaml:"confidence_drop_sigma"`
}

func (m AdvisoryMatch) empty() bool {
	return m.Risk == nil && len(m.Severity) == 0 && m.ConfidenceBelow == nil &&
		m.ConfidenceAtLeast == nil && m.MinStayDays == nil && !m.OnError && m.ConfidenceDropSigma == nil
}

// AdvisoryFile is the YAML root structure.
type AdvisoryFile struct {
	Rules []AdvisoryRule `yaml:"rules"`
}

// AdvisoryEngine evaluates a rule pack against the current summary state.
type AdvisoryEngine struct {
	rules  []AdvisoryRule
	logger *slog.Logger
}

// DefaultAdvisoryRules is the built-in pack used when no file is configured.
func DefaultAdvisoryRules() []AdvisoryRule {
	highRisk := 1
	lowRisk := 0
	longStay := 7
	threshold := derive.ConfidenceOKThreshold
	dropSigma := trend.DefaultThreshold

	return []AdvisoryRule{
		{
			ID:             "bed-block-risk",
			Title:          "URGENTE: Riesgo de bloqueo de cama",
			Recommendation: "Activar gestión de altas y reservar cama de contingencia.",
			Tone:           derive.StatusDanger,
			Match:          AdvisoryMatch{Risk: &highRisk},
		},
		{
			ID:             "long-stay",
			Title:          "AVISO: Estancia prolongada estimada",
			Recommendation: "Coordinar con trabajo social y planificar el alta desde el ingreso.",
			Tone:           derive.StatusWarn,
			Match:          AdvisoryMatch{MinStayDays: &longStay},
		},
		{
			ID:             "low-confidence",
			Title:          "AVISO: Confianza del modelo baja",
			Recommendation: "Validar la estimación con el criterio clínico del equipo.",
			Tone:           derive.StatusWarn,
			Match:          AdvisoryMatch{ConfidenceBelow: &threshold},
		},
		{
			ID:             "confidence-drop",
			Title:          "AVISO: Caída brusca de confianza",
			Recommendation: "Revisar los datos de entrada del último ingreso.",
			Tone:           derive.StatusWarn,
			Match:          AdvisoryMatch{ConfidenceDropSigma: &dropSigma},
		},
		{
			ID:             "stale-data",
			Title:          "AVISO: Datos sin actualizar",
			Recommendation: "Revisar la conexión con el servicio de predicción.",
			Tone:           derive.StatusWarn,
			Match:          AdvisoryMatch{OnError: true},
		},
		{
			ID:             "stable-flow",
			Title:          "OK: Flujo de pacientes estable",
			Recommendation: "Sin acciones sugeridas por el sistema.",
			Tone:           derive.StatusOK,
			Match:          AdvisoryMatch{Risk: &lowRisk, ConfidenceAtLeast: &threshold},
		},
	}
}

// NewAdvisoryEngine loads rules from path. An empty path or a missing file
// falls back to DefaultAdvisoryRules.
func NewAdvisoryEngine(path string, logger *slog.Logger) (*AdvisoryEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return &AdvisoryEngine{rules: DefaultAdvisoryRules(), logger: logger}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("advisory rule pack not found, using built-in rules", slog.String("path", path))
			return &AdvisoryEngine{rules: DefaultAdvisoryRules(), logger: logger}, nil
		}
		return nil, err
	}

	rules, err := ParseAdvisoryRules(data)
	if err != nil {
		return nil, fmt.Errorf("advisory rules %s: %w", path, err)
	}
	logger.Info("advisory rule pack loaded", slog.String("path", path), slog.Int("rules", len(rules)))
	return &AdvisoryEngine{rules: rules, logger: logger}, nil
}

// ParseAdvisoryRules decodes and validates a YAML rule pack.
func ParseAdvisoryRules(data []byte) ([]AdvisoryRule, error) {
	var file AdvisoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	for i, rule := range file.Rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d: missing id", i)
		}
		if rule.Match.empty() {
			return nil, fmt.Errorf("rule %s: no match criteria", rule.ID)
		}
		switch rule.Tone {
		case derive.StatusOK, derive.StatusWarn, derive.StatusDanger, derive.StatusNeutral:
		case "":
			file.Rules[i].Tone = derive.StatusNeutral
		default:
			return nil, fmt.Errorf("rule %s: unknown tone %q", rule.ID, rule.Tone)
		}
	}
	return file.Rules, nil
}

// Rules returns a copy of the loaded rules.
func (a *AdvisoryEngine) Rules() []AdvisoryRule {
	if a == nil {
		return nil
	}
	out := make([]AdvisoryRule, len(a.rules))
	copy(out, a.rules)
	return out
}

// Evaluate returns the advisories whose rules match state and the
// confidence series, in rule order.
func (a *AdvisoryEngine) Evaluate(state store.State, series []models.HistorySample) []Advisory {
	if a == nil {
		return nil
	}

	matched := make([]Advisory, 0)
	seen := make(map[string]struct{}, len(a.rules))
	for _, rule := range a.rules {
		if _, ok := seen[rule.ID]; ok {
			continue
		}
		if !rule.Match.matches(state, series) {
			continue
		}
		seen[rule.ID] = struct{}{}
		matched = append(matched, Advisory{
			ID:             rule.ID,
			Title:          rule.Title,
			Recommendation: rule.Recommendation,
			Tone:           rule.Tone,
		})
	}
	return matched
}

func (m AdvisoryMatch) matches(state store.State, series []models.HistorySample) bool {
	if m.empty() {
		return false
	}
	if m.OnError && state.Error == "" {
		return false
	}

	out := state.Summary.LastOutput
	if m.Risk != nil && (out == nil || out.NivelRiesgo == nil || *out.NivelRiesgo != *m.Risk) {
		return false
	}
	if m.MinStayDays != nil && (out == nil || out.DiasEstimados == nil || *out.DiasEstimados < *m.MinStayDays) {
		return false
	}

	confidence, hasConfidence := state.Summary.Confidence()
	if m.ConfidenceBelow != nil && (!hasConfidence || confidence >= *m.ConfidenceBelow) {
		return false
	}
	if m.ConfidenceAtLeast != nil && (!hasConfidence || confidence < *m.ConfidenceAtLeast) {
		return false
	}

	if len(m.Severity) > 0 && !severityIn(state.Summary.IllnessSeverity(), m.Severity) {
		return false
	}
	if m.ConfidenceDropSigma != nil {
		if _, dropped := trend.LatestDrop(series, *m.ConfidenceDropSigma); !dropped {
			return false
		}
	}
	return true
}

func severityIn(severity string, allowed []string) bool {
	if severity == "" {
		return false
	}
	for _, s := range allowed {
		if strings.EqualFold(severity, s) {
			return true
		}
	}
	return false
}
