package models

import (
	"encoding/json"
	"math"
)

// Summary is the latest prediction snapshot reported by the prediction service.
// Absent fields stay nil; a structurally incomplete payload is never an error.
type Summary struct {
	LastInput  map[string]any `json:"last_input"`
	LastOutput *Output        `json:"last_output"`
	UpdatedAt  *string        `json:"updated_at"`
}

// Output is the prediction result attached to a Summary.
type Output struct {
	DiasEstimados   *int     `json:"dias_estimados,omitempty"`
	NivelRiesgo     *int     `json:"nivel_riesgo,omitempty"`
	AlertaGestion   *string  `json:"alerta_gestion,omitempty"`
	ConfianzaModelo *float64 `json:"confianza_modelo,omitempty"`
	MensajeClinico  *string  `json:"mensaje_clinico,omitempty"`
	Modo            *string  `json:"modo,omitempty"`
}

// HistorySample is one confidence observation kept for trend display.
type HistorySample struct {
	Label      string  `json:"timestamp_label"`
	Confidence float64 `json:"confidence"`
}

// UnmarshalJSON accepts any well-formed JSON document. Fields with the wrong
// shape are treated as absent instead of failing the whole decode.
func (s *Summary) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Summary{}
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	if input, ok := fields["last_input"].(map[string]any); ok {
		s.LastInput = input
	}
	if output, ok := fields["last_output"].(map[string]any); ok {
		s.LastOutput = outputFromMap(output)
	}
	s.UpdatedAt = stringField(fields, "updated_at")
	return nil
}

// UnmarshalJSON decodes an Output leniently, see Summary.UnmarshalJSON.
func (o *Output) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = Output{}
	if fields, ok := raw.(map[string]any); ok {
		*o = *outputFromMap(fields)
	}
	return nil
}

func outputFromMap(fields map[string]any) *Output {
	out := &Output{
		AlertaGestion:  stringField(fields, "alerta_gestion"),
		MensajeClinico: stringField(fields, "mensaje_clinico"),
		Modo:           stringField(fields, "modo"),
	}
	if days, ok := integralField(fields, "dias_estimados"); ok && days >= 0 {
		out.DiasEstimados = &days
	}
	if risk, ok := integralField(fields, "nivel_riesgo"); ok {
		out.NivelRiesgo = &risk
	}
	if v, ok := fields["confianza_modelo"].(float64); ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
		out.ConfianzaModelo = &v
	}
	return out
}

func stringField(fields map[string]any, key string) *string {
	if v, ok := fields[key].(string); ok {
		return &v
	}
	return nil
}

func integralField(fields map[string]any, key string) (int, bool) {
	v, ok := fields[key].(float64)
	if !ok || v != math.Trunc(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return int(v), true
}

// Confidence returns the model confidence when it is present and finite.
func (s Summary) Confidence() (float64, bool) {
	if s.LastOutput == nil || s.LastOutput.ConfianzaModelo == nil {
		return 0, false
	}
	v := *s.LastOutput.ConfianzaModelo
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// IllnessSeverity returns last_input["Illness_Severity"] when it is a string.
func (s Summary) IllnessSeverity() string {
	if s.LastInput == nil {
		return ""
	}
	v, _ := s.LastInput["Illness_Severity"].(string)
	return v
}

// Clone returns a deep copy so readers cannot alias store-owned state.
func (s Summary) Clone() Summary {
	out := Summary{UpdatedAt: cloneString(s.UpdatedAt)}
	if s.LastInput != nil {
		out.LastInput = make(map[string]any, len(s.LastInput))
		for k, v := range s.LastInput {
			out.LastInput[k] = v
		}
	}
	if s.LastOutput != nil {
		o := *s.LastOutput
		o.DiasEstimados = cloneInt(o.DiasEstimados)
		o.NivelRiesgo = cloneInt(o.NivelRiesgo)
		o.AlertaGestion = cloneString(o.AlertaGestion)
		o.ConfianzaModelo = cloneFloat(o.ConfianzaModelo)
		o.MensajeClinico = cloneString(o.MensajeClinico)
		o.Modo = cloneString(o.Modo)
		out.LastOutput = &o
	}
	return out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
