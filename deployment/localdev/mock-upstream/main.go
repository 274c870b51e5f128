package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/prohosp/flow-monitor/internal/models"
	"github.com/prohosp/flow-monitor/internal/prediction"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	flag.Parse()

	logger := log.New(log.Writer(), "upstream-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, newMux(prediction.NewLedger(nil))),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func newMux(ledger *prediction.Ledger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "Online",
			"modules": map[string]string{
				"hospital_ai":      "Inactive (DEMO fallback)",
				"environmental_ai": "Inactive",
			},
		})
	})

	mux.HandleFunc("GET /dashboard_summary", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, ledger.Summary())
	})

	mux.HandleFunc("POST /predict_hospital", func(w http.ResponseWriter, r *http.Request) {
		input, ok := decodePatient(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, prediction.DemoRules(input))
	})

	mux.HandleFunc("POST /ingest_hospital", func(w http.ResponseWriter, r *http.Request) {
		input, ok := decodePatient(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, ledger.Ingest(input))
	})
	return mux
}

func decodePatient(w http.ResponseWriter, r *http.Request) (models.PatientInput, bool) {
	var raw map[string]json.RawMessage
	body := http.MaxBytesReader(w, r.Body, 1<<20)
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "cuerpo ilegible"})
		return models.PatientInput{}, false
	}
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "JSON inválido"})
		return models.PatientInput{}, false
	}
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "campo requerido: " + field})
			return models.PatientInput{}, false
		}
	}

	var input models.PatientInput
	if err := json.Unmarshal(buf.Bytes(), &input); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "tipo inválido: " + err.Error()})
		return models.PatientInput{}, false
	}
	return input, true
}

var requiredFields = []string{
	"Hospital_type", "Hospital_city", "Hospital_region", "Available_Extra_Rooms_in_Hospital",
	"Bed_Grade", "Patient_Visitors", "City_Code_Patient", "Admission_Deposit", "Department",
	"Ward_Type", "Ward_Facility", "Type_of_Admission", "Illness_Severity", "Age",
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
