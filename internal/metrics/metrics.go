// Package metrics holds the prometheus collectors the engine exposes
// (spec.md §4.10 Stage G / SPEC_FULL.md §D.4): a generation-duration
// histogram tagged by input type and outcome, and a duplicate-hit counter
// tagged by probe source. Exposition itself (the /metrics route)
// is left to the caller, the same way the teacher wires promhttp.Handler
// into its own mux rather than owning a server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// InputType tags a generation attempt by its entry point.
type InputType string

const (
	InputURL    InputType = "url"
	InputUpload InputType = "upload"
	InputUser   InputType = "user"
)

var generationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "mineskin",
	Name:      "generation_duration_seconds",
	Help:      "Time spent generating a skin, from request acceptance to catalog insert.",
	Buckets:   prometheus.DefBuckets,
}, []string{"input_type", "outcome"})

var duplicateHits = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mineskin",
	Name:      "duplicate_hits_total",
	Help:      "Duplicate detector hits by probe source.",
}, []string{"source"})

func init() {
	prometheus.MustRegister(generationDuration, duplicateHits)
}

// ObserveGeneration records the wall-clock duration of one generation
// attempt, tagged by input type and outcome ("success", "duplicate", or
// an apperr code such as "SKIN_CHANGE_FAILED").
func ObserveGeneration(inputType InputType, outcome string, seconds float64) {
	generationDuration.WithLabelValues(string(inputType), outcome).Observe(seconds)
}

// CountDuplicateHit increments the duplicate-probe counter for source.
func CountDuplicateHit(source string) {
	duplicateHits.WithLabelValues(source).Inc()
}
