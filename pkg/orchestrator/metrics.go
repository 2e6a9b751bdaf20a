package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
)

// AEMetrics summarizes the exploration phase.
type AEMetrics struct {
	ConceptsVisited int     `json:"concepts_visited"`
	Steps           int     `json:"steps"`
	AvgStepMS       float64 `json:"avg_step_ms"`
}

// CEGISMetrics summarizes the synthesis loop.
type CEGISMetrics struct {
	Proposals       int     `json:"proposals"`
	Accepts         int     `json:"accepts"`
	PatchAcceptRate float64 `json:"patch_accept_rate"`
	CEFoundCount    int     `json:"ce_found_count"`
	VerifyCalls     int     `json:"verify_calls"`
	MeanVerifyMS    float64 `json:"mean_verify_ms"`
	Retries         int     `json:"retries"`
}

// GlobalMetrics holds run-wide counters.
type GlobalMetrics struct {
	IncidentsCount map[string]int `json:"incidents_count"`
	PCAPCount      int            `json:"pcap_count"`
}

// Metrics is the run metrics document written at run end.
type Metrics struct {
	AE     AEMetrics     `json:"ae"`
	CEGIS  CEGISMetrics  `json:"cegis"`
	Global GlobalMetrics `json:"global"`
}

func newMetrics() Metrics {
	return Metrics{Global: GlobalMetrics{IncidentsCount: make(map[string]int)}}
}

func (m *Metrics) incident(code string) {
	m.Global.IncidentsCount[code]++
}

// WriteFile persists the metrics document as JSON.
func (m *Metrics) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("orchestrator: marshal metrics: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("orchestrator: write metrics: %w", err)
	}
	return nil
}

// runningMean folds a new sample into a running mean: the n-th call returns
// the mean of the first n samples.
func runningMean(mean float64, n int, sample float64) float64 {
	return mean + (sample-mean)/float64(n)
}
