// Package events provides the lifecycle event model, the in-process event
// bus, and the sinks that persist the event journal.
package events

import "time"

// Level is the severity of an event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Well-known event types published by the orchestration pipeline.
const (
	TypeOrchestratorStart = "Orchestrator.Start"
	TypeOrchestratorEnd   = "Orchestrator.End"
	TypeAEStep            = "AE.Step"
	TypeCEGISIterStart    = "CEGIS.Iter.Start"
	TypeCEGISIterEnd      = "CEGIS.Iter.End"
	TypeIncident          = "Incident"
	TypeBudgetOverrun     = "Budget.Overrun"
	TypeMetricsSnapshot   = "Metrics.Snapshot"
)

// Event is one immutable lifecycle fact. Seq is assigned by the bus at
// admission and is strictly increasing across the bus's lifetime regardless
// of which producer published.
type Event struct {
	Type      string         `json:"type"`
	Seq       uint64         `json:"seq"`
	Timestamp float64        `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Level     Level          `json:"level"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
