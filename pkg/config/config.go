// Package config loads the run profile: budgets and loop parameters for the
// orchestrator, bus and sink settings, and artifact locations. Profiles are
// YAML files with environment variable overrides for the deploy-time knobs.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Attestor-Labs/attestor/pkg/events"
	"github.com/Attestor-Labs/attestor/pkg/orchestrator"
)

// Profile is the full configuration surface for one verification run.
type Profile struct {
	Run       RunConfig       `yaml:"run" json:"run"`
	Bus       BusConfig       `yaml:"bus" json:"bus"`
	Audit     AuditConfig     `yaml:"audit" json:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	LogLevel  string          `yaml:"log_level" json:"log_level"`
}

// RunConfig holds orchestration budgets. Durations are milliseconds; zero
// means the orchestrator default.
type RunConfig struct {
	RunID                string  `yaml:"run_id,omitempty" json:"run_id,omitempty"`
	Domain               string  `yaml:"domain" json:"domain"`
	AETimeoutMS          int     `yaml:"ae_timeout_ms" json:"ae_timeout_ms"`
	ProposeTimeoutMS     int     `yaml:"propose_timeout_ms" json:"propose_timeout_ms"`
	VerifyTimeoutMS      int     `yaml:"verify_timeout_ms" json:"verify_timeout_ms"`
	RefineTimeoutMS      int     `yaml:"refine_timeout_ms" json:"refine_timeout_ms"`
	WallClockBudgetMS    int     `yaml:"wall_clock_budget_ms" json:"wall_clock_budget_ms"`
	MaxIterations        int     `yaml:"max_iterations" json:"max_iterations"`
	NoProgressK          int     `yaml:"no_progress_k" json:"no_progress_k"`
	Epsilon              float64 `yaml:"epsilon" json:"epsilon"`
	OscillationThreshold int     `yaml:"oscillation_threshold" json:"oscillation_threshold"`
}

// BusConfig holds event bus and sink settings.
type BusConfig struct {
	BufferSize   int      `yaml:"buffer_size" json:"buffer_size"`
	DropOldest   bool     `yaml:"drop_oldest" json:"drop_oldest"`
	Sinks        []string `yaml:"sinks" json:"sinks"`
	JournalPath  string   `yaml:"journal_path" json:"journal_path"`
	MaxFileBytes int64    `yaml:"max_file_bytes" json:"max_file_bytes"`
}

// AuditConfig holds artifact locations for the audit trail.
type AuditConfig struct {
	// OutputDir is the run artifact directory; journal, records, manifest
	// and metrics land under it.
	OutputDir  string `yaml:"output_dir" json:"output_dir"`
	PCAPDir    string `yaml:"pcap_dir" json:"pcap_dir"`
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
}

// TelemetryConfig holds OTLP tracing settings.
type TelemetryConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Endpoint   string  `yaml:"endpoint" json:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`
	Insecure   bool    `yaml:"insecure" json:"insecure"`
}

// Default returns the profile used when no file is given.
func Default() *Profile {
	return &Profile{
		Run: RunConfig{
			Domain: "demo",
		},
		Bus: BusConfig{
			BufferSize: 1024,
			Sinks:      []string{string(events.SinkMemory), string(events.SinkFile)},
		},
		Audit: AuditConfig{
			OutputDir: "attestor-out",
		},
		Telemetry: TelemetryConfig{
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
		LogLevel: "INFO",
	}
}

// Load reads a profile file and applies environment overrides. An empty path
// loads defaults plus overrides.
func Load(path string) (*Profile, error) {
	p := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read profile %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("config: parse profile %s: %w", path, err)
		}
	}
	p.applyEnv()
	if p.Bus.BufferSize <= 0 {
		return nil, fmt.Errorf("config: bus buffer_size must be positive, got %d", p.Bus.BufferSize)
	}
	return p, nil
}

func (p *Profile) applyEnv() {
	if v := os.Getenv("ATTESTOR_RUN_ID"); v != "" {
		p.Run.RunID = v
	}
	if v := os.Getenv("ATTESTOR_OUTPUT_DIR"); v != "" {
		p.Audit.OutputDir = v
	}
	if v := os.Getenv("ATTESTOR_OTLP_ENDPOINT"); v != "" {
		p.Telemetry.Endpoint = v
		p.Telemetry.Enabled = true
	}
	if v := os.Getenv("ATTESTOR_LOG_LEVEL"); v != "" {
		p.LogLevel = v
	}
	if v := os.Getenv("ATTESTOR_BUS_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Bus.BufferSize = n
		}
	}
}

// OrchestratorConfig converts the run section into orchestrator settings.
func (p *Profile) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		RunID:                p.Run.RunID,
		AETimeout:            time.Duration(p.Run.AETimeoutMS) * time.Millisecond,
		ProposeTimeout:       time.Duration(p.Run.ProposeTimeoutMS) * time.Millisecond,
		VerifyTimeout:        time.Duration(p.Run.VerifyTimeoutMS) * time.Millisecond,
		RefineTimeout:        time.Duration(p.Run.RefineTimeoutMS) * time.Millisecond,
		WallClockBudget:      time.Duration(p.Run.WallClockBudgetMS) * time.Millisecond,
		MaxIterations:        p.Run.MaxIterations,
		NoProgressK:          p.Run.NoProgressK,
		Epsilon:              p.Run.Epsilon,
		OscillationThreshold: p.Run.OscillationThreshold,
		PCAPDir:              p.Audit.PCAPDir,
	}
}

// EventBusConfig converts the bus section into bus settings.
func (p *Profile) EventBusConfig() events.BusConfig {
	kinds := make([]events.SinkKind, 0, len(p.Bus.Sinks))
	for _, s := range p.Bus.Sinks {
		kinds = append(kinds, events.SinkKind(s))
	}
	return events.BusConfig{
		BufferSize:   p.Bus.BufferSize,
		DropOldest:   p.Bus.DropOldest,
		Sinks:        kinds,
		FilePath:     p.Bus.JournalPath,
		MaxFileBytes: p.Bus.MaxFileBytes,
	}
}

// SlogLevel maps the profile log level to a slog level, INFO on unknown.
func (p *Profile) SlogLevel() slog.Level {
	switch p.LogLevel {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "warn", "WARNING", "warning":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
