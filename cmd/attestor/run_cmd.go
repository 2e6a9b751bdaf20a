package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Attestor-Labs/attestor/pkg/audit"
	"github.com/Attestor-Labs/attestor/pkg/config"
	"github.com/Attestor-Labs/attestor/pkg/engine"
	"github.com/Attestor-Labs/attestor/pkg/events"
	"github.com/Attestor-Labs/attestor/pkg/journal"
	"github.com/Attestor-Labs/attestor/pkg/observability"
	"github.com/Attestor-Labs/attestor/pkg/orchestrator"
)

func runRunCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profilePath := fs.String("profile", "", "profile YAML path (defaults apply when empty)")
	outDir := fs.String("out", "", "override the artifact output directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*profilePath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if *outDir != "" {
		cfg.Audit.OutputDir = *outDir
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	out := cfg.Audit.OutputDir
	if err := os.MkdirAll(out, 0o755); err != nil {
		fmt.Fprintln(stderr, "create output dir:", err)
		return 1
	}
	if cfg.Bus.JournalPath == "" {
		cfg.Bus.JournalPath = filepath.Join(out, "journal.jsonl")
	}
	if cfg.Audit.PCAPDir == "" {
		cfg.Audit.PCAPDir = filepath.Join(out, "pcaps")
	}
	if cfg.Audit.SQLitePath == "" {
		cfg.Audit.SQLitePath = filepath.Join(out, "journal.db")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := observability.New(ctx, &observability.Config{
		ServiceName:    "attestor",
		ServiceVersion: "0.1.0",
		Environment:    "local",
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer provider.Shutdown(context.Background())

	bus, err := events.NewBus(cfg.EventBusConfig())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	store, err := journal.Open(cfg.Audit.SQLitePath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	bus.AttachSink(journal.NewSink(store))

	spec := engine.DomainSpec{
		Name:       cfg.Run.Domain,
		Attributes: []string{"idempotent", "commutative", "bounded"},
	}
	o, err := orchestrator.New(cfg.OrchestratorConfig(), bus,
		newDemoExploration(), newDemoSynthesis(2), spec,
		orchestrator.WithTracer(provider.Tracer()))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	result, runErr := o.Run(ctx)

	// The run is over; everything from here on is artifact packaging.
	if err := store.Close(); err != nil {
		slog.Warn("close journal store", "error", err)
	}

	metricsPath := filepath.Join(out, "metrics.json")
	if err := result.Metrics.WriteFile(metricsPath); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	root, err := writeManifest(out, result.RunID, cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	fmt.Fprintf(stdout, "run %s finished\n", result.RunID)
	fmt.Fprintf(stdout, "  accepted:    %v\n", result.Completed)
	fmt.Fprintf(stdout, "  proposals:   %d\n", result.Metrics.CEGIS.Proposals)
	fmt.Fprintf(stdout, "  incidents:   %d\n", len(result.Metrics.Global.IncidentsCount))
	fmt.Fprintf(stdout, "  merkle root: %s\n", root)
	fmt.Fprintf(stdout, "  artifacts:   %s\n", out)

	if runErr != nil {
		fmt.Fprintln(stderr, "run failed:", runErr)
		return 1
	}
	return 0
}

// writeManifest packages everything the run produced into a Merkle-rooted
// manifest next to the artifacts.
func writeManifest(out, runID string, cfg *config.Profile) (string, error) {
	m := audit.NewManifest(runID)

	for _, p := range []string{cfg.Bus.JournalPath, filepath.Join(out, "metrics.json"), cfg.Audit.SQLitePath} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		rel, err := filepath.Rel(out, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = filepath.Base(p)
		}
		if err := m.AddFileFromDisk(filepath.ToSlash(rel), p); err != nil {
			return "", err
		}
	}

	records, err := filepath.Glob(filepath.Join(cfg.Audit.PCAPDir, "pcap_*.json"))
	if err != nil {
		return "", err
	}
	for _, p := range records {
		if err := m.AddFileFromDisk("pcaps/"+filepath.Base(p), p); err != nil {
			return "", err
		}
	}

	root, err := m.CalculateMerkleRoot()
	if err != nil {
		return "", err
	}
	if err := m.WriteFile(filepath.Join(out, "manifest.json")); err != nil {
		return "", err
	}
	return root, nil
}
