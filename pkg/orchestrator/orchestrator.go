// Package orchestrator drives one audited verification run: a single
// attribute-exploration step followed by a bounded propose/verify/refine
// synthesis loop, with per-call deadlines, a whole-run wall-clock budget,
// plateau and oscillation detection, and an event published for every
// transition.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Attestor-Labs/attestor/pkg/canonical"
	"github.com/Attestor-Labs/attestor/pkg/engine"
	"github.com/Attestor-Labs/attestor/pkg/events"
	"github.com/Attestor-Labs/attestor/pkg/pcap"
)

// TimeoutError reports a single deadlined call exceeding its budget.
// Recoverable for CEGIS calls (the loop stops with partial metrics), fatal
// for the AE phase.
type TimeoutError struct {
	Phase  string
	Call   string
	Budget time.Duration
	err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("orchestrator: %s %s exceeded %s budget", e.Phase, e.Call, e.Budget)
}

func (e *TimeoutError) Unwrap() error { return e.err }

// RunResult is what a run yields. A run that hit its budget or an incident
// still returns partial metrics; only engine breakage or an AE overrun also
// returns an error.
type RunResult struct {
	RunID          string
	TraceID        string
	Completed      bool
	Accepted       *engine.Candidate
	Metrics        Metrics
	ProgressSeries []float64
}

// Option tunes an Orchestrator.
type Option func(*Orchestrator)

// WithTracer sets the OpenTelemetry tracer for phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// Orchestrator owns one run at a time. Each run gets its own bus instance;
// no state is shared between concurrent orchestrators.
type Orchestrator struct {
	cfg         Config
	bus         *events.Bus
	exploration engine.Exploration
	synthesis   engine.Synthesis
	spec        engine.DomainSpec

	pcaps  *pcap.Writer
	tracer trace.Tracer
	log    *slog.Logger
	clock  func() time.Time
}

// New wires an orchestrator to its bus and engine collaborators.
func New(cfg Config, bus *events.Bus, exploration engine.Exploration, synthesis engine.Synthesis, spec engine.DomainSpec, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:         cfg.withDefaults(),
		bus:         bus,
		exploration: exploration,
		synthesis:   synthesis,
		spec:        spec,
		tracer:      noop.NewTracerProvider().Tracer("orchestrator"),
		log:         slog.Default().With("component", "orchestrator"),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.PCAPDir != "" {
		w, err := pcap.NewWriter(o.cfg.PCAPDir)
		if err != nil {
			return nil, err
		}
		o.pcaps = w
	}
	return o, nil
}

// Run executes Init → AE → CEGIS → {Completed | Failed}. Whatever happens —
// success, error, or panic — a final Metrics.Snapshot is published and the
// bus is flushed and stopped before Run returns.
func (o *Orchestrator) Run(ctx context.Context) (result *RunResult, err error) {
	cfg := o.cfg
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	traceID := uuid.New().String()

	m := newMetrics()
	result = &RunResult{RunID: runID, TraceID: traceID}

	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	o.bus.Start()
	start := o.clock()

	defer func() {
		if r := recover(); r != nil {
			o.publish(runID, traceID, "cleanup", events.TypeIncident, events.LevelError, map[string]any{
				"type": IncidentOrchestratorFail, "panic": fmt.Sprint(r),
			})
			m.incident(IncidentOrchestratorFail)
			o.finish(runID, traceID, &m, result)
			panic(r)
		}
		if err != nil {
			o.publish(runID, traceID, "cleanup", events.TypeIncident, events.LevelError, map[string]any{
				"type": IncidentOrchestratorFail, "error": err.Error(),
			})
			m.incident(IncidentOrchestratorFail)
		}
		o.finish(runID, traceID, &m, result)
	}()

	// Init: both engines initialize concurrently, joined before AE.
	o.publish(runID, traceID, "init", events.TypeOrchestratorStart, events.LevelInfo, map[string]any{
		"domain": o.spec.Name,
	})
	if err = o.initEngines(ctx); err != nil {
		return result, fmt.Errorf("orchestrator: engine init: %w", err)
	}

	// AE: exactly one exploration step under its deadline. A timeout here
	// aborts the whole run.
	stepResult, aeErr := o.runAE(ctx, runID, traceID, &m)
	if aeErr != nil {
		return result, aeErr
	}

	// CEGIS: sequential iterations, each call deadlined, wall clock checked
	// at the top of every iteration.
	err = o.runCEGIS(ctx, runID, traceID, start, stepResult.Artifacts, &m, result)
	return result, err
}

func (o *Orchestrator) initEngines(ctx context.Context) error {
	errc := make(chan error, 2)
	go func() { errc <- o.exploration.Initialize(ctx, o.spec) }()
	go func() { errc <- o.synthesis.Initialize(ctx, o.spec) }()

	var first error
	for i := 0; i < 2; i++ {
		if e := <-errc; e != nil && first == nil {
			first = e
		}
	}
	return first
}

func (o *Orchestrator) runAE(ctx context.Context, runID, traceID string, m *Metrics) (engine.StepResult, error) {
	ctx, span := o.tracer.Start(ctx, "ae.step")
	defer span.End()

	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.AETimeout)
	defer cancel()

	t0 := o.clock()
	res, stepErr := o.exploration.Step(stepCtx, engine.StepContext{RunID: runID, Step: 1})
	elapsedMS := float64(o.clock().Sub(t0)) / float64(time.Millisecond)

	if stepErr != nil {
		if errors.Is(stepErr, context.DeadlineExceeded) {
			m.incident(IncidentBudgetOverrun)
			o.publish(runID, traceID, "AE", events.TypeBudgetOverrun, events.LevelError, map[string]any{
				"phase": "AE", "budget_ms": o.cfg.AETimeout.Milliseconds(),
			})
			return res, &TimeoutError{Phase: "AE", Call: "step", Budget: o.cfg.AETimeout, err: stepErr}
		}
		return res, fmt.Errorf("orchestrator: exploration step: %w", stepErr)
	}
	if !res.Success {
		return res, fmt.Errorf("orchestrator: exploration step failed: %s", res.Err)
	}

	m.AE.Steps++
	m.AE.AvgStepMS = runningMean(m.AE.AvgStepMS, m.AE.Steps, elapsedMS)
	m.AE.ConceptsVisited += res.Concepts

	o.publish(runID, traceID, "AE", events.TypeAEStep, events.LevelInfo, map[string]any{
		"concepts": res.Concepts, "elapsed_ms": elapsedMS,
	})
	o.writePCAP(runID, traceID, "ae-step-1", "ae.step", []string{"explore.domain"}, []pcap.Proof{
		{Type: "concepts_visited", Expect: res.Concepts},
	}, pcap.CostVector{Time: elapsedMS})
	return res, nil
}

func (o *Orchestrator) runCEGIS(ctx context.Context, runID, traceID string, start time.Time, artifacts map[string]any, m *Metrics, result *RunResult) error {
	ctx, span := o.tracer.Start(ctx, "cegis.loop")
	defer span.End()

	progress := NewProgressWindow(o.cfg.NoProgressK, o.cfg.Epsilon)
	osc := NewOscillationCounter(o.cfg.OscillationThreshold)
	deadline := start.Add(o.cfg.WallClockBudget)
	defer func() { result.ProgressSeries = progress.Series() }()

	for iter := 1; iter <= o.cfg.MaxIterations; iter++ {
		if !o.clock().Before(deadline) {
			// Soft stop: the run returns partial metrics.
			m.incident(IncidentBudgetOverrun)
			o.publish(runID, traceID, "CEGIS", events.TypeBudgetOverrun, events.LevelWarning, map[string]any{
				"phase": "CEGIS", "iteration": iter, "budget_ms": o.cfg.WallClockBudget.Milliseconds(),
			})
			return nil
		}

		o.publish(runID, traceID, "CEGIS", events.TypeCEGISIterStart, events.LevelInfo, map[string]any{
			"iteration": iter,
		})
		sc := engine.SynthesisContext{RunID: runID, Iteration: iter, Artifacts: artifacts}

		candidate, propErr := deadlined(ctx, o.cfg.ProposeTimeout, func(c context.Context) (engine.Candidate, error) {
			return o.synthesis.Propose(c, sc)
		})
		m.CEGIS.Proposals++
		if stop, hard := o.cegisCallDone(runID, traceID, iter, "propose", o.cfg.ProposeTimeout, propErr, m); stop || hard != nil {
			return hard
		}

		v0 := o.clock()
		verdict, verErr := deadlined(ctx, o.cfg.VerifyTimeout, func(c context.Context) (engine.Verdict, error) {
			return o.synthesis.Verify(c, candidate, sc)
		})
		verifyMS := float64(o.clock().Sub(v0)) / float64(time.Millisecond)
		m.CEGIS.VerifyCalls++
		m.CEGIS.MeanVerifyMS = runningMean(m.CEGIS.MeanVerifyMS, m.CEGIS.VerifyCalls, verifyMS)
		if stop, hard := o.cegisCallDone(runID, traceID, iter, "verify", o.cfg.VerifyTimeout, verErr, m); stop || hard != nil {
			return hard
		}

		if verdict.Valid {
			// At most one accepted candidate per run: acceptance ends the loop.
			m.CEGIS.Accepts++
			m.CEGIS.PatchAcceptRate = float64(m.CEGIS.Accepts) / float64(m.CEGIS.Proposals)
			progress.Observe(m.CEGIS.PatchAcceptRate)
			osc.Observe(true)

			result.Completed = true
			result.Accepted = &candidate
			o.publish(runID, traceID, "CEGIS", events.TypeCEGISIterEnd, events.LevelInfo, map[string]any{
				"iteration": iter, "reason": "accepted", "patch_accept_rate": m.CEGIS.PatchAcceptRate,
			})
			o.writePCAP(runID, traceID, fmt.Sprintf("cegis-iter-%d", iter), "cegis.accept",
				[]string{"synthesize.candidate", "verify.candidate"},
				[]pcap.Proof{{Type: "verify", Expect: true, Args: map[string]any{"candidate_id": candidate.ID}}},
				pcap.CostVector{Time: verifyMS})
			return nil
		}

		// Failed iteration: feed the failure back through refine, sample the
		// unchanged KPI, then run the failure detectors.
		if verdict.Counterexample != nil {
			m.CEGIS.CEFoundCount++
		}
		refined, refErr := deadlined(ctx, o.cfg.RefineTimeout, func(c context.Context) (engine.Candidate, error) {
			return o.synthesis.Refine(c, candidate, verdict, sc)
		})
		if stop, hard := o.cegisCallDone(runID, traceID, iter, "refine", o.cfg.RefineTimeout, refErr, m); stop || hard != nil {
			return hard
		}
		m.CEGIS.Retries++

		progress.Observe(m.CEGIS.PatchAcceptRate)
		o.publish(runID, traceID, "CEGIS", events.TypeCEGISIterEnd, events.LevelInfo, map[string]any{
			"iteration": iter, "reason": "rejected",
			"counterexample": verdict.Counterexample != nil,
			"revision":       refined.Revision,
		})

		if progress.Plateaued() {
			m.incident(IncidentNoProgress)
			o.publish(runID, traceID, "CEGIS", events.TypeIncident, events.LevelWarning, map[string]any{
				"code": IncidentNoProgress, "window": o.cfg.NoProgressK, "epsilon": o.cfg.Epsilon,
			})
			return nil
		}
		if osc.Observe(false) {
			m.incident(IncidentOscillation)
			o.publish(runID, traceID, "CEGIS", events.TypeIncident, events.LevelWarning, map[string]any{
				"code": IncidentOscillation, "alternations": osc.Alternations(),
			})
			return nil
		}
	}

	m.incident(IncidentMaxIters)
	o.publish(runID, traceID, "CEGIS", events.TypeCEGISIterEnd, events.LevelWarning, map[string]any{
		"reason": "max_iters_reached", "iterations": o.cfg.MaxIterations,
	})
	return nil
}

// cegisCallDone classifies a CEGIS call error. A timeout stops the loop
// softly with a Budget.Overrun and partial metrics; an engine error fails
// the run.
func (o *Orchestrator) cegisCallDone(runID, traceID string, iter int, call string, budget time.Duration, err error, m *Metrics) (bool, error) {
	if err == nil {
		return false, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		m.incident(IncidentBudgetOverrun)
		o.publish(runID, traceID, "CEGIS", events.TypeBudgetOverrun, events.LevelWarning, map[string]any{
			"phase": "CEGIS", "call": call, "iteration": iter, "budget_ms": budget.Milliseconds(),
		})
		return true, nil
	}
	return true, fmt.Errorf("orchestrator: synthesis %s (iteration %d): %w", call, iter, err)
}

func (o *Orchestrator) writePCAP(runID, traceID, stepID, action string, obligations []string, proofs []pcap.Proof, cost pcap.CostVector) {
	if o.pcaps == nil {
		return
	}
	contextHash, err := canonical.Hash(map[string]any{"run_id": runID, "domain": o.spec.Name, "step": stepID})
	if err == nil {
		var rec *pcap.Record
		rec, err = pcap.New(action, contextHash, obligations, proofs, cost)
		if err == nil {
			_, err = o.pcaps.Write(rec, stepID, action)
		}
	}
	if err != nil {
		// A failed proof write must not fail the run; it is surfaced as an
		// incident and the caller of the persistence API sees the error in
		// the journal.
		o.publish(runID, traceID, "audit", events.TypeIncident, events.LevelWarning, map[string]any{
			"code": IncidentSinkWrite, "action": action, "error": err.Error(),
		})
	}
}

func (o *Orchestrator) finish(runID, traceID string, m *Metrics, result *RunResult) {
	if o.pcaps != nil {
		m.Global.PCAPCount = o.pcaps.Count()
	}
	o.publish(runID, traceID, "cleanup", events.TypeOrchestratorEnd, events.LevelInfo, map[string]any{
		"incidents": len(m.Global.IncidentsCount),
	})
	o.publish(runID, traceID, "cleanup", events.TypeMetricsSnapshot, events.LevelInfo, map[string]any{
		"ae": m.AE, "cegis": m.CEGIS, "global": m.Global,
	})
	if err := o.exploration.Cleanup(); err != nil {
		o.log.Warn("exploration cleanup failed", "run_id", runID, "error", err)
	}
	if err := o.bus.Flush(); err != nil {
		o.log.Warn("bus flush failed", "run_id", runID, "error", err)
	}
	if err := o.bus.Stop(); err != nil {
		o.log.Warn("bus stop failed", "run_id", runID, "error", err)
	}
	result.Metrics = *m
}

func (o *Orchestrator) publish(runID, traceID, phase, eventType string, level events.Level, payload map[string]any) {
	err := o.bus.Publish(events.Event{
		Type:    eventType,
		RunID:   runID,
		TraceID: traceID,
		Phase:   phase,
		Level:   level,
		Payload: payload,
	})
	if err != nil {
		o.log.Warn("event publish failed", "type", eventType, "error", err)
	}
}

// deadlined runs one engine call under its own deadline; suspension happens
// only here and at Publish under the blocking backpressure policy.
func deadlined[T any](ctx context.Context, budget time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return fn(callCtx)
}
