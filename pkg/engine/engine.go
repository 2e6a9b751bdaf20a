// Package engine declares the narrow interfaces through which the
// orchestrator drives its two external collaborators: the attribute
// exploration engine and the propose/verify/refine synthesis engine.
//
// Outcomes are explicit result structs, not errors: a failed verification
// is a valid Verdict, an exhausted exploration is a StepResult with
// Success=false. Errors are reserved for the collaborator itself breaking.
package engine

import "context"

// DomainSpec carries the problem description handed to both engines at
// initialization. The orchestrator passes it through unchanged.
type DomainSpec struct {
	Name       string         `json:"name"`
	Attributes []string       `json:"attributes,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// StepContext carries per-step inputs into an exploration step.
type StepContext struct {
	RunID string         `json:"run_id"`
	Step  int            `json:"step"`
	Hints map[string]any `json:"hints,omitempty"`
}

// StepResult is the outcome of one exploration step.
type StepResult struct {
	Success   bool           `json:"success"`
	Concepts  int            `json:"concepts"`
	Artifacts map[string]any `json:"artifacts,omitempty"`
	Err       string         `json:"error,omitempty"`
}

// Exploration is the attribute-exploration collaborator. Every call is made
// under a deadline owned by the orchestrator.
type Exploration interface {
	Initialize(ctx context.Context, spec DomainSpec) error
	Step(ctx context.Context, sc StepContext) (StepResult, error)
	Cleanup() error
}

// Candidate is one synthesized artifact moving through the CEGIS loop.
type Candidate struct {
	ID       string         `json:"id"`
	Revision int            `json:"revision"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Verdict is the outcome of verifying a candidate. A non-nil
// Counterexample marks a distinguishing failure the refiner can learn from.
type Verdict struct {
	Valid          bool           `json:"valid"`
	Reason         string         `json:"reason,omitempty"`
	Counterexample map[string]any `json:"counterexample,omitempty"`
}

// SynthesisContext carries per-iteration inputs into the synthesis engine.
type SynthesisContext struct {
	RunID     string         `json:"run_id"`
	Iteration int            `json:"iteration"`
	Artifacts map[string]any `json:"artifacts,omitempty"`
}

// Synthesis is the propose/verify/refine collaborator. Every call is made
// under a deadline owned by the orchestrator; iterations never overlap.
type Synthesis interface {
	Initialize(ctx context.Context, spec DomainSpec) error
	Propose(ctx context.Context, sc SynthesisContext) (Candidate, error)
	Verify(ctx context.Context, c Candidate, sc SynthesisContext) (Verdict, error)
	Refine(ctx context.Context, c Candidate, v Verdict, sc SynthesisContext) (Candidate, error)
}
