package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Attestor-Labs/attestor/pkg/engine"
)

// demoExploration is a deterministic in-memory exploration engine: one step
// visits a small fixed concept lattice derived from the domain attributes.
type demoExploration struct {
	spec engine.DomainSpec
}

func newDemoExploration() *demoExploration {
	return &demoExploration{}
}

func (e *demoExploration) Initialize(_ context.Context, spec engine.DomainSpec) error {
	e.spec = spec
	return nil
}

func (e *demoExploration) Step(ctx context.Context, sc engine.StepContext) (engine.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return engine.StepResult{}, err
	}
	// The concept lattice of n independent attributes has 2^n extents; the
	// demo walks the attribute closures only.
	concepts := 1
	implications := make([]string, 0, len(e.spec.Attributes))
	for i, attr := range e.spec.Attributes {
		concepts += i + 1
		implications = append(implications, fmt.Sprintf("%s -> %s", attr, e.spec.Name))
	}
	return engine.StepResult{
		Success:  true,
		Concepts: concepts,
		Artifacts: map[string]any{
			"implication_base": implications,
		},
	}, nil
}

func (e *demoExploration) Cleanup() error { return nil }

// demoSynthesis is a deterministic in-memory synthesis engine: it rejects
// candidates with a counterexample until the configured iteration, then
// accepts.
type demoSynthesis struct {
	acceptAfter int
	rejected    int
}

func newDemoSynthesis(acceptAfter int) *demoSynthesis {
	return &demoSynthesis{acceptAfter: acceptAfter}
}

func (s *demoSynthesis) Initialize(context.Context, engine.DomainSpec) error { return nil }

func (s *demoSynthesis) Propose(ctx context.Context, sc engine.SynthesisContext) (engine.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return engine.Candidate{}, err
	}
	return engine.Candidate{
		ID:       uuid.New().String(),
		Revision: sc.Iteration,
		Payload: map[string]any{
			"iteration": sc.Iteration,
			"source":    "demo",
		},
	}, nil
}

func (s *demoSynthesis) Verify(ctx context.Context, c engine.Candidate, sc engine.SynthesisContext) (engine.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return engine.Verdict{}, err
	}
	if s.rejected < s.acceptAfter {
		return engine.Verdict{
			Valid:  false,
			Reason: "distinguishing input found",
			Counterexample: map[string]any{
				"input":    fmt.Sprintf("ce-%d", sc.Iteration),
				"expected": "accept",
				"actual":   "reject",
			},
		}, nil
	}
	return engine.Verdict{Valid: true}, nil
}

func (s *demoSynthesis) Refine(ctx context.Context, c engine.Candidate, v engine.Verdict, sc engine.SynthesisContext) (engine.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return engine.Candidate{}, err
	}
	s.rejected++
	c.Revision++
	return c, nil
}
