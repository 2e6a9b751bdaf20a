//go:build property
// +build property

package merkle_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Attestor-Labs/attestor/pkg/merkle"
)

func toLeaves(values []string) [][]byte {
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out
}

// TestTreeDeterminism verifies the root is a pure function of the leaf list.
func TestTreeDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("same leaves give same root", prop.ForAll(
		func(values []string) bool {
			if len(values) == 0 {
				return true
			}
			t1, err1 := merkle.New(toLeaves(values))
			t2, err2 := merkle.New(toLeaves(values))
			if err1 != nil || err2 != nil {
				return false
			}
			return t1.RootHex() == t2.RootHex()
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}

// TestEveryProofVerifies checks proof generation and verification agree for
// arbitrary leaf sets.
func TestEveryProofVerifies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every generated proof verifies", prop.ForAll(
		func(values []string) bool {
			if len(values) == 0 {
				return true
			}
			in := toLeaves(values)
			tree, err := merkle.New(in)
			if err != nil {
				return false
			}
			for i := range in {
				proof, err := tree.Proof(i)
				if err != nil {
					return false
				}
				if !merkle.Verify(i, proof, merkle.LeafHash(in[i]), tree.Root()) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}
