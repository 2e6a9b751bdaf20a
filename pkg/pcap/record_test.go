package pcap_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Attestor-Labs/attestor/pkg/pcap"
)

func sealedRecord(t *testing.T) *pcap.Record {
	t.Helper()
	r, err := pcap.New("cegis.accept", "ctx-hash-abc",
		[]string{"verify.candidate", "synthesize.candidate"},
		[]pcap.Proof{
			{Type: "verify", Args: map[string]any{"candidate_id": "c-1"}, Expect: true},
			{Type: "concepts_visited", Expect: 7},
		},
		pcap.CostVector{Time: 12.5, AuditCost: 1},
	)
	require.NoError(t, err)
	return r
}

func TestNewSealsRecord(t *testing.T) {
	r := sealedRecord(t)
	assert.NotEmpty(t, r.SHA256)
	assert.NotZero(t, r.CreatedTS)
	assert.True(t, r.VerifyIntegrity())
}

func TestTamperingAnyHashedFieldIsDetected(t *testing.T) {
	mutations := map[string]func(*pcap.Record){
		"action":        func(r *pcap.Record) { r.Action = "other" },
		"context_hash":  func(r *pcap.Record) { r.ContextHash = "forged" },
		"obligations":   func(r *pcap.Record) { r.Obligations = append(r.Obligations, "extra") },
		"proofs":        func(r *pcap.Record) { r.Proofs[0].Expect = false },
		"justification": func(r *pcap.Record) { r.Justification.TechDebt = 99 },
		"created_ts":    func(r *pcap.Record) { r.CreatedTS++ },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			r := sealedRecord(t)
			mutate(r)
			assert.False(t, r.VerifyIntegrity())
		})
	}
}

func TestRehashRestoresIntegrity(t *testing.T) {
	r := sealedRecord(t)
	r.Action = "amended"
	require.False(t, r.VerifyIntegrity())

	h, err := r.CalculateHash()
	require.NoError(t, err)
	r.SHA256 = h
	assert.True(t, r.VerifyIntegrity())
}

func TestHashIgnoresCollectionOrder(t *testing.T) {
	a, err := pcap.New("act", "ctx",
		[]string{"b", "a"},
		[]pcap.Proof{{Type: "t2"}, {Type: "t1"}},
		pcap.CostVector{})
	require.NoError(t, err)

	b := &pcap.Record{
		Action:      "act",
		ContextHash: "ctx",
		Obligations: []string{"a", "b"},
		Proofs:      []pcap.Proof{{Type: "t1"}, {Type: "t2"}},
		CreatedTS:   a.CreatedTS,
	}
	h, err := b.CalculateHash()
	require.NoError(t, err)
	assert.Equal(t, a.SHA256, h)
}

func TestUnsealedRecordNeverVerifies(t *testing.T) {
	r := &pcap.Record{Action: "act"}
	assert.False(t, r.VerifyIntegrity())
}

func TestSignAndVerifySignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	r := sealedRecord(t)
	r.Sign("attestor-runner", priv)
	assert.Equal(t, "attestor-runner", r.Signer)
	assert.True(t, r.VerifySignature(pub))

	// Signature covers the content hash, so re-sealing after mutation
	// invalidates it.
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	assert.False(t, r.VerifySignature(otherPub))

	r.Signature = ""
	assert.False(t, r.VerifySignature(pub))
}
