// Package pcap implements Proof-Carrying Action Plan records: self-hashing
// units describing one pipeline action, the obligations it discharges, and
// the proofs supporting it. Any mutation of a hashed field after sealing is
// detectable via VerifyIntegrity.
package pcap

import (
	"crypto/ed25519"
	"encoding/hex"
	"sort"
	"time"

	"github.com/Attestor-Labs/attestor/pkg/canonical"
)

// Proof is a single verification step attached to a record.
type Proof struct {
	Type   string         `json:"type"`
	Args   map[string]any `json:"args,omitempty"`
	Expect any            `json:"expect,omitempty"`
}

// CostVector justifies an action along the standing cost axes.
type CostVector struct {
	Time         float64            `json:"time"`
	AuditCost    float64            `json:"audit_cost"`
	SecurityRisk float64            `json:"security_risk"`
	TechDebt     float64            `json:"tech_debt"`
	Extra        map[string]float64 `json:"extra,omitempty"`
}

// Record is one proof-carrying action. SHA256 covers every field except
// itself and the signature block; ContextHash is caller-supplied and
// identifies the inputs the action was computed from.
type Record struct {
	Action        string     `json:"action"`
	ContextHash   string     `json:"context_hash"`
	Obligations   []string   `json:"obligations"`
	Proofs        []Proof    `json:"proofs"`
	Justification CostVector `json:"justification"`
	CreatedTS     float64    `json:"created_ts"`
	SHA256        string     `json:"sha256,omitempty"`
	Signer        string     `json:"signer,omitempty"`
	Signature     string     `json:"signature,omitempty"`
}

// New creates a sealed record for an action. The content hash is computed
// immediately; callers that mutate the record afterwards must re-seal with
// CalculateHash.
func New(action, contextHash string, obligations []string, proofs []Proof, justification CostVector) (*Record, error) {
	r := &Record{
		Action:        action,
		ContextHash:   contextHash,
		Obligations:   obligations,
		Proofs:        proofs,
		Justification: justification,
		CreatedTS:     float64(time.Now().UnixNano()) / 1e9,
	}
	h, err := r.CalculateHash()
	if err != nil {
		return nil, err
	}
	r.SHA256 = h
	return r, nil
}

// hashBody is the shadow of Record used for hashing: it excludes SHA256,
// Signer, and Signature so the digest is a pure function of content.
type hashBody struct {
	Action        string     `json:"action"`
	ContextHash   string     `json:"context_hash"`
	Obligations   []string   `json:"obligations"`
	Proofs        []Proof    `json:"proofs"`
	Justification CostVector `json:"justification"`
	CreatedTS     float64    `json:"created_ts"`
}

// CalculateHash computes the canonical-JSON SHA-256 of the record content.
// Unordered collections are sorted first (obligations lexically, proofs by
// their canonical form) so the digest is stable across process restarts for
// identical logical content.
func (r *Record) CalculateHash() (string, error) {
	obligations := append([]string(nil), r.Obligations...)
	sort.Strings(obligations)

	proofs, err := sortProofs(r.Proofs)
	if err != nil {
		return "", err
	}

	return canonical.Hash(hashBody{
		Action:        r.Action,
		ContextHash:   r.ContextHash,
		Obligations:   obligations,
		Proofs:        proofs,
		Justification: r.Justification,
		CreatedTS:     r.CreatedTS,
	})
}

// VerifyIntegrity recomputes the content hash and compares it against the
// stored SHA256. Pure and side-effect-free; a mismatch yields false, never
// an error surfaced to the caller.
func (r *Record) VerifyIntegrity() bool {
	if r.SHA256 == "" {
		return false
	}
	h, err := r.CalculateHash()
	if err != nil {
		return false
	}
	return h == r.SHA256
}

// Sign attaches an ed25519 signature over the content hash.
func (r *Record) Sign(signer string, priv ed25519.PrivateKey) {
	r.Signer = signer
	r.Signature = hex.EncodeToString(ed25519.Sign(priv, []byte(r.SHA256)))
}

// VerifySignature checks the signature against the stored content hash.
func (r *Record) VerifySignature(pub ed25519.PublicKey) bool {
	if r.Signature == "" {
		return false
	}
	sig, err := hex.DecodeString(r.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(r.SHA256), sig)
}

func sortProofs(proofs []Proof) ([]Proof, error) {
	type keyed struct {
		key   string
		proof Proof
	}
	keyedProofs := make([]keyed, len(proofs))
	for i, p := range proofs {
		b, err := canonical.Marshal(p)
		if err != nil {
			return nil, err
		}
		keyedProofs[i] = keyed{key: string(b), proof: p}
	}
	sort.SliceStable(keyedProofs, func(i, j int) bool {
		return keyedProofs[i].key < keyedProofs[j].key
	})
	out := make([]Proof, len(proofs))
	for i, kp := range keyedProofs {
		out[i] = kp.proof
	}
	return out, nil
}
