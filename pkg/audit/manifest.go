// Package audit folds a run's produced files into a Merkle-rooted manifest:
// one short, verifiable fingerprint of everything the run emitted, with
// per-file inclusion provable against the root.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Attestor-Labs/attestor/pkg/canonical"
	"github.com/Attestor-Labs/attestor/pkg/merkle"
)

// Version identifies the manifest document format.
const Version = "1"

// Algorithm is the only digest algorithm the format admits.
const Algorithm = "sha256"

// BuildError reports an attempt to add the same artifact path twice.
// Always fatal at the point of duplication: packaging the same logical
// artifact under one name twice is a build mistake, never a runtime
// condition to retry.
type BuildError struct {
	Path string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("audit: duplicate artifact path %q", e.Path)
}

// FileEntry describes one packaged artifact.
type FileEntry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest is the audit manifest for one run. Created empty, grown via
// AddFile, finalized by CalculateMerkleRoot, then persisted and later
// re-verified.
type Manifest struct {
	Version    string      `json:"version"`
	Algorithm  string      `json:"algorithm"`
	CreatedAt  time.Time   `json:"created_at"`
	RunID      string      `json:"run_id"`
	FileCount  int         `json:"file_count"`
	MerkleRoot string      `json:"merkle_root"`
	TotalBytes int64       `json:"total_bytes"`
	Files      []FileEntry `json:"files"`
}

// NewManifest creates an empty manifest for a run.
func NewManifest(runID string) *Manifest {
	return &Manifest{
		Version:   Version,
		Algorithm: Algorithm,
		CreatedAt: time.Now().UTC(),
		RunID:     runID,
	}
}

// AddFile records an artifact. A second call with the same path returns a
// BuildError.
func (m *Manifest) AddFile(path, sha256Hex string, size int64) error {
	for _, f := range m.Files {
		if f.Path == path {
			return &BuildError{Path: path}
		}
	}
	m.Files = append(m.Files, FileEntry{Path: path, Size: size, SHA256: sha256Hex})
	return nil
}

// AddFileFromDisk hashes a file on disk and records it under arcname.
func (m *Manifest) AddFileFromDisk(arcname, diskPath string) error {
	f, err := os.Open(diskPath)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", diskPath, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return fmt.Errorf("audit: hash %s: %w", diskPath, err)
	}
	return m.AddFile(arcname, hex.EncodeToString(h.Sum(nil)), n)
}

// CalculateMerkleRoot finalizes the manifest: files are put in canonical
// sorted-by-path order, the root is computed over their canonical-JSON
// leaves, and the summary counters are set.
//
// Reproducibility invariant: two manifests built from the same
// (path, sha256, size) triples, in any insertion order, produce
// byte-identical roots.
func (m *Manifest) CalculateMerkleRoot() (string, error) {
	if len(m.Files) == 0 {
		return "", fmt.Errorf("audit: manifest for run %s has no files", m.RunID)
	}

	sort.Slice(m.Files, func(i, j int) bool {
		return m.Files[i].Path < m.Files[j].Path
	})

	leaves := make([][]byte, len(m.Files))
	var total int64
	for i, f := range m.Files {
		leaf, err := canonical.Marshal(f)
		if err != nil {
			return "", fmt.Errorf("audit: encode leaf %s: %w", f.Path, err)
		}
		leaves[i] = leaf
		total += f.Size
	}

	tree, err := merkle.New(leaves)
	if err != nil {
		return "", err
	}
	m.MerkleRoot = tree.RootHex()
	m.FileCount = len(m.Files)
	m.TotalBytes = total
	return m.MerkleRoot, nil
}

// Tree rebuilds the Merkle tree over the manifest's files, for generating
// per-file inclusion proofs. The manifest must be finalized.
func (m *Manifest) Tree() (*merkle.Tree, error) {
	files := append([]FileEntry(nil), m.Files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	leaves := make([][]byte, len(files))
	for i, f := range files {
		leaf, err := canonical.Marshal(f)
		if err != nil {
			return nil, err
		}
		leaves[i] = leaf
	}
	return merkle.New(leaves)
}

// VerifyIntegrity recomputes the root from the recorded file entries and
// compares it with the stored root. Pure; returns false on any mismatch or
// recomputation failure, never an error.
func (m *Manifest) VerifyIntegrity() bool {
	if m.MerkleRoot == "" || len(m.Files) == 0 {
		return false
	}
	if m.FileCount != len(m.Files) {
		return false
	}
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	if total != m.TotalBytes {
		return false
	}

	tree, err := m.Tree()
	if err != nil {
		return false
	}
	return tree.RootHex() == m.MerkleRoot
}

// WriteFile persists the manifest document and a companion single-line
// "<path minus .json>.root.txt" holding just the Merkle root for quick
// external verification.
func (m *Manifest) WriteFile(path string) error {
	if m.MerkleRoot == "" {
		return fmt.Errorf("audit: manifest not finalized, call CalculateMerkleRoot first")
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("audit: marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("audit: write manifest: %w", err)
	}

	rootPath := sidecarPath(path)
	if err := os.WriteFile(rootPath, []byte(m.MerkleRoot+"\n"), 0o644); err != nil {
		return fmt.Errorf("audit: write root sidecar: %w", err)
	}
	return nil
}

// Load reads a manifest document, validates it against the format schema,
// and unmarshals it.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read manifest %s: %w", path, err)
	}
	if err := ValidateDocument(data); err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("audit: unmarshal manifest %s: %w", path, err)
	}
	return &m, nil
}

func sidecarPath(manifestPath string) string {
	base := strings.TrimSuffix(manifestPath, filepath.Ext(manifestPath))
	return base + ".root.txt"
}
