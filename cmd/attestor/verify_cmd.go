package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Attestor-Labs/attestor/pkg/audit"
	"github.com/Attestor-Labs/attestor/pkg/events"
	"github.com/Attestor-Labs/attestor/pkg/pcap"
)

// runVerifyCmd re-checks everything a run left behind: the manifest root,
// every file hash against disk, every action record's self-hash, and the
// journal's sequence ordering.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", "attestor-out", "artifact directory to verify")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	failures := 0
	check := func(ok bool, what string) {
		if ok {
			fmt.Fprintf(stdout, "  ok   %s\n", what)
		} else {
			fmt.Fprintf(stdout, "  FAIL %s\n", what)
			failures++
		}
	}

	manifest, err := audit.Load(filepath.Join(*dir, "manifest.json"))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "verifying run %s (%d files)\n", manifest.RunID, manifest.FileCount)

	check(manifest.VerifyIntegrity(), "manifest merkle root")

	for _, f := range manifest.Files {
		sum, size, err := hashFile(filepath.Join(*dir, filepath.FromSlash(f.Path)))
		check(err == nil && sum == f.SHA256 && size == f.Size, "file "+f.Path)
	}

	records, err := filepath.Glob(filepath.Join(*dir, "pcaps", "pcap_*.json"))
	if err == nil {
		for _, p := range records {
			check(verifyRecord(p), "record "+filepath.Base(p))
		}
	}

	journalPath := filepath.Join(*dir, "journal.jsonl")
	if _, err := os.Stat(journalPath); err == nil {
		evs, err := events.ReadJournal(journalPath)
		check(err == nil && seqStrictlyIncreasing(evs), "journal ordering")
	}

	if failures > 0 {
		fmt.Fprintf(stdout, "%d check(s) failed\n", failures)
		return 1
	}
	fmt.Fprintln(stdout, "all checks passed")
	return 0
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func verifyRecord(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var r pcap.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return false
	}
	return r.VerifyIntegrity()
}

func seqStrictlyIncreasing(evs []events.Event) bool {
	var last uint64
	for _, ev := range evs {
		if ev.Seq <= last {
			return false
		}
		last = ev.Seq
	}
	return len(evs) > 0
}
