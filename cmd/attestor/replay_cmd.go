package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/Attestor-Labs/attestor/pkg/events"
)

// runReplayCmd prints a run's journal in admission order, optionally
// filtered by event type glob.
func runReplayCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", "attestor-out", "artifact directory")
	typeFilter := fs.String("type", "", "only print events whose type matches this glob")
	asJSON := fs.Bool("json", false, "print raw JSON lines instead of the summary view")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	evs, err := events.ReadJournal(filepath.Join(*dir, "journal.jsonl"))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	shown := 0
	for _, ev := range evs {
		if *typeFilter != "" {
			if ok, err := filepath.Match(*typeFilter, ev.Type); err != nil || !ok {
				continue
			}
		}
		shown++
		if *asJSON {
			line, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintln(stdout, string(line))
			continue
		}
		ts := time.Unix(0, int64(ev.Timestamp*1e9)).UTC().Format(time.RFC3339Nano)
		fmt.Fprintf(stdout, "%6d  %-29s %-8s %-7s %s\n", ev.Seq, ts, ev.Phase, ev.Level, ev.Type)
	}
	fmt.Fprintf(stdout, "%d event(s)\n", shown)
	return 0
}
