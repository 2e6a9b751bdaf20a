package events

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ReadJournal replays a newline-delimited JSON journal sequentially and
// returns its events in file order.
//
// An unclean shutdown can leave a trailing partial line; that final fragment
// is tolerated and skipped. A malformed line anywhere else is corruption and
// is reported as an error.
func ReadJournal(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("events: read journal %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	out := make([]Event, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			if i == len(lines)-1 {
				break // trailing partial line from an unclean shutdown
			}
			return nil, fmt.Errorf("events: journal %s line %d: %w", path, i+1, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
