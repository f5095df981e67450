// Package protocol implements the line-oriented contract between a worker
// process and its supervisor, carried over the worker's merged standard
// output. Two reserved markers exist:
//
//	PROGRESS {"pct": 42, "msg": "halfway"}
//	OUTPUT_CSV path/to/result.csv
//
// Everything else non-empty is an ordinary log line. A malformed payload
// after a marker is not fatal: the line degrades to a log line.
package protocol

import (
	"encoding/json"
	"strings"
)

const (
	progressMarker = "PROGRESS "
	outputMarker   = "OUTPUT_CSV "
)

// Kind discriminates parsed protocol events.
type Kind int

const (
	KindBlank Kind = iota
	KindLog
	KindProgress
	KindOutput
)

// Event is one parsed worker output line.
type Event struct {
	Kind Kind

	// KindProgress. Pct is -1 when the payload carried no pct field; such an
	// event updates the message only.
	Pct int
	Msg string

	// KindOutput: the declared path, quotes stripped, not yet resolved
	Path string
}

type progressPayload struct {
	Pct *int   `json:"pct"`
	Msg string `json:"msg"`
}

// ParseLine classifies one worker output line. Blank lines yield KindBlank
// and must be discarded by the caller; every other line is retained in the
// job log no matter how it parses.
func ParseLine(line string) Event {
	if strings.TrimSpace(line) == "" {
		return Event{Kind: KindBlank}
	}

	if rest, ok := strings.CutPrefix(line, progressMarker); ok {
		var p progressPayload
		if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &p); err == nil {
			ev := Event{Kind: KindProgress, Pct: -1, Msg: p.Msg}
			if p.Pct != nil {
				ev.Pct = max(0, min(100, *p.Pct))
			}
			return ev
		}
		// protocol violation: keep the line as a plain log line
		return Event{Kind: KindLog}
	}

	if rest, ok := strings.CutPrefix(line, outputMarker); ok {
		path := strings.Trim(strings.TrimSpace(rest), `"`)
		if path != "" {
			return Event{Kind: KindOutput, Path: path}
		}
		return Event{Kind: KindLog}
	}

	return Event{Kind: KindLog}
}
