package model

// AuditEntry is an immutable fact about a single lifecycle event of one job.
// Two entries are written per job: one at start and one at the end. Entries
// are appended to a JSONL file and never edited or deleted.
type AuditEntry struct {
	TS          float64        `json:"ts"`
	JobID       string         `json:"job_id"`
	Tool        string         `json:"tool"`
	Params      map[string]any `json:"args"`
	MaskedToken string         `json:"token_masked"`
	Status      string         `json:"status"`

	// start entries only: the argv with the credential replaced by a placeholder
	CmdPreview []string `json:"cmd_preview,omitempty"`

	// end entries only
	DurationSec float64  `json:"duration_sec,omitempty"`
	Progress    int      `json:"progress,omitempty"`
	Outputs     []string `json:"outputs,omitempty"`
	LastMessage string   `json:"last_message,omitempty"`
}
