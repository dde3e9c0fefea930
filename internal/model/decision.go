package model

// Mode is the outcome class of change detection.
type Mode int

const (
	ModeInsertAll     Mode = iota // nothing stored yet: write everything
	ModeIncremental               // range grew: write only the new bars
	ModeUpdateChanged             // overlap differs: rewrite the flagged bars
	ModeSkip                      // nothing to write
)

func (m Mode) String() string {
	switch m {
	case ModeInsertAll:
		return "insert_all"
	case ModeIncremental:
		return "incremental"
	case ModeUpdateChanged:
		return "update_changed"
	case ModeSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// ChangeDecision is the result of classifying a fetched series against the store.
// Rows is empty exactly when Mode is ModeSkip.
type ChangeDecision struct {
	Mode   Mode
	Rows   []Bar
	Reason string
}

// ApplyResult counts what an upsert did with the rows of a decision.
// Inserted+Updated+Failed+Skipped always equals the number of rows considered.
type ApplyResult struct {
	Inserted int  `json:"inserted"`
	Updated  int  `json:"updated"`
	Failed   int  `json:"failed"`
	Skipped  int  `json:"skipped"`
	Fallback bool `json:"fallback"` // per-row path was used
}

// Total returns the number of rows the result accounts for.
func (r ApplyResult) Total() int {
	return r.Inserted + r.Updated + r.Failed + r.Skipped
}

// Written returns the number of rows that reached the store.
func (r ApplyResult) Written() int {
	return r.Inserted + r.Updated
}
