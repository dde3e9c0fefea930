package model

import (
	"encoding/json"
	"time"
)

// SyncReport summarises one sync pass over one series.
type SyncReport struct {
	RunID         string        `json:"run_id"`
	Key           SeriesKey     `json:"key"`
	Mode          string        `json:"mode"`
	Reason        string        `json:"reason"`
	Fetched       int           `json:"fetched"`
	Result        ApplyResult   `json:"result"`
	IndicatorRows int           `json:"indicator_rows"`
	Duration      time.Duration `json:"duration_ns"`
	Err           string        `json:"error,omitempty"`
	At            time.Time     `json:"at"`

	// Latest holds the newest bar's non-NaN indicator values, if any were computed.
	Latest   map[string]float64 `json:"latest,omitempty"`
	LatestTS time.Time          `json:"latest_ts"`
}

// JSON returns the JSON-encoded report (ignoring errors; the struct has no
// unencodable fields).
func (r *SyncReport) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
