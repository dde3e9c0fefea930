package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ohlcv-syncv1/internal/model"

	"github.com/tidwall/gjson"
)

// File layouts accepted for the "date" field.
var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// File reads bars from JSON files laid out as <dir>/<market>/<interval>/<SYMBOL>.json.
// Each file holds an array of objects with open, high, low, close, volume
// and either a unix "ts" or a "date" string (UTC).
type File struct {
	dir string
	now func() time.Time
}

// NewFile returns a provider rooted at dir.
func NewFile(dir string) *File {
	return &File{dir: dir, now: time.Now}
}

// Path returns the file backing a series.
func (f *File) Path(key model.SeriesKey) string {
	return filepath.Join(f.dir, string(key.Market), string(key.Interval), strings.ToUpper(key.Symbol)+".json")
}

// Fetch implements model.BarProvider. Bars outside the period window are dropped.
func (f *File) Fetch(ctx context.Context, key model.SeriesKey, period string) ([]model.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := f.Path(key)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bars from '%s': %w", path, err)
	}
	if !gjson.ValidBytes(b) {
		return nil, fmt.Errorf("bars file '%s' is not valid JSON", path)
	}

	bars, err := ParseBars(gjson.ParseBytes(b).Array())
	if err != nil {
		return nil, fmt.Errorf("parsing '%s': %w", path, err)
	}

	start, end := Window(period, key.Interval, f.now())
	kept := bars[:0]
	for _, bar := range bars {
		if bar.TS.Before(start) || bar.TS.After(end) {
			continue
		}
		kept = append(kept, bar)
	}
	return kept, nil
}

// ParseBars converts JSON bar objects into bars.
func ParseBars(data []gjson.Result) ([]model.Bar, error) {
	bars := make([]model.Bar, 0, len(data))
	for i, item := range data {
		ts, err := parseTimestamp(item)
		if err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
		bars = append(bars, model.Bar{
			TS:     ts,
			Open:   item.Get("open").Float(),
			High:   item.Get("high").Float(),
			Low:    item.Get("low").Float(),
			Close:  item.Get("close").Float(),
			Volume: item.Get("volume").Int(),
		})
	}
	return bars, nil
}

func parseTimestamp(item gjson.Result) (time.Time, error) {
	if ts := item.Get("ts"); ts.Exists() {
		return time.Unix(ts.Int(), 0).UTC(), nil
	}
	date := item.Get("date")
	if !date.Exists() {
		return time.Time{}, fmt.Errorf("missing ts or date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, date.String(), time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", date.String())
}
