// Package notification delivers sync alerts (failed passes, tripped
// breakers) to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"ohlcv-syncv1/internal/breaker"
	"ohlcv-syncv1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// maxListed caps the failed series named in one alert.
const maxListed = 10

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	RunID   string     `json:"run_id,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts. It is the fallback when no channel is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunAlert summarises the failed series of one sync pass. ok is false when
// every series succeeded.
func RunAlert(runID string, reports []model.SyncReport) (alert Alert, ok bool) {
	var failed []model.SyncReport
	for _, r := range reports {
		if r.Err != "" {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return Alert{}, false
	}

	level := AlertWarning
	if len(failed) == len(reports) {
		level = AlertCritical
	}

	var b strings.Builder
	for i, r := range failed {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(failed)-maxListed)
			break
		}
		fmt.Fprintf(&b, "%s: %s\n", r.Key, r.Err)
	}

	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("sync pass: %d of %d series failed", len(failed), len(reports)),
		Message: strings.TrimRight(b.String(), "\n"),
		RunID:   runID,
	}, true
}

// BreakerAlert describes a breaker transition worth reporting: opening is
// critical, recovery to closed is informational. Half-open probes are not
// reported.
func BreakerAlert(name string, from, to breaker.State) (Alert, bool) {
	switch to {
	case breaker.StateOpen:
		return Alert{
			Level:   AlertCritical,
			Title:   fmt.Sprintf("circuit %s open", name),
			Message: fmt.Sprintf("%s tripped (was %s); calls are rejected until the cool-down elapses", name, from),
		}, true
	case breaker.StateClosed:
		return Alert{
			Level:   AlertInfo,
			Title:   fmt.Sprintf("circuit %s recovered", name),
			Message: fmt.Sprintf("%s closed after a successful probe", name),
		}, true
	}
	return Alert{}, false
}
