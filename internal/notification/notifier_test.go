package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ohlcv-syncv1/internal/breaker"
	"ohlcv-syncv1/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report(sym, errMsg string) model.SyncReport {
	return model.SyncReport{
		Key: model.SeriesKey{Market: model.MarketTW, Interval: model.Interval1d, Symbol: sym},
		Err: errMsg,
	}
}

func TestRunAlert(t *testing.T) {
	_, ok := RunAlert("r1", []model.SyncReport{report("2330", ""), report("2317", "")})
	assert.False(t, ok, "no alert when every series succeeded")

	a, ok := RunAlert("r1", []model.SyncReport{report("2330", ""), report("2317", "provider unavailable")})
	require.True(t, ok)
	assert.Equal(t, AlertWarning, a.Level)
	assert.Equal(t, "sync pass: 1 of 2 series failed", a.Title)
	assert.Contains(t, a.Message, "2317")
	assert.NotContains(t, a.Message, "2330")
	assert.Equal(t, "r1", a.RunID)

	a, ok = RunAlert("r2", []model.SyncReport{report("2330", "boom")})
	require.True(t, ok)
	assert.Equal(t, AlertCritical, a.Level, "every series failed")
}

func TestRunAlert_CapsListedSeries(t *testing.T) {
	var reports []model.SyncReport
	for i := 0; i < maxListed+3; i++ {
		reports = append(reports, report(fmt.Sprintf("S%02d", i), "boom"))
	}
	a, ok := RunAlert("r", reports)
	require.True(t, ok)
	lines := strings.Split(a.Message, "\n")
	assert.Len(t, lines, maxListed+1)
	assert.Equal(t, "... and 3 more", lines[maxListed])
}

func TestBreakerAlert(t *testing.T) {
	a, ok := BreakerAlert("redis", breaker.StateClosed, breaker.StateOpen)
	require.True(t, ok)
	assert.Equal(t, AlertCritical, a.Level)
	assert.Equal(t, "circuit redis open", a.Title)

	a, ok = BreakerAlert("redis", breaker.StateHalfOpen, breaker.StateClosed)
	require.True(t, ok)
	assert.Equal(t, AlertInfo, a.Level)

	_, ok = BreakerAlert("redis", breaker.StateOpen, breaker.StateHalfOpen)
	assert.False(t, ok)
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Send(context.Background(), Alert{Level: AlertWarning, Title: "t", Message: "m", RunID: "r9"})
	require.NoError(t, err)
	assert.Equal(t, "WARNING", got["level"])
	assert.Equal(t, "r9", got["run_id"])
	assert.Equal(t, "ohlcvsync", got["source"])
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFormatTelegram(t *testing.T) {
	got := formatTelegram(Alert{Level: AlertWarning, Title: "1 of 2 failed", Message: "tw:1d:2330 (boom)", RunID: "ab-12"})
	want := "⚠️ *1 of 2 failed*\n\ntw:1d:2330 \\(boom\\)\n\n_run ab\\-12_"
	assert.Equal(t, want, got)
}

func TestTelegramNotifier(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.baseURL = srv.URL
	err := n.Send(context.Background(), Alert{Level: AlertCritical, Title: "circuit redis open", Message: "x.y"})
	require.NoError(t, err)

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "MarkdownV2", body["parse_mode"])
	assert.Contains(t, body["text"], `x\.y`)
}

type stubNotifier struct {
	sent []Alert
	err  error
}

func (s *stubNotifier) Send(_ context.Context, a Alert) error {
	s.sent = append(s.sent, a)
	return s.err
}

func TestMulti_SendsToAllAndJoinsErrors(t *testing.T) {
	a, b := &stubNotifier{}, &stubNotifier{err: errors.New("down")}
	err := Multi{a, b, NewLogNotifier()}.Send(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.Len(t, a.sent, 1)
	assert.Len(t, b.sent, 1)
}
