package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"ohlcv-syncv1/internal/breaker"
	"ohlcv-syncv1/internal/model"
)

// BufferedPublisher wraps a report publisher with a circuit breaker.
// While the circuit is open, reports are buffered locally and replayed
// after the next successful publish.
type BufferedPublisher struct {
	sink model.ReportPublisher
	cb   *breaker.Breaker

	mu     sync.Mutex
	buffer []model.SyncReport
	maxBuf int // max buffered reports before dropping oldest (default: 1000)

	// Callbacks
	OnBuffer func()          // called when a report is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered reports
}

// NewBufferedPublisher creates a BufferedPublisher. settings configures the
// breaker; its OnStateChange callback is preserved.
func NewBufferedPublisher(sink model.ReportPublisher, settings breaker.Settings, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	if settings.Name == "" {
		settings.Name = "redis"
	}
	prev := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to breaker.State) {
		if prev != nil {
			prev(name, from, to)
		}
		log.Printf("[redis] circuit %s: %s -> %s", name, from, to)
	}

	return &BufferedPublisher{
		sink:   sink,
		cb:     breaker.New(settings),
		buffer: make([]model.SyncReport, 0, 64),
		maxBuf: maxBufferSize,
	}
}

// PublishReport implements model.ReportPublisher. A report rejected by an
// open circuit is buffered and nil is returned.
func (bp *BufferedPublisher) PublishReport(ctx context.Context, r model.SyncReport) error {
	err := bp.cb.Do(ctx, func(ctx context.Context) error {
		return bp.sink.PublishReport(ctx, r)
	})
	switch {
	case errors.Is(err, breaker.ErrOpen):
		bp.bufferReport(r)
		return nil
	case err != nil:
		bp.bufferReport(r)
		return err
	}
	bp.flush(ctx)
	return nil
}

// State returns the breaker state.
func (bp *BufferedPublisher) State() breaker.State { return bp.cb.State() }

func (bp *BufferedPublisher) bufferReport(r model.SyncReport) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		// Buffer full: drop oldest
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, r)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered reports. Reports that fail again are re-buffered.
func (bp *BufferedPublisher) flush(ctx context.Context) {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bp.buffer
	bp.buffer = make([]model.SyncReport, 0, 64)
	bp.mu.Unlock()

	flushed := 0
	for i, r := range toFlush {
		if err := bp.sink.PublishReport(ctx, r); err != nil {
			log.Printf("[redis] flush stopped after %d reports: %v", flushed, err)
			bp.mu.Lock()
			bp.buffer = append(append([]model.SyncReport(nil), toFlush[i:]...), bp.buffer...)
			bp.mu.Unlock()
			break
		}
		flushed++
	}

	if flushed > 0 {
		log.Printf("[redis] flushed %d buffered reports", flushed)
		if bp.OnFlush != nil {
			bp.OnFlush(flushed)
		}
	}
}

// PendingCount returns the number of buffered reports waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
