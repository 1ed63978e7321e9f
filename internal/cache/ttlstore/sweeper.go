package ttlstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/places-cache/internal/core/observability"
)

const DefaultSweepInterval = 30 * time.Minute

var ErrSweeperRunning = errors.New("sweeper already running")

// Sweeper runs Store.Cleanup on a fixed interval until stopped.
type Sweeper struct {
	store    *Store
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(s *Store, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: s, interval: interval, log: log}
}

// Start launches the sweep loop. It stops when ctx is cancelled or Stop is
// called.
func (w *Sweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return ErrSweeperRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	// ticker is created before the goroutine so a mock clock advanced right
	// after Start still fires it
	ticker := w.store.clock.Ticker(w.interval)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.sweep()
			}
		}
	}()

	w.log.Info("cache sweeper started", "interval", w.interval.String())
	return nil
}

// Stop cancels the loop and waits for it to exit. Safe to call more than
// once and on a sweeper that never started.
func (w *Sweeper) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.log.Info("cache sweeper stopped")
}

func (w *Sweeper) sweep() {
	start := time.Now()
	removed := w.store.Cleanup()
	dur := time.Since(start)
	observability.ObserveSweep(dur.Seconds())
	w.log.Debug("cache sweep",
		"removed", removed,
		"remaining", w.store.Len(),
		"duration", dur.String())
}
