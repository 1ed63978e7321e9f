package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/places-cache/internal/core/observability"
	mylog "github.com/mohammed-shakir/places-cache/internal/logger"
)

// idDedupe remembers recent event ids. lru.Cache locks internally.
type idDedupe struct {
	lru *lru.Cache[string, struct{}]
}

func newIDDedupe(size int) *idDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, struct{}](size)
	return &idDedupe{lru: c}
}

func (d *idDedupe) seen(id string) bool {
	return d.lru.Contains(id)
}

func (d *idDedupe) remember(id string) {
	d.lru.Add(id, struct{}{})
}

// Applier decodes raw events from a driver and applies each id once.
type Applier struct {
	target Target
	driver string
	log    *slog.Logger
	ids    *idDedupe
	mu     sync.Mutex
}

func NewApplier(target Target, driver string, log *slog.Logger) *Applier {
	if log == nil {
		log = slog.Default()
	}
	return &Applier{
		target: target,
		driver: driver,
		log:    log,
		ids:    newIDDedupe(8192),
	}
}

// Handle returns an error wrapping ErrMalformed for payloads that can never
// be applied. A failed apply is not remembered, so redelivery retries it.
func (a *Applier) Handle(ctx context.Context, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		observability.ObserveInvalidation(a.driver, "unknown", err)
		return fmt.Errorf("%w: decode: %v", ErrMalformed, err)
	}
	if err := ev.Validate(); err != nil {
		observability.ObserveInvalidation(a.driver, string(ev.Op), err)
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// one event at a time so a redelivered id cannot race its first apply
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx = mylog.WithComponent(ctx, "invalidation")
	if a.ids.seen(ev.ID) {
		a.log.DebugContext(ctx, "duplicate invalidation skipped", "id", ev.ID, "op", string(ev.Op))
		return nil
	}

	n, err := ev.Apply(a.target)
	observability.ObserveInvalidation(a.driver, string(ev.Op), err)
	if err != nil {
		return fmt.Errorf("apply %s: %w", ev.Op, err)
	}
	a.ids.remember(ev.ID)
	a.log.InfoContext(ctx, "invalidation applied",
		"driver", a.driver,
		"id", ev.ID,
		"op", string(ev.Op),
		"session", ev.Session,
		"removed", n)
	return nil
}
