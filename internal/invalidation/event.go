// Package invalidation carries cache invalidation commands between
// processes. Events only remove entries. Cached data never travels on the bus.
package invalidation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/mapscache"
)

type Op string

const (
	// OpClear drops every entry, e.g. when the user session ends.
	OpClear        Op = "clear"
	OpClearPattern Op = "clear_pattern"
	OpClearType    Op = "clear_type"
	OpClearArea    Op = "clear_area"
	OpCleanup      Op = "cleanup"
)

const EventVersion = 1

// ErrMalformed marks events that can never be applied. Consumers skip them
// instead of retrying.
var ErrMalformed = errors.New("malformed invalidation event")

type Event struct {
	ID      string          `json:"id"`
	Version int             `json:"version"`
	Op      Op              `json:"op"`
	Pattern string          `json:"pattern,omitempty"`
	Type    cache.EntryType `json:"type,omitempty"`
	BBox    *mapscache.BBox `json:"bbox,omitempty"`
	Session string          `json:"session,omitempty"`
	Source  string          `json:"source,omitempty"`
	TS      time.Time       `json:"ts"`
}

// NewEvent returns a versioned event with a fresh id.
func NewEvent(op Op) Event {
	return Event{
		ID:      uuid.NewString(),
		Version: EventVersion,
		Op:      op,
		TS:      time.Now().UTC(),
	}
}

func (e Event) Validate() error {
	if e.Version != EventVersion {
		return fmt.Errorf("version must be %d", EventVersion)
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("id is required")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	switch e.Op {
	case OpClear, OpCleanup:
	case OpClearPattern:
		if e.Pattern == "" {
			return errors.New("clear_pattern requires pattern")
		}
	case OpClearType:
		if !e.Type.Valid() {
			return fmt.Errorf("clear_type: %w: %q", cache.ErrUnknownType, string(e.Type))
		}
	case OpClearArea:
		if e.BBox == nil {
			return errors.New("clear_area requires bbox")
		}
		if err := e.BBox.Validate(); err != nil {
			return fmt.Errorf("clear_area: %w", err)
		}
		if e.Type != "" && !e.Type.Valid() {
			return fmt.Errorf("clear_area: %w: %q", cache.ErrUnknownType, string(e.Type))
		}
	default:
		return fmt.Errorf("op must be clear|clear_pattern|clear_type|clear_area|cleanup, got %q", e.Op)
	}
	return nil
}

// Target is the cache an event is applied to.
type Target interface {
	Clear() int
	ClearPattern(substr string) int
	ClearType(typ cache.EntryType) (int, error)
	InvalidateArea(bb mapscache.BBox, typ cache.EntryType) (int, error)
	Cleanup() int
}

var _ Target = (*mapscache.Cache)(nil)

// Apply runs the event against t and returns how many entries went away.
func (e Event) Apply(t Target) (int, error) {
	switch e.Op {
	case OpClear:
		return t.Clear(), nil
	case OpClearPattern:
		return t.ClearPattern(e.Pattern), nil
	case OpClearType:
		return t.ClearType(e.Type)
	case OpClearArea:
		if e.BBox == nil {
			return 0, errors.New("clear_area requires bbox")
		}
		return t.InvalidateArea(*e.BBox, e.Type)
	case OpCleanup:
		return t.Cleanup(), nil
	default:
		return 0, fmt.Errorf("unsupported op %q", e.Op)
	}
}
