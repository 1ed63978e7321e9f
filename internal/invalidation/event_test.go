package invalidation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/mapscache"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func baseEvent(op Op) Event {
	return Event{ID: "ev-1", Version: 1, Op: op, TS: mustTS()}
}

func TestEvent_Validate_HappyPaths(t *testing.T) {
	area := baseEvent(OpClearArea)
	area.BBox = &mapscache.BBox{MinLat: 40, MinLng: -4, MaxLat: 41, MaxLng: -3}

	pattern := baseEvent(OpClearPattern)
	pattern.Pattern = "geo_"

	typ := baseEvent(OpClearType)
	typ.Type = cache.Autocomplete

	for _, ev := range []Event{baseEvent(OpClear), baseEvent(OpCleanup), area, pattern, typ} {
		if err := ev.Validate(); err != nil {
			t.Fatalf("%s: unexpected: %v", ev.Op, err)
		}
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	noID := baseEvent(OpClear)
	noID.ID = " "
	badVersion := baseEvent(OpClear)
	badVersion.Version = 2
	noTS := baseEvent(OpClear)
	noTS.TS = time.Time{}
	noPattern := baseEvent(OpClearPattern)
	badType := baseEvent(OpClearType)
	badType.Type = "WEATHER"
	noBox := baseEvent(OpClearArea)
	badBox := baseEvent(OpClearArea)
	badBox.BBox = &mapscache.BBox{MinLat: 5, MaxLat: 1}
	unknown := baseEvent("purge")

	cases := map[string]Event{
		"no id": noID, "version": badVersion, "no ts": noTS, "no pattern": noPattern,
		"bad type": badType, "no bbox": noBox, "bad bbox": badBox, "unknown op": unknown,
	}
	for name, ev := range cases {
		if err := ev.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if err := badType.Validate(); !errors.Is(err, cache.ErrUnknownType) {
		t.Fatalf("bad type err=%v", err)
	}
}

func TestNewEvent_FillsIdentity(t *testing.T) {
	a, b := NewEvent(OpClear), NewEvent(OpClear)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids=%q,%q", a.ID, b.ID)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestEvent_JSONShape(t *testing.T) {
	ev := baseEvent(OpClearArea)
	ev.Type = cache.NearbySearch
	ev.BBox = &mapscache.BBox{MinLat: 1, MinLng: 2, MaxLat: 3, MaxLng: 4}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"op":"clear_area"`, `"type":"NEARBY_SEARCH"`, `"min_lat":1`, `"ts":"2025-10-26T12:30:45Z"`} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("json %s missing %s", b, want)
		}
	}
	if strings.Contains(string(b), "pattern") {
		t.Fatalf("empty pattern should be omitted: %s", b)
	}
}
