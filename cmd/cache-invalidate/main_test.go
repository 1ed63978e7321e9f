package main

import (
	"errors"
	"testing"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/cache/keys"
	"github.com/mohammed-shakir/places-cache/internal/core/config"
	"github.com/mohammed-shakir/places-cache/internal/invalidation"
)

func TestBuildEvent(t *testing.T) {
	f, err := parseFlags([]string{"-op", "CLEAR_AREA", "-bbox", "40,-4,41,-3", "-type", "geocoding"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	ev, err := buildEvent(f)
	if err != nil {
		t.Fatalf("buildEvent: %v", err)
	}
	if ev.Op != invalidation.OpClearArea || ev.Type != cache.Geocoding || ev.BBox == nil || ev.BBox.MaxLat != 41 {
		t.Fatalf("event=%+v", ev)
	}
	if ev.ID == "" || ev.Source != "cache-invalidate" {
		t.Fatalf("missing id or source: %+v", ev)
	}
}

func TestBuildEvent_Rejects(t *testing.T) {
	cases := []struct {
		args []string
		want error
	}{
		{[]string{"-op", "clear_type", "-type", "weather"}, cache.ErrUnknownType},
		{[]string{"-op", "clear_area", "-bbox", "1,2"}, keys.ErrInvalidCoordinate},
		{[]string{"-op", "clear_pattern"}, nil},
		{[]string{"-op", "explode"}, nil},
	}
	for _, tc := range cases {
		f, err := parseFlags(tc.args)
		if err != nil {
			t.Fatalf("parseFlags(%v): %v", tc.args, err)
		}
		_, err = buildEvent(f)
		if err == nil || (tc.want != nil && !errors.Is(err, tc.want)) {
			t.Fatalf("buildEvent(%v) err=%v want %v", tc.args, err, tc.want)
		}
	}
}

func TestNewPublisher_UnknownDriver(t *testing.T) {
	if _, err := newPublisher(t.Context(), "carrier-pigeon", config.FromEnv()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
