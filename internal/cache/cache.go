// Package cache defines the entry types cached for mapping lookups and the
// TTL table that governs them.
package cache

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var ErrUnknownType = errors.New("unknown cache entry type")

type EntryType string

const (
	PlaceDetails   EntryType = "PLACE_DETAILS"
	Autocomplete   EntryType = "AUTOCOMPLETE"
	Geocoding      EntryType = "GEOCODING"
	DistanceMatrix EntryType = "DISTANCE_MATRIX"
	Directions     EntryType = "DIRECTIONS"
	NearbySearch   EntryType = "NEARBY_SEARCH"
)

// Types lists every entry type from the longest-lived class to the shortest.
var Types = []EntryType{
	PlaceDetails,
	Geocoding,
	Autocomplete,
	DistanceMatrix,
	Directions,
	NearbySearch,
}

func (t EntryType) Valid() bool {
	switch t {
	case PlaceDetails, Autocomplete, Geocoding, DistanceMatrix, Directions, NearbySearch:
		return true
	}
	return false
}

func (t EntryType) String() string { return string(t) }

// ParseType accepts the canonical upper-case name with any casing and
// surrounding whitespace.
func ParseType(s string) (EntryType, error) {
	t := EntryType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// TTLTable maps each entry type to its time-to-live.
type TTLTable map[EntryType]time.Duration

func DefaultTTLs() TTLTable {
	return TTLTable{
		PlaceDetails:   72 * time.Hour,
		Autocomplete:   24 * time.Hour,
		Geocoding:      48 * time.Hour,
		DistanceMatrix: 24 * time.Hour,
		Directions:     12 * time.Hour,
		NearbySearch:   6 * time.Hour,
	}
}

func (t TTLTable) TTL(typ EntryType) (time.Duration, error) {
	d, ok := t[typ]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, string(typ))
	}
	return d, nil
}

// WithOverrides returns a copy of t with the overrides applied. Keys are
// entry type names. The result must still cache place details longest and
// nearby-search results shortest.
func (t TTLTable) WithOverrides(ovr map[string]time.Duration) (TTLTable, error) {
	out := make(TTLTable, len(t))
	for k, v := range t {
		out[k] = v
	}

	names := make([]string, 0, len(ovr))
	for k := range ovr {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		typ, err := ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("ttl override: %w", err)
		}
		d := ovr[name]
		if d <= 0 {
			return nil, fmt.Errorf("ttl override %s: must be positive, got %s", typ, d)
		}
		out[typ] = d
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t TTLTable) Validate() error {
	for _, typ := range Types {
		d, ok := t[typ]
		if !ok {
			return fmt.Errorf("ttl table: missing %s", typ)
		}
		if d <= 0 {
			return fmt.Errorf("ttl table: %s must be positive, got %s", typ, d)
		}
	}
	longest, shortest := t[PlaceDetails], t[NearbySearch]
	for _, typ := range Types {
		if t[typ] > longest {
			return fmt.Errorf("ttl table: %s (%s) outlives %s (%s)", typ, t[typ], PlaceDetails, longest)
		}
		if t[typ] < shortest {
			return fmt.Errorf("ttl table: %s (%s) expires before %s (%s)", typ, t[typ], NearbySearch, shortest)
		}
	}
	return nil
}
