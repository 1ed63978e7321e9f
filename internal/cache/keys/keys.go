// Package keys builds the canonical cache keys for place, geo-grid, text
// query and distance-matrix batch lookups.
package keys

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/mohammed-shakir/places-cache/internal/cache"
)

const (
	DefaultGridSize = 0.001

	PlacePrefix = "place_"
	GeoPrefix   = "geo_"
	QueryPrefix = "query_"
	BatchPrefix = "batch_"

	// VariantSep separates a geo key from its request parameters.
	VariantSep = "#"

	batchItemSep = "|"
	batchSideSep = "::"
)

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Cell is a grid bucket of GridSize degrees on each axis.
type Cell struct {
	Lat int64
	Lng int64
}

func (c Cell) String() string {
	return strconv.FormatInt(c.Lat, 10) + "_" + strconv.FormatInt(c.Lng, 10)
}

// NormalizeQuery folds case, drops punctuation and collapses whitespace.
// Letters of any script (accented Latin included) and digits are kept as is.
// Input is NFC-composed first so precomposed and combining-accent spellings
// collide, and lower-casing uses the root locale so the result never depends
// on the host language (Turkish dotted I lowers to "i̇", not "i").
func NormalizeQuery(q string) string {
	s := cases.Lower(language.Und).String(norm.NFC.String(q))

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		default:
			// punctuation, symbols and control runes are dropped
		}
	}
	return b.String()
}

// GridCellFor buckets a coordinate by floor division with gridSize.
func GridCellFor(lat, lng, gridSize float64) (Cell, error) {
	if gridSize <= 0 || math.IsNaN(gridSize) || math.IsInf(gridSize, 0) {
		return Cell{}, fmt.Errorf("grid size %v must be a positive finite number", gridSize)
	}
	if err := ValidateCoordinate(lat, lng); err != nil {
		return Cell{}, err
	}
	return Cell{
		Lat: int64(math.Floor(lat / gridSize)),
		Lng: int64(math.Floor(lng / gridSize)),
	}, nil
}

func ValidateCoordinate(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return fmt.Errorf("%w: non-finite lat=%v lng=%v", ErrInvalidCoordinate, lat, lng)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, lng)
	}
	return nil
}

// BatchKey is independent of the order of origins and of destinations.
// The inputs are not modified.
func BatchKey(origins, destinations []string) string {
	o := slices.Clone(origins)
	d := slices.Clone(destinations)
	slices.Sort(o)
	slices.Sort(d)
	return strings.Join(o, batchItemSep) + batchSideSep + strings.Join(d, batchItemSep)
}

func PlaceKey(placeID string, typ cache.EntryType) string {
	return PlacePrefix + strings.TrimSpace(placeID) + "_" + string(typ)
}

func GeoKey(c Cell, typ cache.EntryType) string {
	return GeoPrefix + c.String() + "_" + string(typ)
}

// GeoVariantKey extends GeoKey with request parameters that change the
// answer for the same cell, such as a search radius. An empty variant is
// GeoKey.
func GeoVariantKey(c Cell, typ cache.EntryType, variant string) string {
	k := GeoKey(c, typ)
	if variant == "" {
		return k
	}
	return k + VariantSep + variant
}

func QueryKey(query string, typ cache.EntryType) string {
	return QueryPrefix + NormalizeQuery(query) + "_" + string(typ)
}

func BatchCacheKey(origins, destinations []string) string {
	return BatchPrefix + BatchKey(origins, destinations)
}

// ParseGeoKey reverses GeoKey and GeoVariantKey, dropping the variant. ok is false for any other key shape.
func ParseGeoKey(key string) (c Cell, typ cache.EntryType, ok bool) {
	rest, found := strings.CutPrefix(key, GeoPrefix)
	if !found {
		return Cell{}, "", false
	}
	rest, _, _ = strings.Cut(rest, VariantSep)
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) != 3 {
		return Cell{}, "", false
	}
	lat, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cell{}, "", false
	}
	lng, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cell{}, "", false
	}
	return Cell{Lat: lat, Lng: lng}, cache.EntryType(parts[2]), true
}
