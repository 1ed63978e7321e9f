package mapscache

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/cache/keys"
	"github.com/mohammed-shakir/places-cache/internal/cache/ttlstore"
	"github.com/mohammed-shakir/places-cache/internal/core/observability"
)

// BBox is a latitude/longitude rectangle in degrees.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

func (b BBox) Validate() error {
	if err := keys.ValidateCoordinate(b.MinLat, b.MinLng); err != nil {
		return fmt.Errorf("bbox min corner: %w", err)
	}
	if err := keys.ValidateCoordinate(b.MaxLat, b.MaxLng); err != nil {
		return fmt.Errorf("bbox max corner: %w", err)
	}
	if b.MaxLat < b.MinLat || b.MaxLng < b.MinLng {
		return fmt.Errorf("%w: bbox max corner below min corner", keys.ErrInvalidCoordinate)
	}
	return nil
}

// ParseBBox reads "minLat,minLng,maxLat,maxLng" and validates the result.
func ParseBBox(raw string) (BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("%w: bbox expects minLat,minLng,maxLat,maxLng, got %q", keys.ErrInvalidCoordinate, raw)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("%w: bbox value %q", keys.ErrInvalidCoordinate, p)
		}
		v[i] = f
	}
	bb := BBox{MinLat: v[0], MinLng: v[1], MaxLat: v[2], MaxLng: v[3]}
	if err := bb.Validate(); err != nil {
		return BBox{}, err
	}
	return bb, nil
}

// InvalidateArea removes geo-grid entries whose cell overlaps bb. An empty
// typ matches every entry type.
func (c *Cache) InvalidateArea(bb BBox, typ cache.EntryType) (int, error) {
	if err := bb.Validate(); err != nil {
		return 0, err
	}
	if typ != "" && !typ.Valid() {
		return 0, fmt.Errorf("%w: %q", cache.ErrUnknownType, string(typ))
	}
	lo, err := keys.GridCellFor(bb.MinLat, bb.MinLng, c.gridSize)
	if err != nil {
		return 0, err
	}
	hi, err := keys.GridCellFor(bb.MaxLat, bb.MaxLng, c.gridSize)
	if err != nil {
		return 0, err
	}

	n := c.store.DeleteFunc(func(key string, e ttlstore.Entry) bool {
		cell, _, ok := keys.ParseGeoKey(key)
		if !ok {
			return false
		}
		if typ != "" && e.Type != typ {
			return false
		}
		return cell.Lat >= lo.Lat && cell.Lat <= hi.Lat &&
			cell.Lng >= lo.Lng && cell.Lng <= hi.Lng
	})
	observability.AddEvictions("area", n)
	c.log.Info("cache area invalidated",
		"min_lat", bb.MinLat, "min_lng", bb.MinLng,
		"max_lat", bb.MaxLat, "max_lng", bb.MaxLng,
		"type", string(typ), "removed", n)
	return n, nil
}
