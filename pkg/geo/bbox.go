// Package geo provides the geospatial value types consumed by patches:
// a bounding box bound to a coordinate reference system and a geometry
// table holding vector features. Both serialize to GeoJSON (paulmach/orb)
// with the CRS preserved as an extra member.
package geo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/c360/geopatch/errors"
)

// CRS is a coordinate reference system identified by its EPSG code
type CRS int

// Common reference systems
const (
	WGS84  CRS = 4326
	PopWeb CRS = 3857
)

// String renders the authority form, e.g. "EPSG:4326"
func (c CRS) String() string {
	return fmt.Sprintf("EPSG:%d", int(c))
}

// ParseCRS accepts "EPSG:4326", "4326" or an urn-style identifier
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndexAny(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}
	code, err := strconv.Atoi(s)
	if err != nil || code <= 0 {
		return 0, errors.Validation(errors.ErrInvalidBBox, "cannot parse CRS from %q", s)
	}
	return CRS(code), nil
}

// BBox is an axis-aligned bounding box in the given reference system
type BBox struct {
	MinX, MinY float64
	MaxX, MaxY float64
	CRS        CRS
}

// NewBBox validates corner ordering and builds a bounding box
func NewBBox(minX, minY, maxX, maxY float64, crs CRS) (*BBox, error) {
	if minX > maxX || minY > maxY {
		return nil, errors.Validation(
			errors.ErrInvalidBBox, "lower corner (%v, %v) above upper corner (%v, %v)", minX, minY, maxX, maxY)
	}
	if crs <= 0 {
		return nil, errors.Validation(errors.ErrInvalidBBox, "missing CRS")
	}
	return &BBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY, CRS: crs}, nil
}

// Equal compares coordinates and reference system
func (b *BBox) Equal(other *BBox) bool {
	if b == nil || other == nil {
		return b == other
	}
	return *b == *other
}

// Bound returns the orb bound of the box
func (b *BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

// Polygon returns the box outline as a closed ring
func (b *BBox) Polygon() orb.Polygon {
	return b.Bound().ToPolygon()
}

// String implements fmt.Stringer
func (b *BBox) String() string {
	return fmt.Sprintf("BBox(((%v, %v), (%v, %v)), crs=%s)", b.MinX, b.MinY, b.MaxX, b.MaxY, b.CRS)
}

const crsMember = "crs"

// MarshalGeoJSON encodes the box as a GeoJSON polygon feature carrying
// the CRS as a foreign member
func (b *BBox) MarshalGeoJSON() ([]byte, error) {
	feature := geojson.NewFeature(b.Polygon())
	feature.Properties = geojson.Properties{crsMember: b.CRS.String()}
	raw, err := json.Marshal(feature)
	if err != nil {
		return nil, errors.IO(err, "marshal bbox")
	}
	return raw, nil
}

// UnmarshalBBoxGeoJSON decodes a bounding box written by MarshalGeoJSON
func UnmarshalBBoxGeoJSON(raw []byte) (*BBox, error) {
	feature, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return nil, errors.IO(err, "unmarshal bbox")
	}
	crsValue, ok := feature.Properties[crsMember].(string)
	if !ok {
		return nil, errors.IO(errors.ErrCorruptedStore, "bbox file is missing its CRS")
	}
	crs, err := ParseCRS(crsValue)
	if err != nil {
		return nil, err
	}
	bound := feature.Geometry.Bound()
	return NewBBox(bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1], crs)
}
