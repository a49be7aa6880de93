package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Map projections from world block coordinates onto the rendering surface.
//
// Simple follows a flat CRS: the map X axis is world X and the map Y axis is
// world -Z, both multiplied by the scale. Mercator treats the scaled values
// as EPSG:3857 metres and converts them to EPSG:4326 longitude/latitude.
const (
	ProjectionSimple   = "simple"
	ProjectionMercator = "mercator"
)

var (
	// ErrInvalidProjection is returned for an unknown projection name.
	ErrInvalidProjection = errors.New("invalid projection")

	// ErrInvalidScale is returned for a non-positive or non-finite scale.
	ErrInvalidScale = errors.New("invalid projection scale")

	// ErrInvalidPosition is returned when a position has no finite projection.
	ErrInvalidPosition = errors.New("invalid position")
)

// Projector converts world X/Z into surface coordinates.
type Projector struct {
	kind      string
	scale     float64
	transform func(a, b, c float64) (float64, float64, float64)
}

// NewProjector creates a projector. An empty kind means simple.
func NewProjector(kind string, scale float64) (*Projector, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = ProjectionSimple
	}
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, ErrInvalidScale
	}

	p := &Projector{kind: kind, scale: scale}
	switch kind {
	case ProjectionSimple:
	case ProjectionMercator:
		p.transform = wgs84.EPSG().Transform(3857, 4326)
	default:
		return nil, ErrInvalidProjection
	}
	return p, nil
}

// Kind returns the projection name.
func (p *Projector) Kind() string {
	return p.kind
}

// Project returns the surface point for a world position. X is the
// horizontal axis (lng), Y the vertical one (lat). Positions that do not
// project to finite coordinates fail with ErrInvalidPosition.
func (p *Projector) Project(x, z float64) (geom.Point, error) {
	mx, my := x*p.scale, -z*p.scale
	if p.transform != nil {
		mx, my, _ = p.transform(mx, my, 0)
	}
	pt, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: mx, Y: my},
		Type: geom.DimXY,
	})
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY), fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	return pt, nil
}

// LatLng is Project flattened to the (lat, lng) order map libraries use.
func (p *Projector) LatLng(x, z float64) (lat, lng float64, err error) {
	pt, err := p.Project(x, z)
	if err != nil {
		return 0, 0, err
	}
	xy, ok := pt.XY()
	if !ok {
		return 0, 0, ErrInvalidPosition
	}
	return xy.Y, xy.X, nil
}
