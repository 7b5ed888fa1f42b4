// Bounding-box pre-filtering of geometry blobs.
//
// Every multi-vertex shape stores its bounding box right after the point
// count, as unsigned varints in the field's scaled integer space: xmin,
// ymin, then the widths. InstallFilterEnvelope converts a query box into
// the same space once, so IntersectsFilterEnvelope can reject most
// non-matching rows with integer comparisons after decoding at most six
// varints. The test is conservative: malformed blobs and shape types it
// does not know pass, leaving the exact test to the caller.
package filegdb

import (
	"fmt"
	"math"
)

// Envelope is an axis-aligned bounding box.
type Envelope struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Intersects reports whether e and o share at least one point.
func (e Envelope) Intersects(o Envelope) bool {
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// Contains reports whether the point lies inside or on e.
func (e Envelope) Contains(x, y float64) bool {
	return x >= e.MinX && x <= e.MaxX && y >= e.MinY && y <= e.MaxY
}

// filterBox is an envelope in unscaled integer coordinates.
type filterBox struct {
	xmin, xmax uint64
	ymin, ymax uint64
	empty      bool // the envelope lies entirely below the origin
}

// unscale converts a coordinate to the integer space of a geometry field,
// clamping at both ends.
func unscale(v, origin, scale float64) uint64 {
	d := (v - origin) * scale
	switch {
	case d < 0 || math.IsNaN(d):
		return 0
	case d >= math.MaxUint64:
		return math.MaxUint64
	}
	return uint64(0.5 + d)
}

// InstallFilterEnvelope sets the envelope IntersectsFilterEnvelope tests
// against. A nil envelope removes the filter.
func (t *Table) InstallFilterEnvelope(env *Envelope) error {
	if env == nil {
		t.filter = nil
		return nil
	}
	if t.schema.geomField < 0 {
		return ErrNoGeometryField
	}
	g := t.schema.fields[t.schema.geomField].Geometry
	t.filter = &filterBox{
		xmin:  unscale(env.MinX, g.XOrigin, g.XYScale),
		xmax:  unscale(env.MaxX, g.XOrigin, g.XYScale),
		ymin:  unscale(env.MinY, g.YOrigin, g.XYScale),
		ymax:  unscale(env.MaxY, g.YOrigin, g.XYScale),
		empty: env.MaxX < g.XOrigin || env.MaxY < g.YOrigin,
	}
	return nil
}

// bboxSkip returns the number of varints between the point count and the
// bounding box for a shape type. ok is false for point and null shapes,
// which carry no bounding box, and for unknown types.
func bboxSkip(shapeType uint32) (skip int, ok bool) {
	switch shapeType & 0xff {
	case shpMultiPoint, shpMultiPointM, shpMultiPointZ, shpMultiPointZM, shpGeneralMultiPoint:
		return 0, true
	case shpArc, shpArcM, shpArcZ, shpArcZM, shpPolygon, shpPolygonM, shpPolygonZ, shpPolygonZM:
		return 1, true
	case shpGeneralPolyline, shpGeneralPolygon:
		if shapeType&extCurveFlag != 0 {
			return 2, true
		}
		return 1, true
	case shpGeneralMultiPatch, shpMultiPatch, shpMultiPatchM:
		return 2, true
	}
	return 0, false
}

// IntersectsFilterEnvelope reports whether the bounding box embedded in a
// raw geometry blob may intersect the installed filter envelope. It
// reports true when no filter is installed.
func (t *Table) IntersectsFilterEnvelope(raw []byte) bool {
	f := t.filter
	if f == nil {
		return true
	}
	if f.empty {
		return false
	}

	shapeType, pos, _ := readVarUint[uint32](raw, 0, len(raw), checkNone)
	switch shapeType & 0xff {
	case shpNull:
		return true
	case shpPoint, shpPointM, shpPointZ, shpPointZM, shpGeneralPoint:
		x, pos, _ := readVarUint[uint64](raw, pos, len(raw), checkNone)
		if x == 0 {
			return false
		}
		if x-1 < f.xmin || x-1 > f.xmax {
			return false
		}
		y, _, _ := readVarUint[uint64](raw, pos, len(raw), checkNone)
		return y-1 >= f.ymin && y-1 <= f.ymax
	}

	skip, ok := bboxSkip(shapeType)
	if !ok {
		return true
	}
	points, pos, _ := readVarUint[uint32](raw, pos, len(raw), checkNone)
	if points == 0 {
		return true
	}
	pos, err := skipVarUint(raw, pos, len(raw), skip)
	if err != nil || pos >= len(raw) {
		return true
	}

	xmin, pos, _ := readVarUint[uint64](raw, pos, len(raw), checkNone)
	if xmin > f.xmax {
		return false
	}
	ymin, pos, _ := readVarUint[uint64](raw, pos, len(raw), checkNone)
	if ymin > f.ymax {
		return false
	}
	dx, pos, _ := readVarUint[uint64](raw, pos, len(raw), checkNone)
	if xmin+dx < f.xmin {
		return false
	}
	dy, _, _ := readVarUint[uint64](raw, pos, len(raw), checkNone)
	return ymin+dy >= f.ymin
}

// FeatureExtent decodes the bounding box of a raw geometry blob without
// decoding its coordinates. ok is false when the shape has no extent: null,
// empty and unknown shapes.
func (t *Table) FeatureExtent(raw []byte) (env Envelope, ok bool, err error) {
	if t.schema.geomField < 0 {
		return Envelope{}, false, ErrNoGeometryField
	}
	g := t.schema.fields[t.schema.geomField].Geometry
	scale := g.XYScale

	shapeType, pos, _ := readVarUint[uint32](raw, 0, len(raw), checkNone)
	switch shapeType & 0xff {
	case shpNull:
		return Envelope{}, false, nil
	case shpPoint, shpPointM, shpPointZ, shpPointZM, shpGeneralPoint:
		x, pos, _ := readVarUint[uint64](raw, pos, len(raw), checkNone)
		y, _, _ := readVarUint[uint64](raw, pos, len(raw), checkNone)
		if x == 0 {
			return Envelope{}, false, nil
		}
		env.MinX = float64(x-1)/scale + g.XOrigin
		env.MinY = float64(y-1)/scale + g.YOrigin
		env.MaxX, env.MaxY = env.MinX, env.MinY
		return env, true, nil
	}

	skip, known := bboxSkip(shapeType)
	if !known {
		return Envelope{}, false, nil
	}
	points, pos, _ := readVarUint[uint32](raw, pos, len(raw), checkNone)
	if points == 0 {
		return Envelope{}, false, nil
	}
	pos, err = skipVarUint(raw, pos, len(raw), skip)
	if err != nil || pos >= len(raw) {
		return Envelope{}, false, fmt.Errorf("%w: bounding box truncated", ErrCorruptGeometry)
	}

	xmin, pos, _ := readVarUint[uint64](raw, pos, len(raw), checkNone)
	ymin, pos, _ := readVarUint[uint64](raw, pos, len(raw), checkNone)
	dx, pos, _ := readVarUint[uint64](raw, pos, len(raw), checkNone)
	dy, _, _ := readVarUint[uint64](raw, pos, len(raw), checkNone)

	env.MinX = float64(xmin)/scale + g.XOrigin
	env.MinY = float64(ymin)/scale + g.YOrigin
	env.MaxX = float64(xmin+dx)/scale + g.XOrigin
	env.MaxY = float64(ymin+dy)/scale + g.YOrigin
	return env, true, nil
}
