// Geometry blob decoding.
//
// A geometry value starts with a varuint shape type. The low byte selects
// the shape family; for the general types the high bits carry the Z, M and
// curve flags. Coordinates are integers in the field's scaled space: a
// point stores each ordinate as raw+1 (0 means empty), multi-vertex shapes
// store signed deltas that accumulate across every part of the shape. All
// XY pairs come first, then all Z values, then all M values.
//
// Shapes with curve segments are routed through the extended shape buffer
// (shapebin.go). When that fails the linear vertices are decoded instead.
package filegdb

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-geom"
)

// Shape types as stored in the low byte of the type varuint.
const (
	shpNull              = 0
	shpPoint             = 1
	shpArc               = 3
	shpPolygon           = 5
	shpMultiPoint        = 8
	shpPointZ            = 9
	shpArcZ              = 10
	shpPointZM           = 11
	shpArcZM             = 13
	shpPolygonZM         = 15
	shpMultiPointZM      = 18
	shpPolygonZ          = 19
	shpMultiPointZ       = 20
	shpPointM            = 21
	shpArcM              = 23
	shpPolygonM          = 25
	shpMultiPointM       = 28
	shpMultiPatchM       = 31
	shpMultiPatch        = 32
	shpGeneralPolyline   = 50
	shpGeneralPolygon    = 51
	shpGeneralPoint      = 52
	shpGeneralMultiPoint = 53
	shpGeneralMultiPatch = 54
)

// Extended shape flags.
const (
	extZFlag     = 0x80000000
	extMFlag     = 0x40000000
	extCurveFlag = 0x20000000
)

// mAbsentMarker is written in place of an M array that holds no values.
const mAbsentMarker = 66

// GeometryConverter decodes the geometry blobs of one field. It keeps
// scratch space between calls and must not be shared between goroutines.
type GeometryConverter struct {
	info   *GeomInfo
	zScale float64
	mScale float64
	counts []uint32
	log    logrus.FieldLogger
}

// NewGeometryConverter returns a converter bound to the origin and scale of
// a geometry field.
func NewGeometryConverter(f *Field) (*GeometryConverter, error) {
	if f == nil || f.Type != FieldGeometry || f.Geometry == nil {
		return nil, ErrNoGeometryField
	}
	return &GeometryConverter{
		info:   f.Geometry,
		zScale: sanitizeScale(f.Geometry.ZScale),
		mScale: sanitizeScale(f.Geometry.MScale),
		log:    logrus.StandardLogger(),
	}, nil
}

// GeometryConverter returns a converter for the table's geometry field.
func (t *Table) GeometryConverter() (*GeometryConverter, error) {
	if t.schema.geomField < 0 {
		return nil, ErrNoGeometryField
	}
	c, err := NewGeometryConverter(t.schema.fields[t.schema.geomField])
	if err != nil {
		return nil, err
	}
	c.log = t.log
	return c, nil
}

func layoutOf(hasZ, hasM bool) geom.Layout {
	switch {
	case hasZ && hasM:
		return geom.XYZM
	case hasZ:
		return geom.XYZ
	case hasM:
		return geom.XYM
	}
	return geom.XY
}

// Geometry decodes a raw geometry blob. Null shapes and shape types the
// decoder does not know return a nil geometry and no error.
func (c *GeometryConverter) Geometry(raw []byte) (geom.T, error) {
	end := len(raw)
	shapeType, pos, _ := readVarUint[uint32](raw, 0, end, checkNone)
	hasZ := shapeType&extZFlag != 0
	hasM := shapeType&extMFlag != 0

	switch shapeType & 0xff {
	case shpNull:
		return nil, nil

	case shpPointZ, shpPointZM:
		hasZ = true
		fallthrough
	case shpPoint, shpPointM, shpGeneralPoint:
		if shapeType == shpPointM || shapeType == shpPointZM {
			hasM = true
		}
		return c.point(raw, pos, hasZ, hasM), nil

	case shpMultiPointZ, shpMultiPointZM:
		hasZ = true
		fallthrough
	case shpMultiPoint, shpMultiPointM, shpGeneralMultiPoint:
		if shapeType == shpMultiPointM || shapeType == shpMultiPointZM {
			hasM = true
		}
		g, err := c.multiPoint(raw, pos, end, hasZ, hasM)
		if err != nil {
			return nil, fmt.Errorf("%w: multipoint: %w", ErrCorruptGeometry, err)
		}
		return g, nil

	case shpArcZ, shpArcZM:
		hasZ = true
		fallthrough
	case shpArc, shpArcM, shpGeneralPolyline:
		if shapeType == shpArcM || shapeType == shpArcZM {
			hasM = true
		}
		g, err := c.multiPart(raw, pos, end, shpGeneralPolyline, shapeType&extCurveFlag != 0, hasZ, hasM)
		if err != nil {
			return nil, fmt.Errorf("%w: polyline: %w", ErrCorruptGeometry, err)
		}
		return g, nil

	case shpPolygonZ, shpPolygonZM:
		hasZ = true
		fallthrough
	case shpPolygon, shpPolygonM, shpGeneralPolygon:
		if shapeType == shpPolygonM || shapeType == shpPolygonZM {
			hasM = true
		}
		g, err := c.multiPart(raw, pos, end, shpGeneralPolygon, shapeType&extCurveFlag != 0, hasZ, hasM)
		if err != nil {
			return nil, fmt.Errorf("%w: polygon: %w", ErrCorruptGeometry, err)
		}
		return g, nil

	case shpMultiPatch, shpMultiPatchM:
		hasZ = true
		fallthrough
	case shpGeneralMultiPatch:
		g, err := c.multiPatch(raw, pos, end, hasZ)
		if err != nil {
			return nil, fmt.Errorf("%w: multipatch: %w", ErrCorruptGeometry, err)
		}
		return g, nil
	}

	c.log.Debugf("unhandled geometry type %d", shapeType)
	return nil, nil
}

// ordinate converts a point ordinate stored as raw+1.
func ordinate(raw uint64, scale, origin float64) float64 {
	if raw == 0 {
		return math.NaN()
	}
	return float64(raw-1)/scale + origin
}

func (c *GeometryConverter) point(raw []byte, pos int, hasZ, hasM bool) *geom.Point {
	g := c.info
	var x, y, z, m uint64
	x, pos, _ = readVarUint[uint64](raw, pos, len(raw), checkNone)
	y, pos, _ = readVarUint[uint64](raw, pos, len(raw), checkNone)

	flat := []float64{ordinate(x, g.XYScale, g.XOrigin), ordinate(y, g.XYScale, g.YOrigin)}
	if hasZ {
		z, pos, _ = readVarUint[uint64](raw, pos, len(raw), checkNone)
		flat = append(flat, ordinate(z, c.zScale, g.ZOrigin))
	}
	if hasM {
		m, _, _ = readVarUint[uint64](raw, pos, len(raw), checkNone)
		flat = append(flat, ordinate(m, c.mScale, g.MOrigin))
	}
	return geom.NewPointFlat(layoutOf(hasZ, hasM), flat)
}

func (c *GeometryConverter) multiPoint(raw []byte, pos, end int, hasZ, hasM bool) (*geom.MultiPoint, error) {
	points, pos, err := readVarUint[uint32](raw, pos, end, checkVerbose)
	if err != nil {
		return nil, err
	}
	if points == 0 {
		return geom.NewMultiPoint(layoutOf(hasZ, hasM)), nil
	}
	if int64(points) > int64(end-pos) {
		return nil, fmt.Errorf("%d points in %d bytes", points, end-pos)
	}
	if pos, err = skipVarUint(raw, pos, end, 4); err != nil {
		return nil, err
	}

	v := c.newVertices(int(points), hasZ, hasM)
	var dx, dy, dz, dm int64
	if pos, err = c.readXY(raw, pos, end, v.xy, &dx, &dy); err != nil {
		return nil, err
	}
	if hasZ {
		if pos, err = c.readZ(raw, pos, end, v.z, &dz); err != nil {
			return nil, err
		}
	}
	if hasM && !mAbsent(raw, pos, end, points) {
		if _, err = c.readM(raw, pos, end, v.m, &dm); err != nil {
			return nil, err
		}
	} else {
		v.m = nil
	}
	layout, flat := v.interleave()
	return geom.NewMultiPointFlat(layout, flat), nil
}

// mAbsent reports whether an M array of n values is missing: either fewer
// bytes remain than values, or a lone marker byte stands in for it.
func mAbsent(raw []byte, pos, end int, n uint32) bool {
	left := end - pos
	return int64(left) < int64(n) || (left == 1 && raw[pos] == mAbsentMarker)
}

// readPartDefs reads the point count, part count, optional curve count and
// per-part point counts of a multi-vertex shape. The bounding box between
// them is skipped. The counts land in c.counts.
func (c *GeometryConverter) readPartDefs(raw []byte, pos, end int, curveDesc, multiPatch bool) (points, parts, curves uint32, next int, err error) {
	if points, pos, err = readVarUint[uint32](raw, pos, end, checkVerbose); err != nil {
		return 0, 0, 0, pos, err
	}
	if points == 0 {
		return 0, 0, 0, pos, nil
	}
	if int64(points) > int64(end-pos) {
		return 0, 0, 0, pos, fmt.Errorf("%d points in %d bytes", points, end-pos)
	}
	if multiPatch {
		if pos, err = skipVarUint(raw, pos, end, 1); err != nil {
			return 0, 0, 0, pos, err
		}
	}
	if parts, pos, err = readVarUint[uint32](raw, pos, end, checkVerbose); err != nil {
		return 0, 0, 0, pos, err
	}
	if int64(parts) > int64(end-pos) || parts > math.MaxInt32/4-1 {
		return 0, 0, 0, pos, fmt.Errorf("%d parts in %d bytes", parts, end-pos)
	}
	if curveDesc {
		if curves, pos, err = readVarUint[uint32](raw, pos, end, checkVerbose); err != nil {
			return 0, 0, 0, pos, err
		}
		if int64(curves) > int64(end-pos) {
			return 0, 0, 0, pos, fmt.Errorf("%d curves in %d bytes", curves, end-pos)
		}
	}
	if parts == 0 {
		return points, 0, curves, pos, nil
	}
	if pos, err = skipVarUint(raw, pos, end, 4); err != nil {
		return 0, 0, 0, pos, err
	}

	if cap(c.counts) < int(parts) {
		c.counts = make([]uint32, parts)
	}
	c.counts = c.counts[:parts]
	var sum uint64
	for i := range int(parts) - 1 {
		var n uint32
		if n, pos, err = readVarUint[uint32](raw, pos, end, checkVerbose); err != nil {
			return 0, 0, 0, pos, err
		}
		if int64(n) > int64(end-pos) {
			return 0, 0, 0, pos, fmt.Errorf("part of %d points in %d bytes", n, end-pos)
		}
		c.counts[i] = n
		sum += uint64(n)
	}
	if sum > uint64(points) {
		return 0, 0, 0, pos, fmt.Errorf("parts hold %d points, shape declares %d", sum, points)
	}
	c.counts[parts-1] = points - uint32(sum)
	return points, parts, curves, pos, nil
}

// vertices holds decoded ordinates before they are interleaved into a flat
// coordinate slice. z and m are nil when the shape lacks them.
type vertices struct {
	xy []float64
	z  []float64
	m  []float64
}

func (c *GeometryConverter) newVertices(n int, hasZ, hasM bool) *vertices {
	v := &vertices{xy: make([]float64, 2*n)}
	if hasZ {
		v.z = make([]float64, n)
	}
	if hasM {
		v.m = make([]float64, n)
	}
	return v
}

// interleave returns the layout and flat coordinates of v.
func (v *vertices) interleave() (geom.Layout, []float64) {
	layout := layoutOf(v.z != nil, v.m != nil)
	stride := layout.Stride()
	n := len(v.xy) / 2
	flat := make([]float64, 0, n*stride)
	for i := range n {
		flat = append(flat, v.xy[2*i], v.xy[2*i+1])
		if v.z != nil {
			flat = append(flat, v.z[i])
		}
		if v.m != nil {
			flat = append(flat, v.m[i])
		}
	}
	return layout, flat
}

// readXY decodes len(dst)/2 delta-encoded XY pairs. The accumulators carry
// over between calls so consecutive parts continue from the last vertex.
func (c *GeometryConverter) readXY(raw []byte, pos, end int, dst []float64, dx, dy *int64) (int, error) {
	g := c.info
	for i := 0; i < len(dst); i += 2 {
		if pos >= end {
			return pos, fmt.Errorf("xy array truncated at %d", pos)
		}
		var err error
		if pos, err = readVarIntAdd(raw, pos, dx); err != nil {
			return pos, err
		}
		if pos, err = readVarIntAdd(raw, pos, dy); err != nil {
			return pos, err
		}
		dst[i] = float64(*dx)/g.XYScale + g.XOrigin
		dst[i+1] = float64(*dy)/g.XYScale + g.YOrigin
	}
	return pos, nil
}

func (c *GeometryConverter) readZ(raw []byte, pos, end int, dst []float64, dz *int64) (int, error) {
	for i := range dst {
		if pos >= end {
			return pos, fmt.Errorf("z array truncated at %d", pos)
		}
		var err error
		if pos, err = readVarIntAdd(raw, pos, dz); err != nil {
			return pos, err
		}
		dst[i] = float64(*dz)/c.zScale + c.info.ZOrigin
	}
	return pos, nil
}

func (c *GeometryConverter) readM(raw []byte, pos, end int, dst []float64, dm *int64) (int, error) {
	for i := range dst {
		if pos >= end {
			return pos, fmt.Errorf("m array truncated at %d", pos)
		}
		var err error
		if pos, err = readVarIntAdd(raw, pos, dm); err != nil {
			return pos, err
		}
		dst[i] = float64(*dm)/c.mScale + c.info.MOrigin
	}
	return pos, nil
}

// multiPart decodes polylines and polygons. base is shpGeneralPolyline or
// shpGeneralPolygon.
func (c *GeometryConverter) multiPart(raw []byte, pos, end int, base uint32, curveDesc, hasZ, hasM bool) (geom.T, error) {
	points, parts, curves, pos, err := c.readPartDefs(raw, pos, end, curveDesc, false)
	if err != nil {
		return nil, err
	}
	layout := layoutOf(hasZ, hasM)
	if points == 0 || parts == 0 {
		if base == shpGeneralPolygon {
			return geom.NewPolygon(layout), nil
		}
		return geom.NewLineString(layout), nil
	}

	if curves > 0 {
		buf, err := buildExtShape(c, base, parts, points, curves, hasZ, hasM, raw, pos, end)
		if err == nil {
			var g geom.T
			if g, err = shapeBinGeometry(buf); err == nil {
				return g, nil
			}
		}
		c.log.Debugf("curve geometry not decoded, using its vertices: %v", err)
	}

	v := c.newVertices(int(points), hasZ, hasM)
	var dx, dy, dz, dm int64
	if pos, err = c.readXY(raw, pos, end, v.xy, &dx, &dy); err != nil {
		return nil, err
	}
	if hasZ {
		if pos, err = c.readZ(raw, pos, end, v.z, &dz); err != nil {
			return nil, err
		}
	}
	if hasM {
		start := 0
		for _, n := range c.counts {
			if mAbsent(raw, pos, end, n) {
				v.m = nil
				break
			}
			if pos, err = c.readM(raw, pos, end, v.m[start:start+int(n)], &dm); err != nil {
				return nil, err
			}
			start += int(n)
		}
	}

	layout, flat := v.interleave()
	return assemble(base, layout, flat, partEnds(c.counts, layout.Stride()))
}

// partEnds converts per-part point counts to end offsets in a flat slice.
func partEnds(counts []uint32, stride int) []int {
	ends := make([]int, len(counts))
	end := 0
	for i, n := range counts {
		end += int(n) * stride
		ends[i] = end
	}
	return ends
}

// assemble builds the geometry of a polyline or polygon from its parts.
// One line part gives a LineString, several a MultiLineString. Polygon
// rings are grouped into polygons by containment.
func assemble(base uint32, layout geom.Layout, flat []float64, ends []int) (geom.T, error) {
	switch base {
	case shpGeneralPolyline:
		if len(ends) == 1 {
			return geom.NewLineStringFlat(layout, flat), nil
		}
		return geom.NewMultiLineStringFlat(layout, flat, ends), nil
	case shpGeneralPolygon:
		if len(ends) == 1 {
			return geom.NewPolygonFlat(layout, flat, ends), nil
		}
		return organizeRings(layout, flat, ends), nil
	}
	return nil, fmt.Errorf("shape type %d is not multi-part", base)
}
