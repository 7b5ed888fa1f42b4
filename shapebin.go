// Extended shape buffers.
//
// Curved polylines and polygons are rebuilt in the extended shapefile
// record layout before decoding: the shape type with its flags, a 32-byte
// bounding box, the part and point counts, the part start indices, the XY
// doubles, optional Z and M blocks (each preceded by a 16-byte range) and
// finally the curve segment descriptions. shapeBinGeometry reads such a
// buffer and replaces every curve segment by a run of vertices along it.
//
// Segment payloads:
//
//	arc      20 bytes  two doubles (centre or interior point), int32 flags
//	bezier   32 bytes  two control points
//	ellipse  44 bytes  centre, rotation, semi-major axis, minor/major ratio, int32 flags
package filegdb

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/twpayne/go-geom"
)

// Curve segment types.
const (
	segArc     = 1
	segBezier  = 4
	segEllipse = 5
)

// Arc flags.
const (
	arcEmpty   = 0x01
	arcCCW     = 0x08
	arcLine    = 0x20
	arcPoint   = 0x40
	arcDefined = 0x80 // the double pair is a point on the arc, not its centre
)

// Ellipse flags.
const (
	ellipseEmpty    = 0x0001
	ellipseLine     = 0x0040
	ellipsePoint    = 0x0080
	ellipseCircular = 0x0100
	ellipseCCW      = 0x0800
	ellipseComplete = 0x2000
)

const (
	arcStep      = 4 * math.Pi / 180 // largest angle between densified arc vertices
	bezierSteps  = 20
	extShapeBase = 44
)

func segmentSize(kind uint32) int {
	switch kind {
	case segArc:
		return 2*8 + 4
	case segBezier:
		return 4 * 8
	case segEllipse:
		return 5*8 + 4
	}
	return 0
}

// buildExtShape decodes the compressed vertex arrays and curve list that
// follow the part definitions at pos into an extended shape buffer. The part
// counts are taken from c.counts.
func buildExtShape(c *GeometryConverter, base, parts, points, curves uint32, hasZ, hasM bool, raw []byte, pos, end int) ([]byte, error) {
	dims := 2
	if hasZ {
		dims++
	}
	if hasM {
		dims++
	}
	maxSize := extShapeBase + 4*uint64(parts) + 8*uint64(dims)*uint64(points) + 4 +
		uint64(curves)*(4+4+44) + uint64(dims-2)*16
	if maxSize >= math.MaxInt32 {
		return nil, fmt.Errorf("extended shape of %d bytes", maxSize)
	}

	shapeType := base | extCurveFlag
	if hasZ {
		shapeType |= extZFlag
	}
	if hasM {
		shapeType |= extMFlag
	}
	buf := make([]byte, 0, maxSize)
	buf = binary.LittleEndian.AppendUint32(buf, shapeType)
	buf = append(buf, make([]byte, 32)...)
	buf = binary.LittleEndian.AppendUint32(buf, parts)
	buf = binary.LittleEndian.AppendUint32(buf, points)
	var start uint32
	for _, n := range c.counts {
		buf = binary.LittleEndian.AppendUint32(buf, start)
		start += n
	}

	var err error
	var dx, dy, dz, dm int64
	xy := make([]float64, 2*points)
	if pos, err = c.readXY(raw, pos, end, xy, &dx, &dy); err != nil {
		return nil, err
	}
	buf = appendFloats(buf, xy)

	if hasZ {
		z := make([]float64, points)
		if pos, err = c.readZ(raw, pos, end, z, &dz); err != nil {
			return nil, err
		}
		buf = append(buf, make([]byte, 16)...)
		buf = appendFloats(buf, z)
	}
	if hasM {
		if byteAt(raw, pos) == mAbsentMarker {
			pos++
			shapeType &^= extMFlag
			binary.LittleEndian.PutUint32(buf, shapeType)
		} else {
			m := make([]float64, points)
			if pos, err = c.readM(raw, pos, end, m, &dm); err != nil {
				return nil, err
			}
			buf = append(buf, make([]byte, 16)...)
			buf = appendFloats(buf, m)
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, curves)
	for range curves {
		var first, kind uint32
		if first, pos, err = readVarUint[uint32](raw, pos, end, checkVerbose); err != nil {
			return nil, err
		}
		if kind, pos, err = readVarUint[uint32](raw, pos, end, checkVerbose); err != nil {
			return nil, err
		}
		n := segmentSize(kind)
		if n == 0 {
			return nil, fmt.Errorf("curve segment type %d", kind)
		}
		if pos+n > end {
			return nil, fmt.Errorf("curve segment truncated at %d", pos)
		}
		buf = binary.LittleEndian.AppendUint32(buf, first)
		buf = binary.LittleEndian.AppendUint32(buf, kind)
		buf = append(buf, raw[pos:pos+n]...)
		pos += n
	}
	return buf, nil
}

func appendFloats(buf []byte, v []float64) []byte {
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	}
	return buf
}

// segment is one curve segment of an extended shape. It replaces the
// straight edge from vertex start to vertex start+1.
type segment struct {
	start   uint32
	kind    uint32
	payload []byte
}

// extShape is a parsed extended shape buffer.
type extShape struct {
	base     uint32
	layout   geom.Layout
	starts   []uint32
	xy       []float64
	z        []float64
	m        []float64
	segments []segment
}

// shapeBinReader reads an extended shape buffer with bounds checks.
type shapeBinReader struct {
	buf []byte
	pos int
	err error
}

func (r *shapeBinReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.buf)-r.pos {
		r.err = fmt.Errorf("extended shape truncated at %d", r.pos)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *shapeBinReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return readU32(b, 0)
	}
	return 0
}

func (r *shapeBinReader) floats(n int) []float64 {
	b := r.take(8 * n)
	if b == nil {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = readF64(b, 8*i)
	}
	return out
}

// parseExtShape reads an extended shape buffer.
func parseExtShape(buf []byte) (*extShape, error) {
	r := &shapeBinReader{buf: buf}
	shapeType := r.u32()
	r.take(32)
	parts := r.u32()
	points := r.u32()
	if r.err != nil {
		return nil, r.err
	}
	if uint64(parts)*4 > uint64(len(buf)) || uint64(points)*16 > uint64(len(buf)) {
		return nil, fmt.Errorf("extended shape declares %d parts and %d points in %d bytes", parts, points, len(buf))
	}

	s := &extShape{
		base:   shapeType & 0xff,
		layout: layoutOf(shapeType&extZFlag != 0, shapeType&extMFlag != 0),
		starts: make([]uint32, parts),
	}
	for i := range s.starts {
		s.starts[i] = r.u32()
		if s.starts[i] > points || (i > 0 && s.starts[i] < s.starts[i-1]) {
			return nil, fmt.Errorf("part %d starts at %d", i, s.starts[i])
		}
	}
	s.xy = r.floats(2 * int(points))
	if shapeType&extZFlag != 0 {
		r.take(16)
		s.z = r.floats(int(points))
	}
	if shapeType&extMFlag != 0 {
		r.take(16)
		s.m = r.floats(int(points))
	}
	if shapeType&extCurveFlag != 0 {
		curves := r.u32()
		if r.err == nil && uint64(curves)*12 > uint64(len(buf)-r.pos) {
			return nil, fmt.Errorf("%d curves in %d bytes", curves, len(buf)-r.pos)
		}
		for range curves {
			seg := segment{start: r.u32(), kind: r.u32()}
			n := segmentSize(seg.kind)
			if r.err == nil && n == 0 {
				return nil, fmt.Errorf("curve segment type %d", seg.kind)
			}
			seg.payload = r.take(n)
			if r.err == nil && seg.start >= points {
				return nil, fmt.Errorf("curve segment starts at vertex %d of %d", seg.start, points)
			}
			s.segments = append(s.segments, seg)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	slices.SortStableFunc(s.segments, func(a, b segment) int {
		return int(a.start) - int(b.start)
	})
	return s, nil
}

// shapeBinGeometry decodes an extended shape buffer, densifying its curve
// segments.
func shapeBinGeometry(buf []byte) (geom.T, error) {
	s, err := parseExtShape(buf)
	if err != nil {
		return nil, err
	}
	flat, ends := s.densify()
	return assemble(s.base, s.layout, flat, ends)
}

// curvePoint is an interior vertex of a densified segment. t is its
// position along the segment in (0,1), used to interpolate Z and M.
type curvePoint struct {
	x, y, t float64
}

// densify returns the flat coordinates and part ends of the shape with
// every curve segment replaced by vertices along the curve.
func (s *extShape) densify() ([]float64, []int) {
	stride := s.layout.Stride()
	points := uint32(len(s.xy) / 2)
	flat := make([]float64, 0, int(points)*stride)
	ends := make([]int, 0, len(s.starts))

	next := 0
	for p, first := range s.starts {
		last := points
		if p+1 < len(s.starts) {
			last = s.starts[p+1]
		}
		for i := first; i < last; i++ {
			flat = s.appendVertex(flat, i, i, 0)
			for next < len(s.segments) && s.segments[next].start < i {
				next++
			}
			if i+1 >= last || next >= len(s.segments) || s.segments[next].start != i {
				continue
			}
			for _, cp := range s.segments[next].points(s.xy, i) {
				flat = append(flat, cp.x, cp.y)
				flat = s.appendZM(flat, i, i+1, cp.t)
			}
		}
		ends = append(ends, len(flat))
	}
	return flat, ends
}

func (s *extShape) appendVertex(flat []float64, i, j uint32, t float64) []float64 {
	flat = append(flat, s.xy[2*i], s.xy[2*i+1])
	return s.appendZM(flat, i, j, t)
}

// appendZM appends the Z and M values interpolated at t between vertices
// i and j.
func (s *extShape) appendZM(flat []float64, i, j uint32, t float64) []float64 {
	if s.z != nil {
		flat = append(flat, s.z[i]+(s.z[j]-s.z[i])*t)
	}
	if s.m != nil {
		flat = append(flat, s.m[i]+(s.m[j]-s.m[i])*t)
	}
	return flat
}

// points returns the interior vertices of the segment from vertex i to
// vertex i+1. Degenerate segments return none, leaving a straight edge.
func (seg segment) points(xy []float64, i uint32) []curvePoint {
	x0, y0 := xy[2*i], xy[2*i+1]
	x1, y1 := xy[2*i+2], xy[2*i+3]
	b := seg.payload
	switch seg.kind {
	case segArc:
		px, py := readF64(b, 0), readF64(b, 8)
		bits := readU32(b, 16)
		switch {
		case bits&(arcEmpty|arcLine|arcPoint) != 0:
			return nil
		case bits&arcDefined != 0:
			return arcThrough(x0, y0, px, py, x1, y1, bits&arcCCW != 0)
		}
		return arcAround(x0, y0, x1, y1, px, py, bits&arcCCW != 0)

	case segBezier:
		return bezier(x0, y0, readF64(b, 0), readF64(b, 8), readF64(b, 16), readF64(b, 24), x1, y1)

	case segEllipse:
		cx, cy := readF64(b, 0), readF64(b, 8)
		rotation, semiMajor, ratio := readF64(b, 16), readF64(b, 24), readF64(b, 32)
		bits := readU32(b, 40)
		switch {
		case bits&(ellipseEmpty|ellipseLine|ellipsePoint) != 0:
			return nil
		case bits&ellipseCircular != 0 || ratio == 1:
			return arcAround(x0, y0, x1, y1, cx, cy, bits&ellipseCCW != 0)
		}
		return ellipseArc(x0, y0, x1, y1, cx, cy, rotation, semiMajor, semiMajor*ratio,
			bits&ellipseCCW != 0, bits&ellipseComplete != 0)
	}
	return nil
}

// sweep returns the signed angle from a0 to a1 in the given direction. Equal
// angles give a full turn.
func sweep(a0, a1 float64, ccw bool) float64 {
	d := a1 - a0
	if ccw {
		for d <= 0 {
			d += 2 * math.Pi
		}
		return d
	}
	for d >= 0 {
		d -= 2 * math.Pi
	}
	return d
}

func steps(angle float64) int {
	return max(1, int(math.Ceil(math.Abs(angle)/arcStep)))
}

// arcAround densifies the circular arc from (x0,y0) to (x1,y1) around the
// centre (cx,cy).
func arcAround(x0, y0, x1, y1, cx, cy float64, ccw bool) []curvePoint {
	r := math.Hypot(x0-cx, y0-cy)
	if r == 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return nil
	}
	a0 := math.Atan2(y0-cy, x0-cx)
	d := sweep(a0, math.Atan2(y1-cy, x1-cx), ccw)
	n := steps(d)
	out := make([]curvePoint, 0, n-1)
	for k := 1; k < n; k++ {
		t := float64(k) / float64(n)
		a := a0 + d*t
		out = append(out, curvePoint{x: cx + r*math.Cos(a), y: cy + r*math.Sin(a), t: t})
	}
	return out
}

// arcThrough densifies the circular arc from (x0,y0) through (xi,yi) to
// (x1,y1). The direction follows the three points; ccw only orients a
// closed arc, which is a full circle whose diameter ends at the start and
// interior points. Collinear points give a straight edge.
func arcThrough(x0, y0, xi, yi, x1, y1 float64, ccw bool) []curvePoint {
	if x0 == x1 && y0 == y1 {
		return arcAround(x0, y0, x1, y1, (x0+xi)/2, (y0+yi)/2, ccw)
	}
	d := 2 * (x0*(yi-y1) + xi*(y1-y0) + x1*(y0-yi))
	if math.Abs(d) < 1e-12*(math.Abs(x0)+math.Abs(y0)+math.Abs(x1)+math.Abs(y1)+1) {
		return nil
	}
	s0 := x0*x0 + y0*y0
	si := xi*xi + yi*yi
	s1 := x1*x1 + y1*y1
	cx := (s0*(yi-y1) + si*(y1-y0) + s1*(y0-yi)) / d
	cy := (s0*(x1-xi) + si*(x0-x1) + s1*(xi-x0)) / d
	turn := (xi-x0)*(y1-y0) - (yi-y0)*(x1-x0)
	return arcAround(x0, y0, x1, y1, cx, cy, turn > 0)
}

// bezier densifies the cubic Bezier curve with the given control points.
func bezier(x0, y0, cx1, cy1, cx2, cy2, x1, y1 float64) []curvePoint {
	out := make([]curvePoint, 0, bezierSteps-1)
	for k := 1; k < bezierSteps; k++ {
		t := float64(k) / bezierSteps
		u := 1 - t
		a, b, c, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
		out = append(out, curvePoint{
			x: a*x0 + b*cx1 + c*cx2 + d*x1,
			y: a*y0 + b*cy1 + c*cy2 + d*y1,
			t: t,
		})
	}
	return out
}

// ellipseArc densifies the elliptic arc from (x0,y0) to (x1,y1) on the
// ellipse centred at (cx,cy) with its major axis rotated by rotation.
func ellipseArc(x0, y0, x1, y1, cx, cy, rotation, a, b float64, ccw, complete bool) []curvePoint {
	if a == 0 || b == 0 || math.IsNaN(a) || math.IsNaN(b) {
		return nil
	}
	sin, cos := math.Sincos(rotation)
	param := func(x, y float64) float64 {
		u := (x-cx)*cos + (y-cy)*sin
		v := -(x-cx)*sin + (y-cy)*cos
		return math.Atan2(v/b, u/a)
	}
	t0 := param(x0, y0)
	var d float64
	if complete && x0 == x1 && y0 == y1 {
		d = 2 * math.Pi
		if !ccw {
			d = -d
		}
	} else {
		d = sweep(t0, param(x1, y1), ccw)
	}

	n := steps(d)
	out := make([]curvePoint, 0, n-1)
	for k := 1; k < n; k++ {
		t := float64(k) / float64(n)
		u, v := a*math.Cos(t0+d*t), b*math.Sin(t0+d*t)
		out = append(out, curvePoint{x: cx + u*cos - v*sin, y: cy + u*sin + v*cos, t: t})
	}
	return out
}
