// Multipatch decoding.
//
// A multipatch is a 3D surface made of parts, each with a part type:
// triangle strips, triangle fans, loose triangles and rings. Strips, fans
// and triangles become one polygon per triangle. Outer and first rings
// start a polygon; inner and plain rings following them become its holes.
// The result is always a MultiPolygon with Z. Blobs without Z values get
// zero heights.
package filegdb

import "github.com/twpayne/go-geom"

// Multipatch part types, in the low nibble of the part type varuint.
const (
	patchTriangleStrip = 0
	patchTriangleFan   = 1
	patchOuterRing     = 2
	patchInnerRing     = 3
	patchFirstRing     = 4
	patchRing          = 5
	patchTriangles     = 6
)

func (c *GeometryConverter) multiPatch(raw []byte, pos, end int, hasZ bool) (geom.T, error) {
	points, parts, _, pos, err := c.readPartDefs(raw, pos, end, false, true)
	if err != nil {
		return nil, err
	}
	if points == 0 || parts == 0 {
		return geom.NewMultiPolygon(geom.XYZ), nil
	}

	kinds := make([]uint32, parts)
	for i := range kinds {
		if kinds[i], pos, err = readVarUint[uint32](raw, pos, end, checkVerbose); err != nil {
			return nil, err
		}
	}

	v := c.newVertices(int(points), true, false)
	var dx, dy, dz int64
	if pos, err = c.readXY(raw, pos, end, v.xy, &dx, &dy); err != nil {
		return nil, err
	}
	if hasZ {
		if _, err = c.readZ(raw, pos, end, v.z, &dz); err != nil {
			return nil, err
		}
	}

	b := &patchBuilder{v: v}
	first := 0
	for i, n := range c.counts {
		b.part(kinds[i]&0xf, first, first+int(n))
		first += int(n)
	}
	b.flush()
	if b.unknown > 0 {
		c.log.Debugf("multipatch: %d parts of unknown type skipped", b.unknown)
	}
	return geom.NewMultiPolygonFlat(geom.XYZ, b.flat, b.endss), nil
}

// patchBuilder accumulates the polygons of a multipatch.
type patchBuilder struct {
	v       *vertices
	flat    []float64
	endss   [][]int
	open    bool // the last polygon can still take holes
	unknown int
}

func (b *patchBuilder) vertex(i int) {
	b.flat = append(b.flat, b.v.xy[2*i], b.v.xy[2*i+1], b.v.z[i])
}

func (b *patchBuilder) triangle(i, j, k int) {
	b.flush()
	for _, n := range [...]int{i, j, k, i} {
		b.vertex(n)
	}
	b.endss = append(b.endss, []int{len(b.flat)})
}

// ring appends vertices [first,last) as a ring, closing it when needed. A
// hole joins the last polygon; otherwise a new polygon starts.
func (b *patchBuilder) ring(first, last int, hole bool) {
	if last-first < 1 {
		return
	}
	if !hole || !b.open {
		b.flush()
		b.endss = append(b.endss, nil)
		b.open = true
	}
	for i := first; i < last; i++ {
		b.vertex(i)
	}
	if b.v.xy[2*first] != b.v.xy[2*(last-1)] || b.v.xy[2*first+1] != b.v.xy[2*(last-1)+1] ||
		b.v.z[first] != b.v.z[last-1] {
		b.vertex(first)
	}
	p := len(b.endss) - 1
	b.endss[p] = append(b.endss[p], len(b.flat))
}

func (b *patchBuilder) flush() { b.open = false }

func (b *patchBuilder) part(kind uint32, first, last int) {
	switch kind {
	case patchTriangleStrip:
		for i := first; i+2 < last; i++ {
			b.triangle(i, i+1, i+2)
		}
	case patchTriangleFan:
		for i := first + 1; i+1 < last; i++ {
			b.triangle(first, i, i+1)
		}
	case patchTriangles:
		for i := first; i+2 < last; i += 3 {
			b.triangle(i, i+1, i+2)
		}
	case patchOuterRing, patchFirstRing:
		b.ring(first, last, false)
	case patchInnerRing, patchRing:
		b.ring(first, last, true)
	default:
		b.unknown++
	}
}
