// Polygon ring organisation.
//
// A polygon blob is a flat list of rings with no record of which ring is a
// hole of which. Orientation is not trusted: some writers emit exterior
// rings in the wrong direction. Rings are grouped by containment instead.
// Going from the largest ring to the smallest, each ring looks for the
// smallest larger ring that contains it. A ring inside an exterior ring is
// a hole of it; a ring inside a hole, or inside nothing, starts a polygon.
package filegdb

import (
	"cmp"
	"slices"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
)

type ringInfo struct {
	index  int
	flat   []float64
	bounds *geom.Bounds
	area   float64
	parent int // index of the exterior ring this hole belongs to, or -1
	hole   bool
}

// organizeRings groups the rings of flat, delimited by ends, into polygons.
// One polygon gives a *geom.Polygon, several a *geom.MultiPolygon.
func organizeRings(layout geom.Layout, flat []float64, ends []int) geom.T {
	rings := make([]*ringInfo, len(ends))
	start := 0
	for i, end := range ends {
		lr := geom.NewLinearRingFlat(layout, flat[start:end])
		rings[i] = &ringInfo{
			index:  i,
			flat:   flat[start:end],
			bounds: lr.Bounds(),
			area:   lr.Area(),
			parent: -1,
		}
		start = end
	}

	bySize := slices.Clone(rings)
	slices.SortStableFunc(bySize, func(a, b *ringInfo) int {
		return cmp.Compare(b.area, a.area)
	})
	for i, r := range bySize {
		for j := i - 1; j >= 0; j-- {
			c := bySize[j]
			if !boundsContain(c.bounds, r.bounds) || !ringContains(layout, c.flat, r.flat) {
				continue
			}
			if !c.hole {
				r.hole = true
				r.parent = c.index
			}
			break
		}
	}

	var polys [][]*ringInfo
	slot := make(map[int]int)
	for _, r := range rings {
		if !r.hole {
			slot[r.index] = len(polys)
			polys = append(polys, []*ringInfo{r})
		}
	}
	for _, r := range rings {
		if r.hole {
			p := slot[r.parent]
			polys[p] = append(polys[p], r)
		}
	}

	out := make([]float64, 0, len(flat))
	endss := make([][]int, len(polys))
	for i, p := range polys {
		for _, r := range p {
			out = append(out, r.flat...)
			endss[i] = append(endss[i], len(out))
		}
	}
	if len(polys) == 1 {
		return geom.NewPolygonFlat(layout, out, endss[0])
	}
	return geom.NewMultiPolygonFlat(layout, out, endss)
}

func boundsContain(outer, inner *geom.Bounds) bool {
	return outer.Min(0) <= inner.Min(0) && outer.Min(1) <= inner.Min(1) &&
		outer.Max(0) >= inner.Max(0) && outer.Max(1) >= inner.Max(1)
}

// ringContains reports whether ring inner lies inside ring outer, judged by
// the first vertex of inner that is not on the boundary of outer.
func ringContains(layout geom.Layout, outer, inner []float64) bool {
	stride := layout.Stride()
	for k := 0; k+stride <= len(inner); k += stride {
		switch xy.LocatePointInRing(layout, geom.Coord(inner[k:k+stride]), outer) {
		case location.Interior:
			return true
		case location.Exterior:
			return false
		}
	}
	return false
}
