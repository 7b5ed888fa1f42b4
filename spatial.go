// In-memory spatial index over feature extents.
//
// BuildSpatialIndex reads every row once, decodes only the bounding box of
// its geometry and inserts it into an R-tree. Points and axis-parallel
// lines have zero-width boxes; these are widened to one grid unit of the
// geometry field so the tree can hold them.
package filegdb

import (
	"fmt"
	"slices"

	"github.com/dhconnelly/rtreego"
)

// SpatialIndex maps envelopes to the rows whose features they cover.
type SpatialIndex struct {
	tree    *rtreego.Rtree
	minSize float64 // smallest side of an indexed box
	rows    int
}

// feature is one indexed row.
type feature struct {
	row  int64
	rect rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (f *feature) Bounds() rtreego.Rect { return f.rect }

func (s *SpatialIndex) rect(e Envelope) (rtreego.Rect, error) {
	point := rtreego.Point{e.MinX, e.MinY}
	lengths := []float64{
		max(e.MaxX-e.MinX, s.minSize),
		max(e.MaxY-e.MinY, s.minSize),
	}
	return rtreego.NewRect(point, lengths)
}

// BuildSpatialIndex indexes the extent of every non-null geometry in the
// table. It moves the row cursor.
func (t *Table) BuildSpatialIndex() (*SpatialIndex, error) {
	col := t.schema.geomField
	if col < 0 {
		return nil, ErrNoGeometryField
	}
	g := t.schema.fields[col].Geometry
	s := &SpatialIndex{
		tree:    rtreego.NewTree(2, 25, 50),
		minSize: 1 / sanitizeScale(g.XYScale),
	}
	if s.minSize <= 0 {
		s.minSize = 1e-9
	}

	for row, err := range t.Rows() {
		if err != nil {
			return nil, err
		}
		v, err := t.FieldValue(col)
		if err != nil {
			return nil, err
		}
		if v.IsNull() {
			continue
		}
		env, ok, err := t.FeatureExtent(v.Bytes)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if !ok {
			continue
		}
		r, err := s.rect(env)
		if err != nil {
			t.log.Debugf("row %d: extent not indexed: %v", row, err)
			continue
		}
		s.tree.Insert(&feature{row: row, rect: r})
		s.rows++
	}
	t.log.Debugf("spatial index holds %d features", s.rows)
	return s, nil
}

// Len returns the number of indexed features.
func (s *SpatialIndex) Len() int { return s.rows }

// Search returns the rows whose feature extent intersects env, in
// ascending order.
func (s *SpatialIndex) Search(env Envelope) []int64 {
	q, err := s.rect(env)
	if err != nil {
		return nil
	}
	hits := s.tree.SearchIntersect(q)
	rows := make([]int64, 0, len(hits))
	for _, h := range hits {
		rows = append(rows, h.(*feature).row)
	}
	slices.Sort(rows)
	return rows
}
