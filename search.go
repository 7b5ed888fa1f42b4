// Bounding-box search over the geometry field.
//
// Intersecting walks the rows like Rows and keeps those whose geometry
// blob passes the filter envelope test. Only the embedded bounding box is
// decoded, so the test is cheap but coarse: a row whose box touches the
// query may still have a geometry that does not. Rows with a null geometry
// never match. The table's installed filter is replaced for the duration of
// the walk and restored afterwards.
//
// For repeated queries against the same table, a SpatialIndex
// (spatial.go) avoids reading every row each time.
package filegdb

import "iter"

// Intersecting yields the rows whose geometry bounding box may intersect
// env. The yielded row is selected, as with Rows.
func (t *Table) Intersecting(env Envelope) iter.Seq2[int64, error] {
	return func(yield func(int64, error) bool) {
		col := t.schema.geomField
		if col < 0 {
			yield(-1, ErrNoGeometryField)
			return
		}
		saved := t.filter
		if err := t.InstallFilterEnvelope(&env); err != nil {
			yield(-1, err)
			return
		}
		defer func() { t.filter = saved }()

		for row, err := range t.Rows() {
			if err != nil {
				yield(-1, err)
				return
			}
			v, err := t.FieldValue(col)
			if err != nil {
				if !yield(-1, err) {
					return
				}
				continue
			}
			if v.IsNull() || !t.IntersectsFilterEnvelope(v.Bytes) {
				continue
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}
