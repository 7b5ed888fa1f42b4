package filegdb

// WriteExampleTable writes a small point table named cities.gdbtable with
// its offset index into dir and returns the table path.
func WriteExampleTable(dir string) (string, error) {
	g := geomField(1000)
	g.Geometry.XOrigin, g.Geometry.YOrigin = -400, -400
	g.Geometry.Extent = Envelope{MinX: 144.96, MinY: -37.81, MaxX: 153.03, MaxY: -27.47}

	city := func(name string, pop int64, x, y float64) []Value {
		raw := pointBlob(shpPoint,
			uint64((x+400)*1000+0.5)+1,
			uint64((y+400)*1000+0.5)+1)
		return []Value{oidValue(), strValue(name), intValue(pop), blobValue(raw)}
	}
	fx := &fixture{
		utf8:     true,
		geomType: GeomPoint,
		fields: []*Field{
			oidField(),
			{Name: "NAME", Type: FieldString, Nullable: true, MaxWidth: 64},
			{Name: "POP", Type: FieldInt32},
			g,
		},
		rows: [][]Value{
			city("Sydney", 5450000, 151.21, -33.87),
			city("Melbourne", 5200000, 144.96, -37.81),
			city("Brisbane", 2700000, 153.03, -27.47),
		},
	}
	w, err := fx.build(dir, "cities")
	if err != nil {
		return "", err
	}
	return w.path, nil
}
