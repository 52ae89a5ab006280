package sqlstore

// Schema exposes the rendered migration statements to tests.
func Schema(d Dialect, table string) (up, down [][]string, err error) {
	steps, err := loadSchema(d, table)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range steps {
		up = append(up, s.up)
		down = append(down, s.down)
	}
	return up, down, nil
}
