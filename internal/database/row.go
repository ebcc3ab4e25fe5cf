package database

// Rows is the minimal cursor a driver exposes to CollectRows.
type Rows interface {
	Next() bool
	Values() ([]any, error)
	Columns() []string
	Close()
	Err() error
}

// CollectRows drains rows into a ResultSet. Errors are returned unwrapped
// so the driver can classify them.
//
// The returned Rows slice is always non-nil (empty slice on zero rows).
// CollectRows always closes rows; callers do not need to call Close().
func CollectRows(rows Rows) (ResultSet, error) {
	defer rows.Close()

	rs := ResultSet{Columns: rows.Columns(), Rows: make([][]any, 0)}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return ResultSet{}, err
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, err
	}
	return rs, nil
}

// Records converts tuples into maps keyed by column name.
// The returned slice is always non-nil.
func Records(columns []string, rows [][]any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		m := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(r) {
				m[col] = r[i]
			}
		}
		out = append(out, m)
	}
	return out
}
