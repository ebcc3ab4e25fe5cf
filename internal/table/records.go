package table

import (
	"github.com/koustreak/pgtable/internal/errs"
)

type batch struct {
	columns []string
	rows    [][]any
}

// batchRecords groups contiguous records that set the same columns.
// Column order within a batch follows the table, and keys that are not
// table columns are dropped.
func batchRecords(records []map[string]any, tableColumns []string) ([]batch, error) {
	var (
		out []batch
		key string
	)
	for i, rec := range records {
		cols := make([]string, 0, len(rec))
		for _, c := range tableColumns {
			if _, ok := rec[c]; ok {
				cols = append(cols, c)
			}
		}
		if len(cols) == 0 {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "record %d sets no column of the table", i)
		}

		k := columnsKey(cols)
		if len(out) == 0 || k != key {
			out = append(out, batch{columns: cols})
			key = k
		}
		row := make([]any, len(cols))
		for j, c := range cols {
			row[j] = rec[c]
		}
		last := len(out) - 1
		out[last].rows = append(out[last].rows, row)
	}
	return out, nil
}

// columnsKey identifies a column set. Names cannot contain NUL.
func columnsKey(cols []string) string {
	n := 0
	for _, c := range cols {
		n += len(c) + 1
	}
	b := make([]byte, 0, n)
	for _, c := range cols {
		b = append(b, c...)
		b = append(b, 0)
	}
	return string(b)
}
