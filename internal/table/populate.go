package table

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/koustreak/pgtable/internal/errs"
	"github.com/koustreak/pgtable/internal/filestore"
)

// populate inserts the records of every data file, in file order. Each
// file holds a JSON array of objects.
func (t *Table) populate(ctx context.Context, store filestore.Store, bucket string, files []string) error {
	if store == nil {
		return errs.Newf(errs.ErrKindConfig, "table %q lists data files but no data store is configured", t.cfg.Name)
	}
	for _, key := range files {
		info, err := store.StatObject(ctx, bucket, key)
		if err != nil {
			return fmt.Errorf("data file %s: %w", key, err)
		}
		t.log.InfoWith("populating table", map[string]interface{}{
			"file": key,
			"size": info.Size,
		})

		records, err := readRecords(ctx, store, bucket, key)
		if err != nil {
			return err
		}
		if err := t.InsertRecords(ctx, records); err != nil {
			return fmt.Errorf("populate from %s: %w", key, err)
		}
	}
	return nil
}

func readRecords(ctx context.Context, store filestore.Store, bucket, key string) ([]map[string]any, error) {
	obj, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("data file %s: %w", key, err)
	}
	defer obj.Close()
	return decodeRecords(obj, key)
}

// decodeRecords parses a JSON array of objects. Numbers become int64 when
// they are integral and float64 otherwise.
func decodeRecords(r io.Reader, name string) ([]map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "data file "+name+" is not a JSON array of objects", err)
	}
	for _, rec := range records {
		for k, v := range rec {
			rec[k] = normalizeJSON(v)
		}
	}
	return records, nil
}

func normalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		for i := range x {
			x[i] = normalizeJSON(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalizeJSON(x[k])
		}
		return x
	default:
		return v
	}
}
