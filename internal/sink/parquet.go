package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/kartikbazzad/catopus/internal/table"
)

// Parquet groups sort their fields, so the original column order and
// kinds travel in the file's key/value metadata.
const (
	columnsKey = "catopus.columns"
	kindsKey   = "catopus.kinds"
)

// EncodeParquet serialises t as a gzip-compressed parquet file.
func EncodeParquet(t *table.Table) ([]byte, error) {
	if len(t.Columns) == 0 {
		return nil, errors.New("cannot encode a table without columns")
	}
	kinds := t.InferKinds()

	group := make(parquet.Group, len(t.Columns))
	for i, col := range t.Columns {
		if _, dup := group[col]; dup {
			return nil, fmt.Errorf("duplicate column %q", col)
		}
		group[col] = parquet.Optional(nodeFor(kinds[i]))
	}
	schema := parquet.NewSchema("SearchResult", group)

	cols, err := json.Marshal(t.Columns)
	if err != nil {
		return nil, err
	}
	kindNames := make([]string, len(kinds))
	for i, k := range kinds {
		kindNames[i] = k.String()
	}
	kindJSON, err := json.Marshal(kindNames)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[map[string]any](&buf,
		&parquet.WriterConfig{Schema: schema},
		parquet.Compression(&parquet.Gzip),
		parquet.KeyValueMetadata(columnsKey, string(cols)),
		parquet.KeyValueMetadata(kindsKey, string(kindJSON)),
	)

	records := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, fmt.Errorf("row length %d doesn't match column count %d", len(row), len(t.Columns))
		}
		record := make(map[string]any, len(row))
		for i, col := range t.Columns {
			record[col] = encodeValue(row[i], kinds[i])
		}
		records = append(records, record)
	}
	if _, err := writer.Write(records); err != nil {
		return nil, fmt.Errorf("failed to write records: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads a file produced by EncodeParquet.
func DecodeParquet(data []byte) (*table.Table, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	raw, ok := file.Lookup(columnsKey)
	if !ok {
		return nil, fmt.Errorf("parquet file has no %s metadata", columnsKey)
	}
	var columns []string
	if err := json.Unmarshal([]byte(raw), &columns); err != nil {
		return nil, fmt.Errorf("invalid column metadata: %w", err)
	}
	var kindNames []string
	if raw, ok := file.Lookup(kindsKey); ok {
		if err := json.Unmarshal([]byte(raw), &kindNames); err != nil {
			return nil, fmt.Errorf("invalid kind metadata: %w", err)
		}
	}

	out := &table.Table{Columns: columns, Rows: make([][]any, 0, file.NumRows())}
	reader := parquet.NewReader(file)
	defer reader.Close()
	for {
		record := make(map[string]any)
		if err := reader.Read(&record); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		row := make([]any, len(columns))
		for i, col := range columns {
			v := table.Normalize(record[col])
			if i < len(kindNames) && kindNames[i] == table.KindTime.String() {
				v = decodeTime(v)
			}
			row[i] = v
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func nodeFor(k table.Kind) parquet.Node {
	switch k {
	case table.KindBool:
		return parquet.Leaf(parquet.BooleanType)
	case table.KindInt:
		return parquet.Int(64)
	case table.KindFloat:
		return parquet.Leaf(parquet.DoubleType)
	default:
		return parquet.String()
	}
}

func encodeValue(v any, k table.Kind) any {
	if v == nil {
		return nil
	}
	if k == table.KindTime {
		return v.(time.Time).UTC().Format(time.RFC3339Nano)
	}
	return table.Coerce(v, k)
}

func decodeTime(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return ts
}
