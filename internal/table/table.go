// Package table is the in-memory tabular model shared by the fan-out
// pipeline: per-shard partial results and their merged concatenation.
package table

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// Synthetic columns prepended to every partial result.
const (
	ShardIDColumn   = "_shard_id"
	ShardNameColumn = "_shard_name"
)

var ErrColumnMismatch = errors.New("partial results have different columns")

// Table is a list of rows under named columns. Row values are normalised
// with Normalize.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Empty returns the sentinel for "no shard produced a result".
func Empty() *Table {
	return &Table{Columns: []string{}, Rows: [][]any{}}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// IsEmpty reports whether t holds no rows.
func (t *Table) IsEmpty() bool {
	return t.Len() == 0
}

// Column returns the values of the named column.
func (t *Table) Column(name string) ([]any, bool) {
	idx := slices.Index(t.Columns, name)
	if idx < 0 {
		return nil, false
	}
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Partial is the tagged result of running one query against one shard.
type Partial struct {
	ShardID   int
	ShardName string
	Table
}

// Tag builds a Partial, prepending _shard_id and _shard_name to the given
// columns and rows.
func Tag(shardID int, shardName string, columns []string, rows [][]any) *Partial {
	p := &Partial{
		ShardID:   shardID,
		ShardName: shardName,
	}
	p.Columns = make([]string, 0, len(columns)+2)
	p.Columns = append(p.Columns, ShardIDColumn, ShardNameColumn)
	p.Columns = append(p.Columns, columns...)

	p.Rows = make([][]any, len(rows))
	id := int64(shardID)
	for i, row := range rows {
		tagged := make([]any, 0, len(row)+2)
		tagged = append(tagged, id, shardName)
		tagged = append(tagged, row...)
		p.Rows[i] = tagged
	}
	return p
}

// Concat appends the rows of every partial in the given order. All partials
// must share the same column list; Concat of nothing is the Empty sentinel.
func Concat(parts []*Partial) (*Table, error) {
	if len(parts) == 0 {
		return Empty(), nil
	}

	columns := parts[0].Columns
	total := 0
	for _, p := range parts {
		if !slices.Equal(p.Columns, columns) {
			return nil, fmt.Errorf("%w: shard %s has %v, expected %v", ErrColumnMismatch, p.ShardName, p.Columns, columns)
		}
		total += len(p.Rows)
	}

	out := &Table{
		Columns: append([]string(nil), columns...),
		Rows:    make([][]any, 0, total),
	}
	for _, p := range parts {
		out.Rows = append(out.Rows, p.Rows...)
	}
	return out, nil
}

// Kind is the storage type inferred for a column.
type Kind int

const (
	KindNull Kind = iota // no non-null value seen
	KindBool
	KindInt
	KindFloat
	KindTime
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindTime:
		return "time"
	case KindString:
		return "string"
	default:
		return "null"
	}
}

// Normalize converts a driver value into one of: nil, bool, int64, float64,
// time.Time or string.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, int64, float64, string, time.Time:
		return val
	case []byte:
		return string(val)
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return fmt.Sprint(val)
		}
		return int64(val)
	case float32:
		return float64(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func kindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case time.Time:
		return KindTime
	default:
		return KindString
	}
}

// InferKinds returns one Kind per column. Ints widen to floats when both
// occur; any other mix falls back to string.
func (t *Table) InferKinds() []Kind {
	kinds := make([]Kind, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			kinds[i] = merge(kinds[i], kindOf(v))
		}
	}
	return kinds
}

func merge(a, b Kind) Kind {
	switch {
	case a == b:
		return a
	case a == KindNull:
		return b
	case b == KindNull:
		return a
	case (a == KindInt && b == KindFloat) || (a == KindFloat && b == KindInt):
		return KindFloat
	default:
		return KindString
	}
}

// Coerce converts a normalised value to the representation of kind k.
func Coerce(v any, k Kind) any {
	if v == nil {
		return nil
	}
	switch k {
	case KindFloat:
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	case KindString:
		switch val := v.(type) {
		case string:
			return val
		case time.Time:
			return val.Format(time.RFC3339Nano)
		default:
			return fmt.Sprint(val)
		}
	}
	return v
}
