package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Synthetic columns added to a dataset by validation
const (
	ColumnIsValid          = "IsValid"
	ColumnValidationErrors = "ValidationErrors"
	ColumnStatus           = "Status"
)

// ValueKind identifies the scalar type held by a Value
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindTime
)

// String returns the kind name
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "null"
	}
}

// Value is a single scalar cell of a dataset
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
}

// Null returns the null value
func Null() Value { return Value{} }

// String wraps a string
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number wraps a float
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Bool wraps a bool
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Time wraps a timestamp
func Time(t time.Time) Value { return Value{Kind: KindTime, Time: t} }

// IsNull reports whether the value is null
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Text renders the value as display text. Null renders as "".
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindTime:
		return v.Time.Format(time.RFC3339)
	default:
		return ""
	}
}

// Any returns the value as a plain Go scalar (nil for null)
func (v Value) Any() interface{} {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindTime:
		return v.Time
	default:
		return nil
	}
}

// MarshalJSON encodes the value as its natural JSON scalar
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindTime {
		return json.Marshal(v.Time.Format(time.RFC3339))
	}
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes a JSON scalar into a value
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	val, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// ValueOf converts a plain Go scalar into a Value
func ValueOf(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case bool:
		return Bool(t), nil
	case time.Time:
		return Time(t), nil
	case Value:
		return t, nil
	default:
		return Null(), fmt.Errorf("unsupported cell type %T", x)
	}
}

// Row is an ordered list of cells aligned with the dataset columns
type Row []Value

// FileInfo describes the uploaded file a dataset was decoded from
type FileInfo struct {
	Name   string  `json:"name"`
	SizeMB float64 `json:"size_mb"`
}

// Dataset is an ordered table of named columns and typed rows
type Dataset struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`

	index map[string]int
}

// NewDataset creates a dataset; every row is padded or trimmed to the column count
func NewDataset(columns []string, rows []Row) *Dataset {
	ds := &Dataset{
		Columns: append([]string(nil), columns...),
		Rows:    make([]Row, 0, len(rows)),
	}
	ds.index = make(map[string]int, len(ds.Columns))
	for i, c := range ds.Columns {
		if _, dup := ds.index[c]; !dup {
			ds.index[c] = i
		}
	}
	for _, r := range rows {
		ds.Rows = append(ds.Rows, ds.fit(r))
	}
	return ds
}

func (d *Dataset) fit(r Row) Row {
	out := make(Row, len(d.Columns))
	copy(out, r)
	return out
}

// RowCount returns the number of rows
func (d *Dataset) RowCount() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// ColumnCount returns the number of columns
func (d *Dataset) ColumnCount() int {
	if d == nil {
		return 0
	}
	return len(d.Columns)
}

// ColumnIndex returns the position of a column
func (d *Dataset) ColumnIndex(name string) (int, bool) {
	if d.index != nil {
		i, ok := d.index[name]
		return i, ok
	}
	for i, c := range d.Columns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

// HasColumn reports whether the column exists
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.ColumnIndex(name)
	return ok
}

// Column returns a copy of every value in the named column
func (d *Dataset) Column(name string) ([]Value, bool) {
	idx, ok := d.ColumnIndex(name)
	if !ok {
		return nil, false
	}
	col := make([]Value, len(d.Rows))
	for i, r := range d.Rows {
		col[i] = r[idx]
	}
	return col, true
}

// Get returns the cell at (row, column)
func (d *Dataset) Get(row int, column string) Value {
	idx, ok := d.ColumnIndex(column)
	if !ok || row < 0 || row >= len(d.Rows) {
		return Null()
	}
	return d.Rows[row][idx]
}

// Clone returns a deep copy
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	return NewDataset(d.Columns, d.Rows)
}

// Head returns the first n rows (all rows when n <= 0 or n exceeds the count)
func (d *Dataset) Head(n int) *Dataset {
	if n <= 0 || n > len(d.Rows) {
		n = len(d.Rows)
	}
	return NewDataset(d.Columns, d.Rows[:n])
}

// Filter returns the rows for which keep returns true
func (d *Dataset) Filter(keep func(i int, r Row) bool) *Dataset {
	rows := make([]Row, 0, len(d.Rows))
	for i, r := range d.Rows {
		if keep(i, r) {
			rows = append(rows, r)
		}
	}
	return NewDataset(d.Columns, rows)
}

// Select projects the dataset onto the given columns in that order.
// Unknown columns are skipped.
func (d *Dataset) Select(columns ...string) *Dataset {
	var names []string
	var idx []int
	for _, c := range columns {
		if i, ok := d.ColumnIndex(c); ok {
			names = append(names, c)
			idx = append(idx, i)
		}
	}
	rows := make([]Row, len(d.Rows))
	for r, row := range d.Rows {
		out := make(Row, len(idx))
		for j, i := range idx {
			out[j] = row[i]
		}
		rows[r] = out
	}
	return NewDataset(names, rows)
}

// WithColumn returns a copy with the column name filled by fill(i). Any
// existing column of that name is dropped and the new one is appended last.
func (d *Dataset) WithColumn(name string, fill func(i int, r Row) Value) *Dataset {
	keep := make([]int, 0, len(d.Columns))
	cols := make([]string, 0, len(d.Columns)+1)
	for i, c := range d.Columns {
		if c != name {
			keep = append(keep, i)
			cols = append(cols, c)
		}
	}
	cols = append(cols, name)

	rows := make([]Row, len(d.Rows))
	for i, r := range d.Rows {
		out := make(Row, 0, len(cols))
		for _, j := range keep {
			out = append(out, r[j])
		}
		rows[i] = append(out, fill(i, r))
	}
	return NewDataset(cols, rows)
}

// IsValidAt reports the IsValid flag of a validated row
func (d *Dataset) IsValidAt(row int) bool {
	v := d.Get(row, ColumnIsValid)
	return v.Kind == KindBool && v.Bool
}

// DataColumns returns the columns excluding the synthetic validation columns
func (d *Dataset) DataColumns() []string {
	out := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		switch c {
		case ColumnIsValid, ColumnValidationErrors, ColumnStatus:
			continue
		}
		out = append(out, c)
	}
	return out
}
