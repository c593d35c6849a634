package mssql

import (
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ha1tch/mstds/pkg/errors"
	"github.com/ha1tch/mstds/pkg/tds"
)

// Row is one row of a result set: a dense positional vector of raw cell
// bytes sharing the column metadata snapshot of its result set.
type Row struct {
	columns []tds.Column
	values  [][]byte
}

// Len returns the number of columns.
func (r *Row) Len() int {
	return len(r.values)
}

// Columns returns the shared column metadata.
func (r *Row) Columns() []tds.Column {
	return r.columns
}

// Index returns the position of the named column.
func (r *Row) Index(name string) (int, bool) {
	for i, c := range r.columns {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}

// IsNull reports whether column i is SQL NULL.
func (r *Row) IsNull(i int) bool {
	return r.values[i] == nil
}

// Raw returns the raw wire bytes of column i, nil for NULL.
func (r *Row) Raw(i int) []byte {
	return r.values[i]
}

// Value decodes column i into its natural Go type.
func (r *Row) Value(i int) (interface{}, error) {
	if i < 0 || i >= len(r.values) {
		return nil, errors.Newf(errors.ErrCodeDecode, "column index %d out of range", i)
	}
	return DecodeValue(r.columns[i], r.values[i])
}

// Bool decodes column i as a bool.
func (r *Row) Bool(i int) (bool, error) {
	v, err := r.Value(i)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.Decode(r.typeName(i), "not a bool")
	}
	return b, nil
}

// Int64 decodes column i as an int64.
func (r *Row) Int64(i int) (int64, error) {
	v, err := r.Value(i)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, errors.Decode(r.typeName(i), "not an integer")
	}
	return n, nil
}

// Float64 decodes column i as a float64.
func (r *Row) Float64(i int) (float64, error) {
	v, err := r.Value(i)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, errors.Decode(r.typeName(i), "not a float")
	}
	return f, nil
}

// String decodes column i as a string.
func (r *Row) String(i int) (string, error) {
	v, err := r.Value(i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Decode(r.typeName(i), "not character data")
	}
	return s, nil
}

// Bytes decodes column i as raw binary.
func (r *Row) Bytes(i int) ([]byte, error) {
	v, err := r.Value(i)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, errors.Decode(r.typeName(i), "not binary data")
	}
	return b, nil
}

// Decimal decodes column i as a decimal (DECIMAL, NUMERIC, MONEY).
func (r *Row) Decimal(i int) (decimal.Decimal, error) {
	v, err := r.Value(i)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, ok := v.(decimal.Decimal)
	if !ok {
		return decimal.Decimal{}, errors.Decode(r.typeName(i), "not a decimal")
	}
	return d, nil
}

// DateTime decodes column i as a timezone-naive date-time (DATETIME,
// SMALLDATETIME, DATETIME2).
func (r *Row) DateTime(i int) (civil.DateTime, error) {
	v, err := r.Value(i)
	if err != nil {
		return civil.DateTime{}, err
	}
	dt, ok := v.(civil.DateTime)
	if !ok {
		return civil.DateTime{}, errors.Decode(r.typeName(i), "not a datetime")
	}
	return dt, nil
}

// Date decodes column i as a DATE.
func (r *Row) Date(i int) (civil.Date, error) {
	v, err := r.Value(i)
	if err != nil {
		return civil.Date{}, err
	}
	d, ok := v.(civil.Date)
	if !ok {
		return civil.Date{}, errors.Decode(r.typeName(i), "not a date")
	}
	return d, nil
}

// TimeOfDay decodes column i as a TIME.
func (r *Row) TimeOfDay(i int) (civil.Time, error) {
	v, err := r.Value(i)
	if err != nil {
		return civil.Time{}, err
	}
	t, ok := v.(civil.Time)
	if !ok {
		return civil.Time{}, errors.Decode(r.typeName(i), "not a time")
	}
	return t, nil
}

// Time decodes column i as a zoned time (DATETIMEOFFSET).
func (r *Row) Time(i int) (time.Time, error) {
	v, err := r.Value(i)
	if err != nil {
		return time.Time{}, err
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, errors.Decode(r.typeName(i), "not a zoned datetime")
	}
	return t, nil
}

// UUID decodes column i as a UNIQUEIDENTIFIER.
func (r *Row) UUID(i int) (uuid.UUID, error) {
	v, err := r.Value(i)
	if err != nil {
		return uuid.UUID{}, err
	}
	u, ok := v.(uuid.UUID)
	if !ok {
		return uuid.UUID{}, errors.Decode(r.typeName(i), "not a uniqueidentifier")
	}
	return u, nil
}

func (r *Row) typeName(i int) string {
	if i >= 0 && i < len(r.columns) {
		return r.columns[i].Info.Name()
	}
	return "UNKNOWN"
}
