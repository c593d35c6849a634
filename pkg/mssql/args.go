package mssql

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/ha1tch/mstds/pkg/errors"
	"github.com/ha1tch/mstds/pkg/tds"
)

// Arguments collects the bound parameters of a query: the wire-encoded
// parameter block appended to the sp_executesql RPC, and the matching
// T-SQL declaration list ("@p1 int, @p2 nvarchar(max)") passed as @params.
type Arguments struct {
	data         bytes.Buffer
	declarations strings.Builder
	count        int
}

// NewArguments returns an empty argument set.
func NewArguments() *Arguments {
	return &Arguments{}
}

// Len returns the number of bound parameters.
func (a *Arguments) Len() int {
	return a.count
}

// Bytes returns the encoded parameter block.
func (a *Arguments) Bytes() []byte {
	return a.data.Bytes()
}

// Declarations returns the parameter declaration list.
func (a *Arguments) Declarations() string {
	return a.declarations.String()
}

// Add binds the next positional parameter as @p1, @p2, ...
func (a *Arguments) Add(value interface{}) error {
	return a.AddNamed("p"+strconv.Itoa(a.count+1), value)
}

// AddNamed binds a named parameter. The name is given without the leading
// @. The value's TypeInfo and body are appended to the parameter block and
// its declaration to the list.
func (a *Arguments) AddNamed(name string, value interface{}) error {
	info, enc, err := bindValue(value)
	if err != nil {
		return err
	}

	if err := tds.PutBVarchar(&a.data, "@"+name); err != nil {
		return errors.Wrap(err, errors.ErrCodeExecFailed, "parameter name")
	}
	a.data.WriteByte(0) // status: by-value
	info.Encode(&a.data)
	if err := info.WriteValue(&a.data, enc); err != nil {
		return errors.Wrap(err, errors.ErrCodeExecFailed, "parameter value")
	}

	if a.count > 0 {
		a.declarations.WriteString(", ")
	}
	a.declarations.WriteString("@")
	a.declarations.WriteString(name)
	a.declarations.WriteString(" ")
	a.declarations.WriteString(info.Declaration())

	a.count++
	return nil
}
