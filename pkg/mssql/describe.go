package mssql

import (
	"context"

	"github.com/ha1tch/mstds/pkg/tds"
)

// Describe reports the shape of a query's result set without running it.
type Describe struct {
	Columns []tds.Column

	// Nullable mirrors Columns, derived from the nullability bit of the
	// column flags.
	Nullable []bool
}

// Describe runs the query under SET FMTONLY so the server returns only the
// column metadata, and captures the COLMETADATA.
func (c *Conn) Describe(ctx context.Context, sql string) (*Describe, error) {
	stream, err := c.Execute(ctx, "SET FMTONLY ON; "+sql+"; SET FMTONLY OFF", nil)
	if err != nil {
		return nil, err
	}

	// FMTONLY responses carry no rows; drain to ready while the stream
	// records the metadata.
	for {
		row, res, err := stream.Next()
		if err != nil {
			stream.Close()
			return nil, err
		}
		if row == nil && res == nil {
			break
		}
	}

	cols := stream.Columns()
	if cols == nil {
		cols = c.columns
	}

	d := &Describe{
		Columns:  cols,
		Nullable: make([]bool, len(cols)),
	}
	for i, col := range cols {
		d.Nullable[i] = col.Nullable()
	}

	return d, nil
}
