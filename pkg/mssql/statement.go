package mssql

import (
	"context"

	"github.com/ha1tch/mstds/pkg/log"
	"github.com/ha1tch/mstds/pkg/tds"
)

// Statement is a prepared statement: the SQL text plus the column metadata
// captured when it was first described. Execution goes through
// sp_executesql exactly like an ad-hoc parameterised query, so there is no
// server-side handle to release; eviction from the cache drops the value
// only and never issues I/O.
type Statement struct {
	conn    *Conn
	SQL     string
	Columns []tds.Column
}

// Prepare returns the statement for sql, memoised in the connection's LRU
// cache keyed by the verbatim SQL text.
func (c *Conn) Prepare(ctx context.Context, sql string) (*Statement, error) {
	if stmt, ok := c.stmts.Get(sql); ok {
		c.logger.Debug(log.CategoryQuery, "statement cache hit", "sql", sql)
		return stmt, nil
	}

	desc, err := c.Describe(ctx, sql)
	if err != nil {
		return nil, err
	}

	stmt := &Statement{
		conn:    c,
		SQL:     sql,
		Columns: desc.Columns,
	}
	c.stmts.Add(sql, stmt)
	c.logger.Debug(log.CategoryQuery, "statement prepared", "sql", sql)

	return stmt, nil
}

// Execute runs the statement with the given arguments.
func (s *Statement) Execute(ctx context.Context, args *Arguments) (*ResultStream, error) {
	return s.conn.Execute(ctx, s.SQL, args)
}

// Query runs the statement and collects all rows.
func (s *Statement) Query(ctx context.Context, args *Arguments) ([]*Row, error) {
	return s.conn.Query(ctx, s.SQL, args)
}
