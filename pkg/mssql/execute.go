package mssql

import (
	"bytes"
	"context"

	"github.com/ha1tch/mstds/pkg/errors"
	"github.com/ha1tch/mstds/pkg/log"
	"github.com/ha1tch/mstds/pkg/tds"
)

// Result is the completion event of one statement in a batch, emitted for
// every DONE token carrying a valid row count.
type Result struct {
	RowsAffected uint64
}

// ResultStream is the lazy sequence of row and result events produced by
// Execute. Events arrive in wire order; row streaming is strictly forward.
//
// The stream borrows the connection exclusively: no other request may be
// issued until it is exhausted or closed.
type ResultStream struct {
	conn     *Conn
	columns  []tds.Column
	finished bool
	err      error

	// RPC extras, populated as the stream is consumed.
	returnStatus *int32
	returnValues []*tds.ReturnValue
}

// Execute sends sql to the server and returns the event stream. With no
// arguments the request is a SQLBATCH; with arguments it is an RPC call to
// sp_executesql carrying the statement, the parameter declarations, and
// the encoded parameter values.
func (c *Conn) Execute(ctx context.Context, sql string, args *Arguments) (*ResultStream, error) {
	var payload []byte
	var pt tds.PacketType

	if args == nil || args.Len() == 0 {
		pt = tds.PacketSQLBatch
		batch := &tds.SQLBatch{
			TransactionDescriptor: c.txDescriptor,
			SQL:                   sql,
		}
		payload = batch.Encode()
	} else {
		pt = tds.PacketRPCRequest

		req := &tds.RPCRequest{
			TransactionDescriptor: c.txDescriptor,
			ProcID:                tds.ProcIDExecuteSQL,
			Params: []tds.RPCParam{
				nvarcharParam("@stmt", sql),
				nvarcharParam("@params", args.Declarations()),
			},
			RawParams: args.Bytes(),
		}

		var err error
		payload, err = req.Encode()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeExecFailed, "encoding rpc request")
		}
	}

	if err := c.sendRequest(ctx, pt, payload); err != nil {
		return nil, err
	}

	c.logger.Debug(log.CategoryQuery, "request sent",
		"kind", pt.String(), "sql", sql)

	return &ResultStream{conn: c}, nil
}

// nvarcharParam builds an nvarchar(max) RPC parameter.
func nvarcharParam(name, value string) tds.RPCParam {
	return tds.RPCParam{
		Name: name,
		Info: tds.TypeInfo{Type: tds.TypeNVarChar, Size: 0, Collation: &tds.DefaultCollation},
		Encode: func(buf *bytes.Buffer) bool {
			buf.Write(tds.StringToUCS2(value))
			return false
		},
	}
}

// Next returns the next event: a row, a statement result, or neither when
// the stream has ended. A server error of class 11 or above is returned
// once; the stream then ends but the connection remains usable after the
// remaining tokens drain.
func (s *ResultStream) Next() (*Row, *Result, error) {
	if s.finished {
		return nil, nil, s.err
	}

	c := s.conn

	for {
		tok, err := c.scan.Next()
		if err != nil {
			c.broken = true
			s.finished = true
			s.err = errors.Wrap(err, errors.ErrCodeProtocol, "reading response")
			return nil, nil, s.err
		}

		switch t := tok.(type) {
		case *tds.ColMetadata:
			// New result set: replace the shared snapshot.
			c.columns = t.Columns
			s.columns = t.Columns

		case *tds.RowData:
			return &Row{columns: s.columns, values: t.Values}, nil, nil

		case *tds.Done:
			c.finishDone(t)

			if t.Kind == tds.TokenDoneInProc {
				if t.CountValid() {
					return nil, &Result{RowsAffected: t.AffectedRows}, nil
				}
				continue
			}

			if !t.More() {
				s.finished = true
			}
			if t.CountValid() {
				return nil, &Result{RowsAffected: t.AffectedRows}, nil
			}
			if s.finished {
				return nil, nil, nil
			}

		case *tds.EnvChange:
			c.applyEnvChange(t)

		case *tds.ServerMessage:
			if t.Error {
				serr := serverError(t)
				c.logger.Error(log.CategoryQuery, "server error", serr,
					"number", t.Number, "class", t.Class)
				if serr.Fatal() {
					// The operation is aborted; the connection stays
					// usable once the token stream drains.
					s.finished = true
					s.err = serr
					return nil, nil, serr
				}
			} else {
				c.logger.Info(log.CategoryQuery, "server message",
					"number", t.Number, "message", t.Message)
			}

		case *tds.ReturnStatus:
			v := t.Value
			s.returnStatus = &v

		case *tds.ReturnValue:
			s.returnValues = append(s.returnValues, t)

		case *tds.Order, *tds.FeatureExtAck:
			// Informational; nothing to do.
		}
	}
}

// Columns returns the metadata of the current result set, valid once the
// first row has been produced.
func (s *ResultStream) Columns() []tds.Column {
	return s.columns
}

// ReturnStatus returns the procedure return code, if one was seen.
func (s *ResultStream) ReturnStatus() (int32, bool) {
	if s.returnStatus == nil {
		return 0, false
	}
	return *s.returnStatus, true
}

// ReturnValues returns any output parameters seen on the stream.
func (s *ResultStream) ReturnValues() []*tds.ReturnValue {
	return s.returnValues
}

// Err returns the terminal error of the stream, if any.
func (s *ResultStream) Err() error {
	return s.err
}

// Close abandons the stream: remaining tokens are drained (discarding rows
// and results, keeping side effects) so the connection returns to ready.
func (s *ResultStream) Close() error {
	if s.finished && s.conn.scan == nil {
		return nil
	}
	s.finished = true
	return s.conn.waitUntilReady(context.Background())
}

// Exec runs sql to completion and returns the total rows affected across
// all statements of the batch.
func (c *Conn) Exec(ctx context.Context, sql string, args *Arguments) (uint64, error) {
	stream, err := c.Execute(ctx, sql, args)
	if err != nil {
		return 0, err
	}

	var total uint64
	for {
		row, res, err := stream.Next()
		if err != nil {
			stream.Close()
			return total, err
		}
		if row == nil && res == nil {
			return total, nil
		}
		if res != nil {
			total += res.RowsAffected
		}
	}
}

// Query runs sql and returns all rows. Suitable for small result sets;
// large ones should consume Execute's stream directly.
func (c *Conn) Query(ctx context.Context, sql string, args *Arguments) ([]*Row, error) {
	stream, err := c.Execute(ctx, sql, args)
	if err != nil {
		return nil, err
	}

	var rows []*Row
	for {
		row, _, err := stream.Next()
		if err != nil {
			stream.Close()
			return rows, err
		}
		if row == nil {
			if stream.finished {
				return rows, nil
			}
			continue
		}
		rows = append(rows, row)
	}
}

// QueryRow runs sql and returns the first row, draining the rest. A nil
// row without error means the query produced no rows.
func (c *Conn) QueryRow(ctx context.Context, sql string, args *Arguments) (*Row, error) {
	stream, err := c.Execute(ctx, sql, args)
	if err != nil {
		return nil, err
	}

	for {
		row, _, err := stream.Next()
		if err != nil {
			stream.Close()
			return nil, err
		}
		if row != nil {
			return row, stream.Close()
		}
		if stream.finished {
			return nil, nil
		}
	}
}
