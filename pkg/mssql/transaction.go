package mssql

import (
	"context"
	"strconv"

	"github.com/ha1tch/mstds/pkg/log"
	"github.com/ha1tch/mstds/pkg/tds"
)

// Transaction nesting uses savepoints: SQL Server has no RELEASE
// SAVEPOINT, so inner commits merge into the outer transaction and only
// the outermost commit reaches the wire.

const savepointPrefix = "_sp_"

// Begin starts a transaction. At depth zero it issues BEGIN TRAN; nested
// calls create a savepoint instead.
func (c *Conn) Begin(ctx context.Context) error {
	var sql string
	if c.txDepth == 0 {
		sql = "BEGIN TRAN"
	} else {
		sql = "SAVE TRAN " + savepointPrefix + strconv.FormatUint(uint64(c.txDepth), 10)
	}

	if _, err := c.Exec(ctx, sql, nil); err != nil {
		return err
	}

	c.txDepth++
	c.logger.Debug(log.CategoryQuery, "transaction begin", "depth", c.txDepth)
	return nil
}

// Commit commits the current transaction level. At depth one it issues
// COMMIT TRAN; deeper levels emit nothing on the wire because savepoints
// merge into the outer transaction.
func (c *Conn) Commit(ctx context.Context) error {
	if c.txDepth == 0 {
		return nil
	}

	if c.txDepth == 1 {
		if _, err := c.Exec(ctx, "COMMIT TRAN", nil); err != nil {
			return err
		}
	}

	c.txDepth--
	c.logger.Debug(log.CategoryQuery, "transaction commit", "depth", c.txDepth)
	return nil
}

// Rollback rolls back the current transaction level: the whole transaction
// at depth one, otherwise back to the enclosing savepoint.
func (c *Conn) Rollback(ctx context.Context) error {
	if c.txDepth == 0 {
		return nil
	}

	if _, err := c.Exec(ctx, c.rollbackSQL(), nil); err != nil {
		return err
	}

	c.txDepth--
	c.logger.Debug(log.CategoryQuery, "transaction rollback", "depth", c.txDepth)
	return nil
}

// StartRollback queues the rollback without awaiting the server response;
// the response is drained before the next request. Used on drop paths
// where blocking is not an option.
func (c *Conn) StartRollback() error {
	if c.txDepth == 0 {
		return nil
	}

	batch := &tds.SQLBatch{
		TransactionDescriptor: c.txDescriptor,
		SQL:                   c.rollbackSQL(),
	}

	c.pendingDone++
	if err := c.framer.WriteMessage(tds.PacketSQLBatch, batch.Encode()); err != nil {
		c.broken = true
		c.handleDoneCount()
		return err
	}
	if c.scan == nil {
		c.beginResponse()
	}

	c.txDepth--
	return nil
}

func (c *Conn) rollbackSQL() string {
	if c.txDepth == 1 {
		return "ROLLBACK TRAN"
	}
	return "ROLLBACK TRAN " + savepointPrefix + strconv.FormatUint(uint64(c.txDepth-1), 10)
}
