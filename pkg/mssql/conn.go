package mssql

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ha1tch/mstds/pkg/errors"
	"github.com/ha1tch/mstds/pkg/log"
	"github.com/ha1tch/mstds/pkg/tds"
)

// Conn is a single connection to a SQL Server instance. It owns the framed
// byte stream and the session state: negotiated packet size, transaction
// descriptor and depth, pending-DONE accounting, the current column
// metadata snapshot, and the statement cache.
//
// A Conn must not be shared across concurrent goroutines.
type Conn struct {
	opts   Options
	nc     net.Conn
	framer *tds.Framer
	logger *log.Logger

	txDescriptor uint64
	txDepth      uint32
	pendingDone  int

	// columns is the metadata snapshot of the current result set. Rows
	// reference it; replacing a result set replaces the snapshot.
	columns []tds.Column

	// scan is the token scanner over the in-flight response, nil when the
	// connection is ready for the next request.
	scan *tds.TokenScanner
	msg  *tds.MessageReader

	stmts *lru.Cache[string, *Statement]

	loginAck *tds.LoginAck

	closed bool
	broken bool
}

// Connect opens a transport to the server and performs the
// PRELOGIN -> LOGIN7 -> token drain handshake.
func Connect(ctx context.Context, options Options) (*Conn, error) {
	opts, err := options.withDefaults()
	if err != nil {
		return nil, err
	}

	nc, err := opts.Dialer(ctx, "tcp", opts.Addr())
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeIO, "connecting to %s", opts.Addr())
	}

	stmts, err := lru.New[string, *Statement](opts.StatementCacheSize)
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "statement cache")
	}

	c := &Conn{
		opts:   opts,
		nc:     nc,
		framer: tds.NewFramer(nc, opts.PacketSize),
		logger: opts.Logger,
		stmts:  stmts,
	}

	if err := c.handshake(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	c.logger.Info(log.CategorySystem, "connected",
		"addr", opts.Addr(), "database", opts.Database)

	return c, nil
}

func (c *Conn) handshake(ctx context.Context) error {
	c.applyDeadline(ctx)

	// PRELOGIN. The server responds immediately with a PRELOGIN of its
	// own; only the encryption option matters to this client.
	prelogin := &tds.Prelogin{
		Version:    tds.Version{Major: 0, Minor: 1},
		Encryption: tds.EncryptNotSup,
		ThreadID:   uint32(os.Getpid()),
	}

	if err := c.framer.WriteMessage(tds.PacketPrelogin, prelogin.Encode()); err != nil {
		return errors.IO(err)
	}

	_, payload, err := c.framer.ReadMessage()
	if err != nil {
		return errors.IO(err)
	}

	resp, err := tds.ParsePrelogin(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeHandshakeFailed, "parsing server prelogin")
	}

	switch resp.Encryption {
	case tds.EncryptNotSup, tds.EncryptOff:
		// Proceed in cleartext.
	default:
		return errors.Unsupported("server requires encryption (0x%02x)", resp.Encryption)
	}

	// LOGIN7.
	hostname := c.opts.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	login := &tds.Login7{
		TDSVersion: tds.VerTDS74,
		PacketSize: uint32(c.framer.PacketSize()),
		ClientPID:  uint32(os.Getpid()),
		HostName:   hostname,
		UserName:   c.opts.Username,
		Password:   c.opts.Password,
		AppName:    c.opts.AppName,
		ServerName: c.opts.Host,
		CtlIntName: "mstds",
		Database:   c.opts.Database,
	}

	if err := c.framer.WriteMessage(tds.PacketLogin7, login.Encode()); err != nil {
		return errors.IO(err)
	}

	// Drain the login response until a final DONE. ENVCHANGE and LOGINACK
	// carry the session parameters; an ERROR is a failed login.
	c.pendingDone++
	c.beginResponse()

	for {
		tok, err := c.scan.Next()
		if err != nil {
			c.broken = true
			return errors.Wrap(err, errors.ErrCodeHandshakeFailed, "login response")
		}

		switch t := tok.(type) {
		case *tds.LoginAck:
			c.loginAck = t
			c.logger.Debug(log.CategorySystem, "login ack",
				"server", t.ProgName, "tds_version", t.TDSVersion)

		case *tds.EnvChange:
			c.applyEnvChange(t)

		case *tds.ServerMessage:
			if t.Error {
				c.handleDoneCount()
				return errors.Wrap(serverError(t), errors.ErrCodeAuthFailed, "login rejected")
			}

		case *tds.Done:
			if !t.More() {
				c.finishDone(t)
				if c.loginAck == nil {
					return errors.Protocol("login completed without LOGINACK")
				}
				return nil
			}
		}
	}
}

// handleDoneCount undoes the pending-done increment when a request fails
// before its response is drained.
func (c *Conn) handleDoneCount() {
	if c.pendingDone > 0 {
		c.pendingDone--
	}
	c.scan = nil
	c.msg = nil
}

// ServerVersion returns the LOGINACK recorded during the handshake.
func (c *Conn) ServerVersion() *tds.LoginAck {
	return c.loginAck
}

// Columns returns the metadata snapshot of the current result set.
func (c *Conn) Columns() []tds.Column {
	return c.columns
}

// TransactionDepth returns the current nesting depth of Begin calls.
func (c *Conn) TransactionDepth() uint32 {
	return c.txDepth
}

// Ready reports whether the connection can accept a new request: every
// issued request has drained to its final DONE.
func (c *Conn) Ready() bool {
	return !c.closed && !c.broken && c.pendingDone == 0 && c.scan == nil
}

// Close terminates the connection. Any in-flight response is abandoned.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.stmts.Purge()
	c.logger.Debug(log.CategorySystem, "connection closed", "addr", c.opts.Addr())
	return c.nc.Close()
}

// applyDeadline maps the context deadline onto the socket. Callers enforce
// timeouts by cancelling the context and issuing Cancel.
func (c *Conn) applyDeadline(ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		c.nc.SetDeadline(dl)
	} else {
		c.nc.SetDeadline(time.Time{})
	}
}

// beginResponse positions the scanner at the start of a new server
// response message.
func (c *Conn) beginResponse() {
	c.msg = c.framer.NewMessageReader(tds.PacketReply)
	c.scan = tds.NewTokenScanner(tds.NewReader(c.msg))
}

// applyEnvChange updates session state from an ENVCHANGE token.
func (c *Conn) applyEnvChange(e *tds.EnvChange) {
	switch e.Type {
	case tds.EnvPacketSize:
		if n, ok := e.PacketSize(); ok {
			c.framer.SetPacketSize(n)
			c.logger.Debug(log.CategoryProtocol, "packet size changed", "size", n)
		}

	case tds.EnvBeginTran:
		if len(e.NewValue) == 8 {
			c.txDescriptor = binary.LittleEndian.Uint64(e.NewValue)
		}
		c.logger.Debug(log.CategoryProtocol, "transaction started",
			"descriptor", c.txDescriptor)

	case tds.EnvCommitTran, tds.EnvRollbackTran:
		c.txDescriptor = 0

	case tds.EnvDatabase:
		c.logger.Debug(log.CategorySystem, "database changed",
			"from", e.Old, "to", e.New)

	case tds.EnvSQLCollation:
		c.logger.Debug(log.CategorySystem, "collation changed")
	}
}

// finishDone performs DONE accounting. Only final DONE/DONEPROC tokens
// close out a request; DONEINPROC never does.
func (c *Conn) finishDone(d *tds.Done) {
	if d.Kind == tds.TokenDoneInProc {
		return
	}
	if !d.More() {
		if c.pendingDone > 0 {
			c.pendingDone--
		}
		if c.pendingDone == 0 && c.msg != nil && c.msg.Done() {
			c.scan = nil
			c.msg = nil
		}
	}
}

// waitUntilReady drains any abandoned response so a new request can be
// issued: tokens are consumed and their side effects applied, rows and
// results discarded.
func (c *Conn) waitUntilReady(ctx context.Context) error {
	if c.closed {
		return errors.New(errors.ErrCodeConnClosed, "connection is closed")
	}
	if c.broken {
		return errors.New(errors.ErrCodeConnClosed, "connection is broken")
	}

	c.applyDeadline(ctx)

	for c.scan != nil {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrCodeCancelled, "waiting for connection")
		}

		tok, err := c.scan.Next()
		if err != nil {
			if err == io.EOF {
				if c.pendingDone == 0 {
					c.scan = nil
					c.msg = nil
					break
				}
				// A queued request's response follows in its own
				// message; move on to it.
				c.beginResponse()
				continue
			}
			c.broken = true
			return errors.Wrap(err, errors.ErrCodeProtocol, "draining response")
		}

		switch t := tok.(type) {
		case *tds.EnvChange:
			c.applyEnvChange(t)
		case *tds.ColMetadata:
			c.columns = t.Columns
		case *tds.Done:
			c.finishDone(t)
		}
	}

	return nil
}

// sendRequest writes a request message and positions the response scanner.
// The caller must have drained the previous response.
func (c *Conn) sendRequest(ctx context.Context, pt tds.PacketType, payload []byte) error {
	if err := c.waitUntilReady(ctx); err != nil {
		return err
	}

	c.pendingDone++
	if err := c.framer.WriteMessage(pt, payload); err != nil {
		c.broken = true
		c.handleDoneCount()
		return errors.IO(err)
	}

	c.beginResponse()
	return nil
}

// Cancel sends an ATTENTION packet and drains the response until the
// server acknowledges it with a DONE carrying the attention bit.
func (c *Conn) Cancel(ctx context.Context) error {
	if c.closed || c.broken {
		return errors.New(errors.ErrCodeConnClosed, "connection is closed")
	}

	c.applyDeadline(ctx)

	if err := c.framer.WriteMessage(tds.PacketAttention, nil); err != nil {
		c.broken = true
		return errors.IO(err)
	}

	for {
		if c.scan == nil {
			c.beginResponse()
		}

		tok, err := c.scan.Next()
		if err != nil {
			if err == io.EOF {
				c.beginResponse()
				continue
			}
			c.broken = true
			return errors.Wrap(err, errors.ErrCodeProtocol, "draining after attention")
		}

		switch t := tok.(type) {
		case *tds.EnvChange:
			c.applyEnvChange(t)
		case *tds.Done:
			if t.Attention() {
				c.finishDone(t)
				c.logger.Debug(log.CategoryQuery, "query cancelled")
				return nil
			}
			c.finishDone(t)
		}
	}
}

// serverError converts an ERROR token into a ServerError.
func serverError(m *tds.ServerMessage) *errors.ServerError {
	return &errors.ServerError{
		Number:    m.Number,
		State:     m.State,
		Class:     m.Class,
		Message:   m.Message,
		Server:    m.Server,
		Procedure: m.Procedure,
		Line:      m.Line,
	}
}
