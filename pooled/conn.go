package pooled

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/jasonkayzk/sqlpool/errs"
	"github.com/jasonkayzk/sqlpool/rawconn"
)

// Conn is a checked out connection handle. It forwards to the physical
// connection until it is retired, after which every call except Close
// fails with errs.RetiredErr. Close hands the connection back to the pool.
//
// Returning or reclaiming a connection never revives the old handle: the
// pool wraps the same physical connection in a new Conn instead.
type Conn struct {
	pool *Pool
	raw  rawconn.Conn

	// identity of raw, shared by every handle wrapping it
	id       uint64
	typeCode uint64

	createdAt    time.Time
	lastUsedAt   time.Time
	checkedOutAt time.Time

	valid atomic.Bool
}

func newConn(p *Pool, raw rawconn.Conn, id uint64, now time.Time) *Conn {
	c := &Conn{
		pool:       p,
		raw:        raw,
		id:         id,
		createdAt:  now,
		lastUsedAt: now,
	}
	c.valid.Store(true)
	return c
}

// rewrap returns a fresh handle around the same physical connection,
// keeping its history.
func (c *Conn) rewrap() *Conn {
	n := newConn(c.pool, c.raw, c.id, c.createdAt)
	n.lastUsedAt = c.lastUsedAt
	n.typeCode = c.typeCode
	return n
}

func (c *Conn) invalidate() {
	if !c.valid.CompareAndSwap(true, false) {
		panic(errs.NewInvariantViolationErr("pooled: connection handle invalidated twice"))
	}
}

func (c *Conn) check() error {
	if !c.valid.Load() {
		return errs.NewDefaultRetiredErr()
	}
	return nil
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.raw.Exec(ctx, query, args...)
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.raw.Query(ctx, query, args...)
}

func (c *Conn) Begin(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.raw.Begin(ctx)
}

func (c *Conn) Commit() error {
	if err := c.check(); err != nil {
		return err
	}
	return c.raw.Commit()
}

func (c *Conn) Rollback() error {
	if err := c.check(); err != nil {
		return err
	}
	return c.raw.Rollback()
}

// Close returns the connection to its pool. It never fails; closing a
// retired handle only counts it as a bad connection.
func (c *Conn) Close() error {
	c.pool.release(c)
	return nil
}

// Valid reports whether the handle is still usable.
func (c *Conn) Valid() bool {
	return c.valid.Load()
}

// ID identifies the physical connection, stable across handles wrapping it.
func (c *Conn) ID() uint64 {
	return c.id
}

func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

func (c *Conn) LastUsedAt() time.Time {
	return c.lastUsedAt
}

func (c *Conn) CheckedOutAt() time.Time {
	return c.checkedOutAt
}

// Age is the time since the physical connection was opened.
func (c *Conn) Age() time.Duration {
	return time.Since(c.createdAt)
}

// IdleFor is the time since the connection was last checked out.
func (c *Conn) IdleFor() time.Duration {
	return time.Since(c.lastUsedAt)
}

// CheckoutTime is how long the handle has been checked out, zero if never.
func (c *Conn) CheckoutTime() time.Duration {
	if c.checkedOutAt.IsZero() {
		return 0
	}
	return time.Since(c.checkedOutAt)
}

// Unwrap returns the physical connection behind c, bypassing the pool.
func Unwrap(c *Conn) rawconn.Conn {
	if c == nil {
		return nil
	}
	return c.raw
}
