// Package rawconn defines the physical connections the pool hands out and the
// factories that open them.
package rawconn

import (
	"context"
	"database/sql"
	"time"
)

// Params carries everything needed to open one physical connection.
type Params struct {
	// Driver overrides the factory's driver when set.
	Driver     string
	URL        string
	Username   string
	Password   string
	Properties map[string]string

	// AutoCommit false runs statements in an implicit transaction that
	// lasts until Commit or Rollback. Nil keeps the driver default.
	AutoCommit *bool
	Isolation  sql.IsolationLevel

	// NetworkTimeout bounds each statement, LoginTimeout bounds Open.
	NetworkTimeout time.Duration
	LoginTimeout   time.Duration
}

// Conn is one physical connection to the backing store.
// A Conn is never shared between concurrent holders.
type Conn interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	// Query runs a statement that returns rows.
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)

	// Begin opens a transaction on the connection.
	Begin(ctx context.Context) error

	// Commit commits the open transaction.
	Commit() error

	// Rollback rolls back the open transaction, if any.
	Rollback() error

	// InTransaction reports whether there is uncommitted work.
	InTransaction() bool

	// IsClosed is a cheap liveness check, it must not touch the network.
	IsClosed() bool

	// Close releases the physical connection.
	Close() error
}

// Factory opens physical connections.
type Factory interface {
	Open(ctx context.Context, params Params) (Conn, error)
}

// FactoryFunc adapts a plain function to Factory.
type FactoryFunc func(ctx context.Context, params Params) (Conn, error)

func (f FactoryFunc) Open(ctx context.Context, params Params) (Conn, error) {
	return f(ctx, params)
}
