package rawconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrConnClosed    = errors.New("raw connection closed")
	ErrNoTransaction = errors.New("no transaction in progress")
	ErrInTransaction = errors.New("transaction already in progress")
)

// SQLFactory opens connections through a registered database/sql driver.
// Each Conn owns a *sql.DB limited to one physical connection, pinned with
// sql.DB.Conn for the lifetime of the Conn.
type SQLFactory struct {
	// Driver is the database/sql driver name, e.g. "mysql", "postgres", "sqlite3".
	Driver string
}

func NewSQLFactory(driver string) *SQLFactory {
	return &SQLFactory{Driver: driver}
}

func (f *SQLFactory) Open(ctx context.Context, params Params) (Conn, error) {
	driver := f.Driver
	if params.Driver != "" {
		driver = params.Driver
	}
	dsn, err := BuildDSN(driver, params)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if params.LoginTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.LoginTimeout)
		defer cancel()
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	return &sqlConn{
		db:             db,
		conn:           conn,
		manualCommit:   params.AutoCommit != nil && !*params.AutoCommit,
		txOpts:         &sql.TxOptions{Isolation: params.Isolation},
		networkTimeout: params.NetworkTimeout,
	}, nil
}

type sqlConn struct {
	mu     sync.Mutex
	db     *sql.DB
	conn   *sql.Conn
	tx     *sql.Tx
	closed bool

	manualCommit   bool
	txOpts         *sql.TxOptions
	networkTimeout time.Duration

	// cancels the deadline of the last statement, rows read from a Query
	// stay usable until the next statement
	cancelLast context.CancelFunc
}

// statement must be called with c.mu held.
func (c *sqlConn) statement(ctx context.Context) (context.Context, error) {
	if c.closed {
		return nil, ErrConnClosed
	}
	c.releaseDeadline()
	if c.manualCommit && c.tx == nil {
		tx, err := c.conn.BeginTx(context.WithoutCancel(ctx), c.txOpts)
		if err != nil {
			return nil, err
		}
		c.tx = tx
	}
	if c.networkTimeout > 0 {
		ctx, c.cancelLast = context.WithTimeout(ctx, c.networkTimeout)
	}
	return ctx, nil
}

func (c *sqlConn) releaseDeadline() {
	if c.cancelLast != nil {
		c.cancelLast()
		c.cancelLast = nil
	}
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.statement(ctx)
	if err != nil {
		return nil, err
	}
	if c.tx != nil {
		return c.tx.ExecContext(ctx, query, args...)
	}
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.statement(ctx)
	if err != nil {
		return nil, err
	}
	if c.tx != nil {
		return c.tx.QueryContext(ctx, query, args...)
	}
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *sqlConn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	if c.tx != nil {
		return ErrInTransaction
	}
	tx, err := c.conn.BeginTx(ctx, c.txOpts)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (c *sqlConn) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		if c.manualCommit {
			return nil
		}
		return ErrNoTransaction
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

func (c *sqlConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Rollback()
}

func (c *sqlConn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

func (c *sqlConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *sqlConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.releaseDeadline()
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	connErr := c.conn.Close()
	return errors.Join(connErr, c.db.Close())
}
