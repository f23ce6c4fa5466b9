package pooled

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/jasonkayzk/sqlpool/rawconn"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu          sync.Mutex
	closed      bool
	closeCount  int
	inTx        bool
	rollbacks   int
	rollbackErr error
	execErr     error
	execs       []string
}

func (c *fakeConn) Exec(_ context.Context, query string, _ ...any) (sql.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, query)
	return nil, c.execErr
}

func (c *fakeConn) Query(_ context.Context, query string, _ ...any) (*sql.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, query)
	return nil, c.execErr
}

func (c *fakeConn) Begin(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = true
	return nil
}

func (c *fakeConn) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = false
	return nil
}

func (c *fakeConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbacks++
	if c.rollbackErr != nil {
		return c.rollbackErr
	}
	c.inTx = false
	return nil
}

func (c *fakeConn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inTx
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCount++
	return nil
}

func (c *fakeConn) set(fn func(c *fakeConn)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func (c *fakeConn) isClosed() bool {
	return c.IsClosed()
}

func (c *fakeConn) rollbackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbacks
}

func (c *fakeConn) executed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.execs...)
}

// fakeFactory counts every physical connection it opens.
type fakeFactory struct {
	mu     sync.Mutex
	conns  []*fakeConn
	params []rawconn.Params
	err    error

	// applied to every new connection
	prepare func(c *fakeConn)
}

func (f *fakeFactory) Open(_ context.Context, params rawconn.Params) (rawconn.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{}
	if f.prepare != nil {
		f.prepare(c)
	}
	f.conns = append(f.conns, c)
	f.params = append(f.params, params)
	return c, nil
}

func (f *fakeFactory) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeFactory) paramsOf(i int) rawconn.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[i]
}

var errBoom = errors.New("boom")

func rawconnParams(url, username, password string) rawconn.Params {
	return rawconn.Params{URL: url, Username: username, Password: password}
}

func testOptions(f rawconn.Factory) Options {
	o := DefaultOptions()
	o.URL = "fake://db1"
	o.Username = "app"
	o.Password = "secret"
	o.Factory = f
	return o
}

func newTestPool(t *testing.T, f *fakeFactory, mutate func(o *Options)) (*Pool, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	o := testOptions(f)
	o.Logger = logger
	if mutate != nil {
		mutate(&o)
	}
	p, err := New(o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, hook
}

func countMessages(hook *test.Hook, level logrus.Level, prefix string) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == level && len(e.Message) >= len(prefix) && e.Message[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
