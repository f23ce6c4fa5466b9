package pooled

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// IsUsable reports whether c is still good to hand out. It never fails,
// every problem just makes the connection unusable.
func (p *Pool) IsUsable(ctx context.Context, c *Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return c.Valid() && p.pingConn(ctx, c)
}

// pingConn must be called with p.mu held.
func (p *Pool) pingConn(ctx context.Context, c *Conn) bool {
	log := p.log.WithField("conn", c.id)

	if c.raw.IsClosed() {
		log.Debug("connection is BAD: closed")
		return false
	}

	// only connections left unused for a while are probed
	if !p.opts.PingEnabled || c.IdleFor() <= p.opts.PingNotUsedFor {
		return true
	}

	log.Debug("testing connection")
	if err := p.probe(ctx, c); err != nil {
		log.Warnf("execution of ping query '%s' failed: %v", p.opts.PingQuery, err)
		bestEffort(log, "close connection after failed ping", c.raw.Close)
		log.Debugf("connection is BAD: %v", err)
		return false
	}
	log.Debug("connection is GOOD")
	return true
}

func (p *Pool) probe(ctx context.Context, c *Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ping panicked: %v", r)
		}
	}()

	if _, err = c.raw.Exec(ctx, p.opts.PingQuery); err != nil {
		return err
	}
	if c.raw.InTransaction() {
		return c.raw.Rollback()
	}
	return nil
}

// bestEffort runs a cleanup step whose failure must not abort the pool
// operation in progress.
func bestEffort(log logrus.FieldLogger, action string, fn func() error) {
	if err := fn(); err != nil {
		log.WithError(err).Debugf("%s failed, ignoring", action)
	}
}
