package pooled

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jasonkayzk/sqlpool/errs"
	"github.com/sirupsen/logrus"
)

// Pool hands out connections opened by Options.Factory.
type Pool struct {
	mu    sync.Mutex
	state *poolState
	opts  Options
	log   logrus.FieldLogger

	// type code of handles minted under the current configuration
	expectedTypeCode uint64
	lastID           uint64
	closed           bool
}

type credentials struct {
	username string
	password string
}

// Build pool
func New(options Options) (*Pool, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}
	if options.PingQuery == "" {
		options.PingQuery = defaultPingQuery
	}
	options.DriverProperties = copyProperties(options.DriverProperties)
	options.DefaultAutoCommit = copyBool(options.DefaultAutoCommit)

	p := &Pool{
		state: newPoolState(),
		opts:  options,
		log:   options.Logger,
	}
	if p.log == nil {
		p.log = logrus.StandardLogger()
	}
	p.expectedTypeCode = connectionTypeCode(options.URL, options.Username, options.Password)
	return p, nil
}

// connectionTypeCode fingerprints the settings a physical connection was
// opened with.
func connectionTypeCode(url, username, password string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(url)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(username)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(password)
	return d.Sum64()
}

// Acquire checks out a connection opened with the configured credentials.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	return p.acquire(ctx, nil)
}

// AcquireAs checks out a connection opened with the given credentials.
func (p *Pool) AcquireAs(ctx context.Context, username, password string) (*Conn, error) {
	return p.acquire(ctx, &credentials{username: username, password: password})
}

func (p *Pool) acquire(ctx context.Context, creds *credentials) (*Conn, error) {
	start := time.Now()
	countedWait := false
	localBad := 0

	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.state
	for {
		if p.closed {
			return nil, errs.NewDefaultClosedErr()
		}

		username, password := p.opts.Username, p.opts.Password
		if creds != nil {
			username, password = creds.username, creds.password
		}
		code := connectionTypeCode(p.opts.URL, username, password)

		var c *Conn
		switch {
		case len(s.idle) > 0 && code == p.expectedTypeCode:
			c = s.popIdle()
			if c.typeCode != p.expectedTypeCode {
				p.retire(c, "closed stale idle connection")
				continue
			}
			p.log.WithField("conn", c.id).Debug("checked out connection from pool")

		case len(s.active) < p.opts.MaxActive:
			raw, err := p.opts.Factory.Open(ctx, p.opts.params(username, password))
			if err != nil {
				return nil, fmt.Errorf("pooled: open connection: %w", err)
			}
			p.lastID++
			c = newConn(p, raw, p.lastID, time.Now())
			p.log.WithField("conn", c.id).Debug("created connection")

		default:
			oldest := s.active[0]
			checkout := oldest.CheckoutTime()
			if checkout <= p.opts.MaxCheckoutTime {
				if !countedWait {
					s.hadToWaitCount++
					countedWait = true
				}
				if err := p.wait(ctx); err != nil {
					return nil, err
				}
				continue
			}
			if c = p.claimOverdue(oldest, checkout, code); c == nil {
				continue
			}
		}

		if !p.readyForCheckout(ctx, c) {
			log := p.log.WithField("conn", c.id)
			log.Debug("a bad connection was returned from the pool, getting another connection")
			s.badConnectionCount++
			localBad++
			c.invalidate()
			bestEffort(log, "close bad connection", c.raw.Close)

			if localBad > p.opts.MaxIdle+p.opts.BadConnectionTolerance {
				p.log.Debug("could not get a good connection to the database")
				return nil, errs.NewBadConnectionErr("pooled: could not get a good connection to the database", localBad)
			}
			continue
		}

		now := time.Now()
		c.typeCode = code
		c.checkedOutAt = now
		c.lastUsedAt = now
		s.active = append(s.active, c)
		s.requestCount++
		s.accumulatedRequestTime += now.Sub(start)
		return c, nil
	}
}

// readyForCheckout health checks c and clears work left on it.
func (p *Pool) readyForCheckout(ctx context.Context, c *Conn) bool {
	if !c.Valid() || !p.pingConn(ctx, c) {
		return false
	}
	if c.raw.InTransaction() {
		if err := c.raw.Rollback(); err != nil {
			p.log.WithField("conn", c.id).WithError(err).Debug("could not roll back connection before checkout")
			return false
		}
	}
	return true
}

// claimOverdue takes the oldest checked out connection away from its holder.
// It returns nil when the connection was not opened for code and was closed
// instead.
func (p *Pool) claimOverdue(oldest *Conn, checkout time.Duration, code uint64) *Conn {
	s := p.state
	s.claimedOverdueCount++
	s.accumulatedOverdueTime += checkout
	s.accumulatedCheckoutTime += checkout
	s.active = s.active[1:]

	log := p.log.WithField("conn", oldest.id)
	if oldest.raw.InTransaction() {
		bestEffort(log, "roll back overdue connection", oldest.raw.Rollback)
	}

	c := oldest.rewrap()
	oldest.invalidate()
	if c.typeCode != code {
		p.retire(c, "closed overdue connection opened with other settings")
		return nil
	}
	log.Debugf("claimed overdue connection after %s", checkout)
	return c
}

// wait releases p.mu until a connection comes back, MaxWaitTime passes or
// ctx ends. A zero MaxWaitTime waits for a wake up only.
func (p *Pool) wait(ctx context.Context) error {
	s := p.state
	wake := s.wakeup

	var timeout <-chan time.Time
	if p.opts.MaxWaitTime > 0 {
		timer := time.NewTimer(p.opts.MaxWaitTime)
		defer timer.Stop()
		timeout = timer.C
	}
	p.log.Debugf("waiting as long as %s for connection", p.opts.MaxWaitTime)

	start := time.Now()
	p.mu.Unlock()
	var err error
	select {
	case <-wake:
	case <-timeout:
	case <-ctx.Done():
		err = ctx.Err()
	}
	p.mu.Lock()
	s.accumulatedWaitTime += time.Since(start)

	if err != nil {
		return errs.NewInterruptedErr("pooled: interrupted while waiting for a connection", err)
	}
	return nil
}

func (p *Pool) release(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.state
	wasActive := s.removeActive(c)
	log := p.log.WithField("conn", c.id)

	if !c.Valid() {
		log.Debug("a bad connection attempted to return to the pool, discarding connection")
		s.badConnectionCount++
		return
	}
	if !wasActive {
		panic(errs.NewInvariantViolationErr("pooled: released connection is not checked out from this pool"))
	}

	s.accumulatedCheckoutTime += c.CheckoutTime()

	if len(s.idle) < p.opts.MaxIdle && c.typeCode == p.expectedTypeCode {
		if c.raw.InTransaction() {
			if err := c.raw.Rollback(); err != nil {
				log.WithError(err).Debug("could not roll back returned connection")
				p.retire(c, "closed connection")
				s.broadcast()
				return
			}
		}
		s.idle = append(s.idle, c.rewrap())
		c.invalidate()
		log.Debug("returned connection to pool")
		s.broadcast()
		return
	}

	p.retire(c, "closed connection")
	// an active slot is free even though nothing went back to idle
	s.broadcast()
}

// retire invalidates c and closes its physical connection.
func (p *Pool) retire(c *Conn, msg string) {
	log := p.log.WithField("conn", c.id)
	c.invalidate()
	if c.raw.InTransaction() {
		bestEffort(log, "roll back", c.raw.Rollback)
	}
	bestEffort(log, "close", c.raw.Close)
	log.Debug(msg)
}

// ForceCloseAll closes every idle connection. Checked out connections are
// closed when they come back if the connection settings changed meanwhile.
func (p *Pool) ForceCloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forceCloseAll(false)
}

// forceCloseAll must be called with p.mu held.
func (p *Pool) forceCloseAll(withActive bool) {
	s := p.state
	p.expectedTypeCode = connectionTypeCode(p.opts.URL, p.opts.Username, p.opts.Password)

	if withActive {
		for i := len(s.active); i > 0; i-- {
			c := s.active[i-1]
			s.active[i-1] = nil
			s.active = s.active[:i-1]
			p.retire(c, "closed active connection")
		}
	}
	for i := len(s.idle); i > 0; i-- {
		c := s.idle[i-1]
		s.idle[i-1] = nil
		s.idle = s.idle[:i-1]
		p.retire(c, "closed idle connection")
	}

	// settings a waiter depends on may have changed
	s.broadcast()
	p.log.Debug("forcefully closed/removed all connections")
}

// Close closes every connection, idle or checked out, and fails later
// acquires with errs.ClosedErr.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.forceCloseAll(true)
	return nil
}

// State returns a snapshot of the pool statistics.
func (p *Pool) State() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.snapshot()
}

// Options returns a copy of the current configuration.
func (p *Pool) Options() Options {
	p.mu.Lock()
	defer p.mu.Unlock()
	o := p.opts
	o.DriverProperties = copyProperties(o.DriverProperties)
	o.DefaultAutoCommit = copyBool(o.DefaultAutoCommit)
	return o
}

// reconfigure applies fn and closes every idle connection.
func (p *Pool) reconfigure(fn func(o *Options)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.opts)
	p.forceCloseAll(false)
}

// SetDriver changes the driver name handed to the factory.
func (p *Pool) SetDriver(driver string) {
	p.reconfigure(func(o *Options) { o.Driver = driver })
}

// SetURL changes the connection url.
func (p *Pool) SetURL(url string) {
	p.reconfigure(func(o *Options) { o.URL = url })
}

// SetUsername changes the configured username.
func (p *Pool) SetUsername(username string) {
	p.reconfigure(func(o *Options) { o.Username = username })
}

// SetPassword changes the configured password.
func (p *Pool) SetPassword(password string) {
	p.reconfigure(func(o *Options) { o.Password = password })
}

// SetDriverProperties replaces the driver properties.
func (p *Pool) SetDriverProperties(props map[string]string) {
	props = copyProperties(props)
	p.reconfigure(func(o *Options) { o.DriverProperties = props })
}

// SetDefaultAutoCommit sets the auto commit mode of new connections, nil
// keeps the driver default.
func (p *Pool) SetDefaultAutoCommit(autoCommit *bool) {
	autoCommit = copyBool(autoCommit)
	p.reconfigure(func(o *Options) { o.DefaultAutoCommit = autoCommit })
}

// SetDefaultTransactionIsolation sets the isolation level of transactions
// started on new connections.
func (p *Pool) SetDefaultTransactionIsolation(level sql.IsolationLevel) {
	p.reconfigure(func(o *Options) { o.DefaultTransactionIsolation = level })
}

// SetDefaultNetworkTimeout bounds every statement on new connections. Zero
// disables it.
func (p *Pool) SetDefaultNetworkTimeout(d time.Duration) error {
	if err := validateDurations(d); err != nil {
		return err
	}
	p.reconfigure(func(o *Options) { o.DefaultNetworkTimeout = d })
	return nil
}

// SetLoginTimeout bounds opening a physical connection. Zero disables it.
func (p *Pool) SetLoginTimeout(d time.Duration) error {
	if err := validateDurations(d); err != nil {
		return err
	}
	p.reconfigure(func(o *Options) { o.LoginTimeout = d })
	return nil
}

// SetMaxActive changes the number of connections that may be checked out
// at once. When it shrinks below the current count, the newest checked out
// connections are closed and their holders get errs.RetiredErr.
func (p *Pool) SetMaxActive(n int) error {
	if n < 1 {
		return fmt.Errorf("invalid max active connections: %d", n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts.MaxActive = n

	s := p.state
	for len(s.active) > n {
		c := s.active[len(s.active)-1]
		s.active[len(s.active)-1] = nil
		s.active = s.active[:len(s.active)-1]
		s.accumulatedCheckoutTime += c.CheckoutTime()
		p.retire(c, "closed active connection over capacity")
	}
	p.forceCloseAll(false)
	return nil
}

// SetMaxIdle changes the number of idle connections kept for reuse.
func (p *Pool) SetMaxIdle(n int) error {
	if n < 0 {
		return fmt.Errorf("invalid max idle connections: %d", n)
	}
	p.reconfigure(func(o *Options) { o.MaxIdle = n })
	return nil
}

// SetMaxCheckoutTime changes how long a connection may stay checked out
// before it can be reclaimed.
func (p *Pool) SetMaxCheckoutTime(d time.Duration) error {
	if err := validateDurations(d); err != nil {
		return err
	}
	p.reconfigure(func(o *Options) { o.MaxCheckoutTime = d })
	return nil
}

// SetMaxWaitTime changes how long one wait for a connection lasts.
func (p *Pool) SetMaxWaitTime(d time.Duration) error {
	if err := validateDurations(d); err != nil {
		return err
	}
	p.reconfigure(func(o *Options) { o.MaxWaitTime = d })
	return nil
}

// SetBadConnectionTolerance is the only setter that keeps open connections.
func (p *Pool) SetBadConnectionTolerance(n int) error {
	if n < 0 {
		return fmt.Errorf("invalid bad connection tolerance: %d", n)
	}
	p.mu.Lock()
	p.opts.BadConnectionTolerance = n
	p.mu.Unlock()
	return nil
}

// SetPingEnabled turns the probe statement on or off.
func (p *Pool) SetPingEnabled(enabled bool) {
	p.reconfigure(func(o *Options) { o.PingEnabled = enabled })
}

// SetPingQuery changes the probe statement.
func (p *Pool) SetPingQuery(query string) {
	p.reconfigure(func(o *Options) { o.PingQuery = query })
}

// SetPingNotUsedFor changes how long a connection must sit unused before it
// is probed.
func (p *Pool) SetPingNotUsedFor(d time.Duration) error {
	if err := validateDurations(d); err != nil {
		return err
	}
	p.reconfigure(func(o *Options) { o.PingNotUsedFor = d })
	return nil
}
