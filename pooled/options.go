package pooled

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jasonkayzk/sqlpool/rawconn"
	"github.com/sirupsen/logrus"
)

const defaultPingQuery = "NO PING QUERY SET"

// Configs for pool
type Options struct {
	// Connection parameters handed to the factory
	URL              string
	Username         string
	Password         string
	DriverProperties map[string]string

	// The method to open a physical connection
	Factory rawconn.Factory

	// Driver name handed to the factory, empty leaves the factory's own
	Driver string

	// Defaults applied to every new physical connection, nil auto commit
	// keeps the driver default
	DefaultAutoCommit           *bool
	DefaultTransactionIsolation sql.IsolationLevel
	DefaultNetworkTimeout       time.Duration

	// Bound on opening one physical connection, zero means no bound
	LoginTimeout time.Duration

	// Max number of checked out connections
	MaxActive int

	// Max number of idle connections kept for reuse
	MaxIdle int

	// How long a connection may stay checked out before a starving
	// caller is allowed to reclaim it
	MaxCheckoutTime time.Duration

	// Max time a single wait for a free connection lasts before the
	// caller re-checks the pool
	MaxWaitTime time.Duration

	// Bad connections one acquire may discard on top of MaxIdle before
	// it gives up with errs.BadConnectionErr
	BadConnectionTolerance int

	// Probe statement run against connections idle for longer than PingNotUsedFor
	PingEnabled    bool
	PingQuery      string
	PingNotUsedFor time.Duration

	// Defaults to logrus.StandardLogger()
	Logger logrus.FieldLogger
}

// DefaultOptions returns the options a pool starts with when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxActive:              10,
		MaxIdle:                5,
		MaxCheckoutTime:        20 * time.Second,
		MaxWaitTime:            20 * time.Second,
		BadConnectionTolerance: 3,
		PingQuery:              defaultPingQuery,
	}
}

func (o *Options) validate() error {
	if o.Factory == nil {
		return errors.New("invalid factory settings")
	}
	if err := validateCapacity(o.MaxActive, o.MaxIdle); err != nil {
		return err
	}
	if err := validateDurations(o.MaxCheckoutTime, o.MaxWaitTime, o.PingNotUsedFor,
		o.DefaultNetworkTimeout, o.LoginTimeout); err != nil {
		return err
	}
	if o.BadConnectionTolerance < 0 {
		return errors.New("invalid bad connection tolerance settings")
	}
	return nil
}

func validateCapacity(maxActive, maxIdle int) error {
	if maxActive < 1 || maxIdle < 0 {
		return errors.New("invalid capacity settings")
	}
	return nil
}

func validateDurations(ds ...time.Duration) error {
	for _, d := range ds {
		if d < 0 {
			return errors.New("invalid duration settings")
		}
	}
	return nil
}

func (o *Options) params(username, password string) rawconn.Params {
	return rawconn.Params{
		Driver:         o.Driver,
		URL:            o.URL,
		Username:       username,
		Password:       password,
		Properties:     o.DriverProperties,
		AutoCommit:     o.DefaultAutoCommit,
		Isolation:      o.DefaultTransactionIsolation,
		NetworkTimeout: o.DefaultNetworkTimeout,
		LoginTimeout:   o.LoginTimeout,
	}
}

func copyProperties(props map[string]string) map[string]string {
	if props == nil {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
