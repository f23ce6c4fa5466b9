// Package pooled is a simple, synchronous, thread-safe connection pool.
//
// Every state change happens under one pool-wide lock. Callers wanting a
// connection while the pool is saturated block until a connection comes
// back, a checked out connection becomes overdue and can be reclaimed, or
// their context ends.
package pooled

import "context"

// The data source interface
type DataSource interface {
	// Acquire returns a connection opened with the configured credentials.
	// Closing the connection returns it to the pool.
	Acquire(ctx context.Context) (*Conn, error)

	// AcquireAs returns a connection for the given credentials.
	AcquireAs(ctx context.Context, username, password string) (*Conn, error)

	// ForceCloseAll closes every idle connection. Checked out connections
	// are closed instead of recycled when they come back with credentials
	// that no longer match.
	ForceCloseAll()

	// State returns a snapshot of the pool counters.
	State() Stats

	// Close shuts the pool down and closes all its connections, checked
	// out ones included. After Close() the pool is no longer usable.
	Close() error
}

var _ DataSource = (*Pool)(nil)
