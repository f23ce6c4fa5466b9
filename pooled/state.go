package pooled

import (
	"fmt"
	"strings"
	"time"
)

// poolState is guarded by Pool.mu.
type poolState struct {
	// oldest returned first
	idle []*Conn

	// checkout order, head is the oldest checkout
	active []*Conn

	requestCount            int64
	accumulatedRequestTime  time.Duration
	accumulatedCheckoutTime time.Duration
	claimedOverdueCount     int64
	accumulatedOverdueTime  time.Duration
	accumulatedWaitTime     time.Duration
	hadToWaitCount          int64
	badConnectionCount      int64

	// closed and replaced on every broadcast
	wakeup chan struct{}
}

func newPoolState() *poolState {
	return &poolState{wakeup: make(chan struct{})}
}

func (s *poolState) broadcast() {
	close(s.wakeup)
	s.wakeup = make(chan struct{})
}

func (s *poolState) popIdle() *Conn {
	c := s.idle[0]
	s.idle[0] = nil
	s.idle = s.idle[1:]
	return c
}

func (s *poolState) removeActive(c *Conn) bool {
	for i, a := range s.active {
		if a == c {
			copy(s.active[i:], s.active[i+1:])
			s.active[len(s.active)-1] = nil
			s.active = s.active[:len(s.active)-1]
			return true
		}
	}
	return false
}

func (s *poolState) snapshot() Stats {
	return Stats{
		IdleCount:                        len(s.idle),
		ActiveCount:                      len(s.active),
		RequestCount:                     s.requestCount,
		AccumulatedRequestTime:           s.accumulatedRequestTime,
		AccumulatedCheckoutTime:          s.accumulatedCheckoutTime,
		ClaimedOverdueCount:              s.claimedOverdueCount,
		AccumulatedCheckoutTimeOfOverdue: s.accumulatedOverdueTime,
		AccumulatedWaitTime:              s.accumulatedWaitTime,
		HadToWaitCount:                   s.hadToWaitCount,
		BadConnectionCount:               s.badConnectionCount,
	}
}

// Stats is a point in time copy of the pool counters.
type Stats struct {
	IdleCount   int
	ActiveCount int

	RequestCount           int64
	AccumulatedRequestTime time.Duration

	// Checkout time of every connection that came back, reclaimed ones included
	AccumulatedCheckoutTime time.Duration

	ClaimedOverdueCount              int64
	AccumulatedCheckoutTimeOfOverdue time.Duration

	HadToWaitCount      int64
	AccumulatedWaitTime time.Duration

	BadConnectionCount int64
}

func (s Stats) AverageRequestTime() time.Duration {
	return average(s.AccumulatedRequestTime, s.RequestCount)
}

func (s Stats) AverageWaitTime() time.Duration {
	return average(s.AccumulatedWaitTime, s.HadToWaitCount)
}

func (s Stats) AverageCheckoutTime() time.Duration {
	return average(s.AccumulatedCheckoutTime, s.RequestCount)
}

func (s Stats) AverageOverdueCheckoutTime() time.Duration {
	return average(s.AccumulatedCheckoutTimeOfOverdue, s.ClaimedOverdueCount)
}

func average(total time.Duration, n int64) time.Duration {
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "requests=%d avgRequest=%s", s.RequestCount, s.AverageRequestTime())
	fmt.Fprintf(&b, " avgCheckout=%s", s.AverageCheckoutTime())
	fmt.Fprintf(&b, " overdueClaimed=%d avgOverdueCheckout=%s", s.ClaimedOverdueCount, s.AverageOverdueCheckoutTime())
	fmt.Fprintf(&b, " hadToWait=%d avgWait=%s", s.HadToWaitCount, s.AverageWaitTime())
	fmt.Fprintf(&b, " bad=%d idle=%d active=%d", s.BadConnectionCount, s.IdleCount, s.ActiveCount)
	return b.String()
}
