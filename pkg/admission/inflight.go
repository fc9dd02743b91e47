package admission

import (
	"log/slog"
	"sync/atomic"

	"github.com/getmockd/inbound/pkg/logging"
)

// InFlight is an atomic counter of admitted work that has not completed.
// It never goes below zero.
type InFlight struct {
	n         atomic.Int64
	underflow atomic.Int64
	log       *slog.Logger
}

// NewInFlight returns a zeroed counter. Underflow attempts are reported on log.
func NewInFlight(log *slog.Logger) *InFlight {
	return &InFlight{log: logging.OrNop(log)}
}

// Enter records one more unit of work in progress.
func (c *InFlight) Enter() int64 {
	return c.n.Add(1)
}

// Exit records the completion of one unit of work. An Exit without a
// matching Enter is logged as an invariant violation and the counter stays
// at zero.
func (c *InFlight) Exit() int64 {
	for {
		cur := c.n.Load()
		if cur <= 0 {
			c.underflow.Add(1)
			if c.log != nil {
				c.log.Error("in-flight counter underflow prevented", "count", cur)
			}
			if cur < 0 {
				c.n.CompareAndSwap(cur, 0)
			}
			return 0
		}
		if c.n.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// Count returns the current number of units of work in progress.
func (c *InFlight) Count() int64 {
	return c.n.Load()
}

// Underflows returns how many unmatched Exit calls were absorbed.
func (c *InFlight) Underflows() int64 {
	return c.underflow.Load()
}
