package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type storedResult struct {
	payload  string
	storedAt time.Time
}

// Correlator matches agent results to the callers waiting on them.
// Each waiter is resolved exactly once: by its result, or by its deadline.
type Correlator struct {
	mu      sync.Mutex
	waiters map[string]chan string
	results map[string]storedResult
	rv      *Rendezvous
	logger  *slog.Logger
	now     func() time.Time
}

func NewCorrelator(rv *Rendezvous, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		waiters: make(map[string]chan string),
		results: make(map[string]storedResult),
		rv:      rv,
		logger:  logger,
		now:     time.Now,
	}
}

// Dispatch enqueues cmd and blocks until the agent posts its result, the
// timeout elapses, or ctx ends. On timeout the command stays queued; a late
// result is stored and later reclaimed by SweepResults.
func (c *Correlator) Dispatch(ctx context.Context, cmd *Command, timeout time.Duration) (string, error) {
	ch := make(chan string, 1)
	c.mu.Lock()
	c.waiters[cmd.ID] = ch
	c.mu.Unlock()

	c.rv.Enqueue(cmd)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-ch:
		return Classify(cmd.Tool, cmd.ID, payload)
	case <-timer.C:
		if c.abandon(cmd.ID, ch) {
			return "", Timeout(cmd.Tool, cmd.ID)
		}
	case <-ctx.Done():
		if c.abandon(cmd.ID, ch) {
			return "", Transport(cmd.Tool, ctx.Err())
		}
	}
	// The result won the race with the deadline.
	return Classify(cmd.Tool, cmd.ID, <-ch)
}

// abandon removes the waiter if it is still registered.
func (c *Correlator) abandon(id string, ch chan string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiters[id] != ch {
		return false
	}
	delete(c.waiters, id)
	return true
}

// PostResult delivers payload to the waiter for id, or stores it when no one
// is waiting. It reports whether a waiter received it.
func (c *Correlator) PostResult(id, payload string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.waiters[id]; ok {
		delete(c.waiters, id)
		ch <- payload
		return true
	}
	if _, dup := c.results[id]; dup {
		c.logger.Warn("duplicate result overwrites stored result", "correlation_id", id)
	} else {
		c.logger.Warn("result has no waiter, storing", "correlation_id", id)
	}
	c.results[id] = storedResult{payload: payload, storedAt: c.now()}
	return false
}

// SweepResults drops stored results older than cutoff.
func (c *Correlator) SweepResults(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, r := range c.results {
		if r.storedAt.Before(cutoff) {
			delete(c.results, id)
			n++
		}
	}
	return n
}

func (c *Correlator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Correlator) StoredResults() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}
