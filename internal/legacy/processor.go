// Package legacy serves the older queue-and-poll intake: requests are
// accepted immediately and executed one at a time in submission order.
package legacy

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/basket/toolrelay/internal/relay"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Done reports whether the request reached a final state.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusError
}

// Executor runs one command through approval and dispatch.
type Executor interface {
	Execute(ctx context.Context, cmd *relay.Command) (string, error)
}

type Request struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	Result    string         `json:"result,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// QueueEntry is one row of the queue introspection view.
type QueueEntry struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Tool      string    `json:"tool"`
	Timestamp time.Time `json:"timestamp"`
}

type QueueSnapshot struct {
	QueueLength   int          `json:"queueLength"`
	TotalRequests int          `json:"totalRequests"`
	IsProcessing  bool         `json:"isProcessing"`
	Requests      []QueueEntry `json:"requests"`
}

type Config struct {
	Executor Executor
	Logger   *slog.Logger
	// Pause is the gap between two requests.
	Pause time.Duration
}

// Processor owns the legacy request table. Only Run executes requests, so at
// most one is in flight; the direct path never waits on it.
type Processor struct {
	mu         sync.Mutex
	requests   map[string]*Request
	queue      []string
	processing bool
	wake       chan struct{}
	executor   Executor
	logger     *slog.Logger
	pause      time.Duration
	now        func() time.Time
}

func New(cfg Config) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	return &Processor{
		requests: make(map[string]*Request),
		wake:     make(chan struct{}, 1),
		executor: cfg.Executor,
		logger:   cfg.Logger,
		pause:    cfg.Pause,
		now:      time.Now,
	}
}

// Submit queues a request and returns its initial record.
func (p *Processor) Submit(tool string, args map[string]any) Request {
	r := &Request{ID: relay.NewID(), Status: StatusQueued, Tool: tool, Args: args, Timestamp: p.now()}
	p.mu.Lock()
	p.requests[r.ID] = r
	p.queue = append(p.queue, r.ID)
	snap := *r
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.logger.Info("legacy request queued", "correlation_id", r.ID, "tool", tool)
	return snap
}

// SubmitError records a request that failed validation so its id stays queryable.
func (p *Processor) SubmitError(tool string, args map[string]any, message string) Request {
	r := &Request{ID: relay.NewID(), Status: StatusError, Tool: tool, Args: args, Result: message, Timestamp: p.now()}
	p.mu.Lock()
	p.requests[r.ID] = r
	p.mu.Unlock()
	return *r
}

func (p *Processor) Status(id string) (Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.requests[id]
	if !ok {
		return Request{}, false
	}
	return *r, true
}

func (p *Processor) Snapshot() QueueSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := make([]QueueEntry, 0, len(p.requests))
	for _, r := range p.requests {
		entries = append(entries, QueueEntry{ID: r.ID, Status: r.Status, Tool: r.Tool, Timestamp: r.Timestamp})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	return QueueSnapshot{
		QueueLength:   len(p.queue),
		TotalRequests: len(p.requests),
		IsProcessing:  p.processing,
		Requests:      entries,
	}
}

func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// SweepOlderThan drops requests created before cutoff. The request being
// processed is kept until it finishes.
func (p *Processor) SweepOlderThan(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, r := range p.requests {
		if r.Status == StatusProcessing || !r.Timestamp.Before(cutoff) {
			continue
		}
		delete(p.requests, id)
		n++
	}
	if n > 0 {
		kept := p.queue[:0]
		for _, id := range p.queue {
			if _, ok := p.requests[id]; ok {
				kept = append(kept, id)
			}
		}
		p.queue = kept
	}
	return n
}

// Run executes queued requests until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		r, ok := p.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-p.wake:
				continue
			}
		}
		p.execute(ctx, r)
		if ctx.Err() != nil {
			return nil
		}
		if p.pause > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.pause):
			}
		}
	}
}

// next pops the oldest queued request and marks it processing.
func (p *Processor) next() (*relay.Command, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 {
		id := p.queue[0]
		p.queue = p.queue[1:]
		r, ok := p.requests[id]
		if !ok {
			continue
		}
		r.Status = StatusProcessing
		p.processing = true
		return &relay.Command{ID: r.ID, Tool: r.Tool, Args: r.Args, CreatedAt: r.Timestamp}, true
	}
	return nil, false
}

func (p *Processor) execute(ctx context.Context, cmd *relay.Command) {
	out, err := p.executor.Execute(ctx, cmd)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.processing = false
	r, ok := p.requests[cmd.ID]
	if !ok {
		return
	}
	if err != nil {
		r.Status = StatusError
		r.Result = err.Error()
		p.logger.Warn("legacy request failed", "correlation_id", cmd.ID, "tool", cmd.Tool, "kind", string(relay.KindOf(err)), "error", err)
		return
	}
	r.Status = StatusCompleted
	r.Result = out
	p.logger.Info("legacy request completed", "correlation_id", cmd.ID, "tool", cmd.Tool)
}
