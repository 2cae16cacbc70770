// Package approval decides whether a tool call may be dispatched, asking a
// human through the broadcast channel when policy does not auto-approve it.
package approval

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/basket/toolrelay/internal/audit"
	"github.com/basket/toolrelay/internal/bus"
	"github.com/basket/toolrelay/internal/config"
)

type Outcome string

const (
	Approved Outcome = "APPROVED"
	Rejected Outcome = "REJECTED"
	TimedOut Outcome = "TIMED_OUT"
)

const defaultTimeout = 90 * time.Second

// Observer receives approval outcomes. otel.Metrics implements it.
type Observer interface {
	RecordApproval(ctx context.Context, tool, outcome string)
}

type Config struct {
	Settings *config.SettingsStore
	Bus      *bus.Bus
	Logger   *slog.Logger
	Observer Observer
	// Timeout is how long an interactive approval may stay pending.
	Timeout time.Duration
}

type request struct {
	id        string
	tool      string
	args      map[string]any
	createdAt time.Time
	outcome   Outcome
	done      chan struct{}
}

// Summary is a pending approval as shown to operators.
type Summary struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	CreatedAt time.Time      `json:"timestamp"`
}

// Gate holds pending approvals. Each resolves exactly once.
type Gate struct {
	mu       sync.Mutex
	pending  map[string]*request
	settings *config.SettingsStore
	bus      *bus.Bus
	logger   *slog.Logger
	observer Observer
	timeout  time.Duration
	now      func() time.Time
}

func New(cfg Config) *Gate {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Settings == nil {
		cfg.Settings = config.NewMemorySettings(config.DefaultSettings())
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Gate{
		pending:  make(map[string]*request),
		settings: cfg.Settings,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		timeout:  cfg.Timeout,
		now:      time.Now,
	}
}

// Evaluate reports whether tool is approved without asking.
func (g *Gate) Evaluate(tool string) bool {
	s := g.settings.Snapshot()
	return s.AutoAccept || g.settings.IsWhitelisted(tool)
}

// RequestApproval publishes an approval request for id and blocks until an
// operator resolves it or the timeout elapses. A cancelled ctx rejects the
// request and returns ctx.Err().
func (g *Gate) RequestApproval(ctx context.Context, id, tool string, args map[string]any) (Outcome, error) {
	r := &request{
		id:        id,
		tool:      tool,
		args:      args,
		createdAt: g.now(),
		done:      make(chan struct{}),
	}
	// Publish under the lock so the request event always precedes its resolution.
	g.mu.Lock()
	g.pending[id] = r
	g.bus.Publish(bus.TopicApprovalRequested, bus.ApprovalRequested{
		ID:        id,
		Tool:      tool,
		Args:      args,
		CreatedAt: r.createdAt,
	})
	g.mu.Unlock()
	g.logger.Info("approval required", "correlation_id", id, "tool", tool)

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case <-r.done:
	case <-timer.C:
		g.resolve(ctx, id, TimedOut, "approval_timeout")
	case <-ctx.Done():
		g.resolve(ctx, id, Rejected, "caller_cancelled")
		<-r.done
		return r.outcome, ctx.Err()
	}
	<-r.done
	return r.outcome, nil
}

// Resolve records an operator decision. Unknown or already-resolved ids are
// ignored and reported as false.
func (g *Gate) Resolve(id string, approved bool) bool {
	outcome, reason := Rejected, "rejected_by_operator"
	if approved {
		outcome, reason = Approved, "approved_by_operator"
	}
	return g.resolve(context.Background(), id, outcome, reason)
}

// ExpireOlderThan times out every pending approval created before cutoff.
func (g *Gate) ExpireOlderThan(cutoff time.Time) int {
	g.mu.Lock()
	var stale []string
	for id, r := range g.pending {
		if r.createdAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	g.mu.Unlock()

	n := 0
	for _, id := range stale {
		if g.resolve(context.Background(), id, TimedOut, "approval_expired") {
			n++
		}
	}
	return n
}

func (g *Gate) resolve(ctx context.Context, id string, outcome Outcome, reason string) bool {
	g.mu.Lock()
	r, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.pending, id)
	r.outcome = outcome
	close(r.done)
	g.mu.Unlock()

	decision := "deny"
	if outcome == Approved {
		decision = "allow"
	}
	audit.Record(decision, "approval.decided", reason, r.tool, id)
	if g.observer != nil {
		g.observer.RecordApproval(ctx, r.tool, string(outcome))
	}
	g.bus.Publish(bus.TopicApprovalResolved, bus.ApprovalResolved{ID: id, Tool: r.tool, Outcome: string(outcome)})
	if outcome == TimedOut {
		g.logger.Warn("approval timed out", "correlation_id", id, "tool", r.tool)
	} else {
		g.logger.Info("approval resolved", "correlation_id", id, "tool", r.tool, "outcome", string(outcome))
	}
	return true
}

// Pending returns the unresolved approvals, oldest first.
func (g *Gate) Pending() []Summary {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Summary, 0, len(g.pending))
	for _, r := range g.pending {
		out = append(out, Summary{ID: r.id, Tool: r.tool, Args: r.args, CreatedAt: r.createdAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func (g *Gate) Timeout() time.Duration { return g.timeout }
