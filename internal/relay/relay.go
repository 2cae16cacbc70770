// Package relay bridges synchronous tool calls to an agent that can only be
// reached by long-polling: commands are queued or handed straight to a parked
// pickup, and the agent's posted results are correlated back to the caller.
package relay

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/toolrelay/internal/otel"
	"github.com/basket/toolrelay/internal/shared"
)

// Observer receives relay measurements. otel.Metrics implements it.
type Observer interface {
	RecordDispatch(ctx context.Context, tool, outcome string, elapsed time.Duration)
	RecordPickup(ctx context.Context, delivered bool)
}

type Config struct {
	Logger          *slog.Logger
	Tracer          trace.Tracer
	Observer        Observer
	DispatchTimeout time.Duration
	PickupWait      time.Duration
}

// Relay owns the command backlog, parked pickups, waiters and stored results
// for the lifetime of the process.
type Relay struct {
	rv              *Rendezvous
	corr            *Correlator
	logger          *slog.Logger
	tracer          trace.Tracer
	observer        Observer
	dispatchTimeout time.Duration
	pickupWait      time.Duration
}

// Stats is a snapshot of table sizes.
type Stats struct {
	Backlog int `json:"backlog"`
	Parked  int `json:"parked"`
	Waiting int `json:"waiting"`
	Results int `json:"results"`
}

func New(cfg Config) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer(otel.TracerName)
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 120 * time.Second
	}
	if cfg.PickupWait <= 0 {
		cfg.PickupWait = 15 * time.Second
	}
	rv := NewRendezvous()
	return &Relay{
		rv:              rv,
		corr:            NewCorrelator(rv, cfg.Logger),
		logger:          cfg.Logger,
		tracer:          cfg.Tracer,
		observer:        cfg.Observer,
		dispatchTimeout: cfg.DispatchTimeout,
		pickupWait:      cfg.PickupWait,
	}
}

func (r *Relay) Rendezvous() *Rendezvous { return r.rv }
func (r *Relay) Correlator() *Correlator { return r.corr }

// Dispatch sends cmd to the agent and waits up to the configured dispatch timeout.
func (r *Relay) Dispatch(ctx context.Context, cmd *Command) (string, error) {
	return r.DispatchWithTimeout(ctx, cmd, r.dispatchTimeout)
}

func (r *Relay) DispatchWithTimeout(ctx context.Context, cmd *Command, timeout time.Duration) (string, error) {
	ctx = shared.WithCorrelationID(ctx, cmd.ID)
	ctx = shared.WithTool(ctx, cmd.Tool)
	ctx, span := otel.StartSpan(ctx, r.tracer, "relay.dispatch",
		otel.AttrToolName.String(cmd.Tool),
		otel.AttrCorrelationID.String(cmd.ID),
	)
	defer span.End()

	start := time.Now()
	r.logger.Debug("dispatching command", shared.LogAttrs(ctx)...)
	out, err := r.corr.Dispatch(ctx, cmd, timeout)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("dispatch failed", append(shared.LogAttrs(ctx), "kind", outcome, "error", err)...)
	}
	if r.observer != nil {
		r.observer.RecordDispatch(ctx, cmd.Tool, outcome, elapsed)
	}
	return out, err
}

// Pickup serves one agent poll using the configured wait.
func (r *Relay) Pickup(ctx context.Context) *Command {
	cmd := r.rv.Pickup(ctx, r.pickupWait)
	if r.observer != nil {
		r.observer.RecordPickup(ctx, cmd != nil)
	}
	if cmd != nil {
		r.logger.Debug("command delivered", "correlation_id", cmd.ID, "tool", cmd.Tool)
	}
	return cmd
}

func (r *Relay) Requeue(cmd *Command) { r.rv.Requeue(cmd) }

func (r *Relay) PostResult(id, payload string) bool {
	return r.corr.PostResult(id, payload)
}

func (r *Relay) LastPickup() time.Time { return r.rv.LastPickup() }

func (r *Relay) SweepResults(cutoff time.Time) int { return r.corr.SweepResults(cutoff) }

func (r *Relay) SweepParked(cutoff time.Time) int { return r.rv.SweepParked(cutoff) }

func (r *Relay) PickupWait() time.Duration { return r.pickupWait }

func (r *Relay) Stats() Stats {
	return Stats{
		Backlog: r.rv.BacklogLen(),
		Parked:  r.rv.ParkedLen(),
		Waiting: r.corr.Waiting(),
		Results: r.corr.StoredResults(),
	}
}
