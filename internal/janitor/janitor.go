// Package janitor bounds the relay's in-memory tables by age and tracks
// whether the agent is still polling.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/toolrelay/internal/approval"
	"github.com/basket/toolrelay/internal/bus"
	"github.com/basket/toolrelay/internal/legacy"
	"github.com/basket/toolrelay/internal/relay"
	"github.com/basket/toolrelay/internal/telemetry"
)

const (
	defaultInterval          = 30 * time.Second
	defaultLivenessInterval  = 5 * time.Second
	defaultMemoryWarnEntries = 1000
	parkedGrace              = 5 * time.Second
)

type Config struct {
	Relay  *relay.Relay
	Gate   *approval.Gate
	Legacy *legacy.Processor
	Bus    *bus.Bus
	Logger *slog.Logger

	Interval         time.Duration
	LivenessInterval time.Duration
	LegacyRetention  time.Duration
	ResultRetention  time.Duration
	OfflineAfter     time.Duration
	// MemoryWarnEntries is the total table size above which a sweep logs a warning.
	MemoryWarnEntries int
}

// Report summarizes one sweep.
type Report struct {
	Legacy    int
	Approvals int
	Results   int
	Parked    int
	Remaining int
}

type Janitor struct {
	cfg  Config
	cron *cronlib.Cron
	now  func() time.Time

	startOnce sync.Once

	mu     sync.Mutex
	online bool
}

func New(cfg Config) *Janitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = defaultLivenessInterval
	}
	if cfg.LegacyRetention <= 0 {
		cfg.LegacyRetention = 5 * time.Minute
	}
	if cfg.ResultRetention <= 0 {
		cfg.ResultRetention = 120 * time.Second
	}
	if cfg.OfflineAfter <= 0 {
		cfg.OfflineAfter = 35 * time.Second
	}
	if cfg.MemoryWarnEntries <= 0 {
		cfg.MemoryWarnEntries = defaultMemoryWarnEntries
	}
	logger := cronLogger{cfg.Logger}
	return &Janitor{
		cfg: cfg,
		cron: cronlib.New(
			cronlib.WithLogger(logger),
			cronlib.WithChain(cronlib.Recover(logger), cronlib.SkipIfStillRunning(logger)),
		),
		now: time.Now,
	}
}

// Start schedules the sweep and liveness jobs. Later calls are no-ops.
func (j *Janitor) Start(ctx context.Context) {
	j.startOnce.Do(func() {
		j.cron.Schedule(cronlib.Every(j.cfg.Interval), cronlib.FuncJob(func() { j.Sweep() }))
		j.cron.Schedule(cronlib.Every(j.cfg.LivenessInterval), cronlib.FuncJob(func() { j.CheckAgent() }))
		j.cron.Start()
		j.cfg.Logger.Info("janitor started", "interval", j.cfg.Interval, "liveness_interval", j.cfg.LivenessInterval)
		go func() {
			<-ctx.Done()
			j.Stop()
		}()
	})
}

// Stop halts scheduling and waits for a running job to finish. Safe to call twice.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep removes every entry older than its retention. Nothing is cleared unconditionally.
func (j *Janitor) Sweep() Report {
	now := j.now()
	var rep Report
	if j.cfg.Legacy != nil {
		rep.Legacy = j.cfg.Legacy.SweepOlderThan(now.Add(-j.cfg.LegacyRetention))
	}
	if j.cfg.Gate != nil {
		rep.Approvals = j.cfg.Gate.ExpireOlderThan(now.Add(-j.cfg.Gate.Timeout()))
	}
	if j.cfg.Relay != nil {
		rep.Results = j.cfg.Relay.SweepResults(now.Add(-j.cfg.ResultRetention))
		rep.Parked = j.cfg.Relay.SweepParked(now.Add(-(j.cfg.Relay.PickupWait() + parkedGrace)))
	}
	rep.Remaining = j.tableSize()

	if rep.Legacy+rep.Approvals+rep.Results+rep.Parked > 0 {
		j.cfg.Logger.Info("janitor sweep",
			"legacy", rep.Legacy, "approvals", rep.Approvals,
			"results", rep.Results, "parked", rep.Parked, "remaining", rep.Remaining)
	}
	if rep.Remaining > j.cfg.MemoryWarnEntries {
		j.cfg.Logger.Warn("relay tables are large", "entries", rep.Remaining, "threshold", j.cfg.MemoryWarnEntries)
	}
	return rep
}

func (j *Janitor) tableSize() int {
	n := 0
	if j.cfg.Legacy != nil {
		n += j.cfg.Legacy.Len()
	}
	if j.cfg.Gate != nil {
		n += j.cfg.Gate.PendingCount()
	}
	if j.cfg.Relay != nil {
		s := j.cfg.Relay.Stats()
		n += s.Backlog + s.Parked + s.Waiting + s.Results
	}
	return n
}

// CheckAgent updates agent connectivity and publishes it when it changes.
func (j *Janitor) CheckAgent() bool {
	if j.cfg.Relay == nil {
		return false
	}
	last := j.cfg.Relay.LastPickup()
	online := !last.IsZero() && j.now().Sub(last) < j.cfg.OfflineAfter

	j.mu.Lock()
	changed := online != j.online
	j.online = online
	j.mu.Unlock()

	if changed {
		if online {
			j.cfg.Logger.Info("agent connected", telemetry.LogTypeKey, "success")
		} else {
			j.cfg.Logger.Warn("agent offline", "last_pickup", last)
		}
		j.cfg.Bus.Publish(bus.TopicAgentStatus, bus.AgentStatus{Online: online, LastPickup: last})
	}
	return online
}

// AgentOnline returns the last computed connectivity.
func (j *Janitor) AgentOnline() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.online
}

// cronLogger adapts slog to the cron library's logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
