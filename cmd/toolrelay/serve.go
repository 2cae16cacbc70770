package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/basket/toolrelay/internal/approval"
	"github.com/basket/toolrelay/internal/audit"
	"github.com/basket/toolrelay/internal/bus"
	"github.com/basket/toolrelay/internal/config"
	"github.com/basket/toolrelay/internal/gateway"
	"github.com/basket/toolrelay/internal/janitor"
	"github.com/basket/toolrelay/internal/legacy"
	otelPkg "github.com/basket/toolrelay/internal/otel"
	"github.com/basket/toolrelay/internal/relay"
	"github.com/basket/toolrelay/internal/telemetry"
	"github.com/basket/toolrelay/internal/tools"
	"github.com/basket/toolrelay/internal/tui"
)

const shutdownGrace = 5 * time.Second

func newServeCommand() *cobra.Command {
	var console bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), console)
		},
	}
	cmd.Flags().BoolVar(&console, "console", false, "show the operator console (requires a terminal)")
	return cmd
}

func runServe(ctx context.Context, console bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if console && !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Fprintln(os.Stderr, "stdout is not a terminal; running without the console")
		console = false
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Audit before the logger so logger failures are audited too.
	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	eventBus := bus.New()

	// The console owns the terminal; logs then go to the file only.
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, console, eventBus)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir)
	warnOpenBind(logger, cfg)

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		SampleRate:     cfg.Telemetry.SampleRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
		defer done()
		_ = otelProvider.Shutdown(shutdownCtx)
	}()

	settings, err := config.LoadSettings(cfg.HomeDir)
	if err != nil {
		fatalStartup(logger, "E_SETTINGS_LOAD", err)
	}
	logger.Info("startup phase", "phase", "settings_loaded", "path", settings.Path())

	// Components are built before the metrics so the table-size callback can
	// read them; the callback only runs on collection.
	var (
		rl   *relay.Relay
		gate *approval.Gate
		proc *legacy.Processor
	)
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter, func() map[string]int64 {
		st := rl.Stats()
		return map[string]int64{
			"backlog":   int64(st.Backlog),
			"parked":    int64(st.Parked),
			"waiting":   int64(st.Waiting),
			"results":   int64(st.Results),
			"legacy":    int64(proc.Len()),
			"approvals": int64(gate.PendingCount()),
		}
	})
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	rl = relay.New(relay.Config{
		Logger:          logger,
		Tracer:          otelProvider.Tracer,
		Observer:        metrics,
		DispatchTimeout: cfg.DispatchTimeout(),
		PickupWait:      cfg.PickupWait(),
	})
	gate = approval.New(approval.Config{
		Settings: settings,
		Bus:      eventBus,
		Logger:   logger,
		Observer: metrics,
		Timeout:  cfg.ApprovalTimeout(),
	})
	runner := tools.NewRunner(tools.RunnerConfig{
		Gate:       gate,
		Dispatcher: rl,
		Logger:     logger,
	})
	proc = legacy.New(legacy.Config{
		Executor: runner,
		Logger:   logger,
		Pause:    cfg.LegacyPause(),
	})
	jan := janitor.New(janitor.Config{
		Relay:           rl,
		Gate:            gate,
		Legacy:          proc,
		Bus:             eventBus,
		Logger:          logger,
		Interval:        cfg.JanitorInterval(),
		LegacyRetention: cfg.LegacyRetention(),
		ResultRetention: cfg.ResultRetention(),
		OfflineAfter:    cfg.AgentOfflineAfter(),
	})
	logger.Info("startup phase", "phase", "relay_ready")

	gw := gateway.New(gateway.Config{
		Relay:             rl,
		Runner:            runner,
		Gate:              gate,
		Legacy:            proc,
		Agent:             jan,
		Bus:               eventBus,
		Logger:            logger,
		Metrics:           metrics,
		Tracer:            otelProvider.Tracer,
		MetricsHandler:    otelProvider.MetricsHandler(),
		AuthToken:         cfg.AuthToken,
		AllowOrigins:      cfg.AllowOrigins,
		MaxRequestBytes:   cfg.MaxRequestBytes,
		ConfigFingerprint: cfg.Fingerprint(),
		Shutdown:          cancel,
	})
	defer gw.Close()

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			err = fmt.Errorf("%w\n\n  Port is already in use. Stop the existing process or change bind_addr in config.yaml.", err)
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	server := &http.Server{
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	// Parked pickups and in-flight dispatches end with the process.
	server.BaseContext = func(net.Listener) context.Context { return gctx }
	g.Go(func() error {
		logger.Info("relay listening", "addr", ln.Addr().String(), "ws", "/ws")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown incomplete; closing connections", "error", err)
			_ = server.Close()
		}
		return nil
	})
	g.Go(func() error { return proc.Run(gctx) })
	g.Go(func() error {
		watchSettings(gctx, cfg.HomeDir, gate, logger)
		return nil
	})
	jan.Start(gctx)

	if console {
		g.Go(func() error {
			sub := eventBus.Subscribe("")
			defer eventBus.Unsubscribe(sub)
			err := tui.Run(gctx, &consoleController{relay: rl, gate: gate, legacy: proc, agent: jan, started: time.Now()}, sub.Ch())
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("console: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// watchSettings applies external edits of settings.yaml. Changes to
// config.yaml need a restart and are only logged.
func watchSettings(ctx context.Context, homeDir string, gate *approval.Gate, logger *slog.Logger) {
	w := config.NewWatcher(homeDir, logger)
	if err := w.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
		return
	}
	for ev := range w.Events() {
		if !ev.IsSettings() {
			logger.Info("config.yaml changed; restart to apply", "path", ev.Path)
			continue
		}
		if err := gate.ReloadSettings(); err != nil {
			logger.Error("settings reload failed", "error", err)
		}
	}
}

func warnOpenBind(logger *slog.Logger, cfg config.Config) {
	host, _, err := net.SplitHostPort(cfg.BindAddr)
	if err != nil {
		return
	}
	h := strings.TrimSpace(strings.ToLower(host))
	loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
	if !loopback && cfg.AuthToken == "" {
		logger.Warn("relay bound to a non-loopback address without auth_token; anyone on the network can approve and run tools", "bind_addr", cfg.BindAddr)
	}
}

func isAddrInUse(err error) bool {
	if opErr, ok := err.(*net.OpError); ok {
		if sysErr, ok := opErr.Err.(*os.SyscallError); ok {
			return sysErr.Err == syscall.EADDRINUSE
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}

// consoleController adapts the running relay to the operator console.
type consoleController struct {
	relay   *relay.Relay
	gate    *approval.Gate
	legacy  *legacy.Processor
	agent   *janitor.Janitor
	started time.Time
}

func (c *consoleController) Snapshot() tui.Snapshot {
	st := c.relay.Stats()
	return tui.Snapshot{
		Settings:    c.gate.Settings(),
		Pending:     c.gate.Pending(),
		AgentOnline: c.agent.AgentOnline(),
		Backlog:     st.Backlog,
		Parked:      st.Parked,
		Waiting:     st.Waiting,
		Results:     st.Results,
		Legacy:      c.legacy.Len(),
		Uptime:      time.Since(c.started),
	}
}

func (c *consoleController) Resolve(id string, approved bool) bool {
	return c.gate.Resolve(id, approved)
}

func (c *consoleController) SetAutoAccept(v bool) error {
	_, err := c.gate.SetAutoAccept(v)
	return err
}

func (c *consoleController) SetStrictMode(v bool) error {
	_, err := c.gate.SetStrictMode(v)
	return err
}
