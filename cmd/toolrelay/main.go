package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/toolrelay/internal/audit"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "toolrelay",
		Short: "Relay tool calls to a polling editor agent, with operator approval",
		Long: `toolrelay turns synchronous tool calls into commands that a long-polling
editor agent picks up, waits for the agent's result and returns it to the caller.
Calls that are neither auto-accepted nor whitelisted wait for an operator decision.

ENVIRONMENT VARIABLES:
  TOOLRELAY_HOME          Data directory (default: ~/.toolrelay)
  TOOLRELAY_BIND_ADDR     Listen address (default: 127.0.0.1:3000)
  TOOLRELAY_AUTH_TOKEN    Bearer token required on /api/* and /ws`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newMCPCommand(), newStatusCommand(), newDoctorCommand())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "runtime.startup", reasonCode, "", message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}
