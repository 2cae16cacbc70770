package main

import (
	"github.com/spf13/cobra"

	"github.com/basket/toolrelay/internal/config"
	"github.com/basket/toolrelay/internal/mcp"
	"github.com/basket/toolrelay/internal/telemetry"
)

func newMCPCommand() *cobra.Command {
	var relayURL string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tool catalog over MCP on stdin/stdout",
		Long: `Runs an MCP server on stdin/stdout. Every tool call is forwarded to a running
"toolrelay serve" instance. Logs go to the log file only so stdout stays a
clean protocol stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, true, nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			if relayURL == "" {
				relayURL = baseURL(cfg.BindAddr)
			}
			client := mcp.NewClient(mcp.ClientConfig{
				BaseURL:          relayURL,
				Token:            cfg.AuthToken,
				MaxResponseBytes: cfg.MaxResponseBytes,
				// An unapproved call may wait for the operator before dispatch starts.
				Timeout: cfg.ApprovalTimeout() + cfg.DispatchTimeout(),
				Logger:  logger,
			})
			logger.Info("mcp server starting", "relay", relayURL)
			return mcp.NewServer(client, cfg.MaxResponseBytes, logger).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&relayURL, "relay", "", "relay base URL (default: derived from bind_addr)")
	return cmd
}
