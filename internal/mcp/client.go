package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/basket/toolrelay/internal/tools"
)

// Client calls the relay's direct endpoint on behalf of the MCP front-end.
type Client struct {
	baseURL  string
	token    string
	maxBytes int64
	http     *http.Client
	logger   *slog.Logger
}

type ClientConfig struct {
	BaseURL string
	// Token is sent as a Bearer token when the server requires auth.
	Token string
	// MaxResponseBytes bounds both request and response bodies.
	MaxResponseBytes int64
	Timeout          time.Duration
	Logger           *slog.Logger
}

type directResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error"`
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 50 * 1024 * 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    strings.TrimSpace(cfg.Token),
		maxBytes: cfg.MaxResponseBytes,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   cfg.Logger,
	}
}

// Invoke runs one tool call through the relay. Transport fields are encoded
// on the way out and the output is decoded on the way back.
func (c *Client) Invoke(ctx context.Context, tool string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(tools.EncodeArgs(tool, args))
	if err != nil {
		return "", fmt.Errorf("encode %s arguments: %w", tool, err)
	}
	if int64(len(body)) > c.maxBytes {
		return "", fmt.Errorf("request too large: %d bytes (limit %d)", len(body), c.maxBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/"+tool+"/direct", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("mcp call", "tool", tool)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("relay unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if int64(len(raw)) > c.maxBytes {
		return "", fmt.Errorf("response too large: exceeds %d bytes", c.maxBytes)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("relay returned HTTP %d", resp.StatusCode)
	}

	var out directResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !out.Success {
		return "", fmt.Errorf("%s failed: %s", tool, out.Error)
	}
	return tools.DecodeString(out.Output), nil
}
