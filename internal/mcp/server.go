// Package mcp exposes the relay's tool catalog as an MCP stdio server. Every
// tool call is forwarded to the running relay's direct endpoint.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/basket/toolrelay/internal/multicall"
)

const (
	ServerName    = "toolrelay"
	ServerVersion = "v0.3.0"
)

type TreeInput struct {
	Path string `json:"path" jsonschema:"path of the object, for example workspace or workspace.Model"`
}

func (in TreeInput) check() error { return requirePath(in.Path) }

type CreateInput struct {
	ClassName string         `json:"className" jsonschema:"class to instantiate, for example Part, Script or Model"`
	Name      string         `json:"name" jsonschema:"name of the new object"`
	Parent    string         `json:"parent" jsonschema:"path of the parent object"`
	LuaCode   string         `json:"luaCode,omitempty" jsonschema:"property and attribute assignments run against obj"`
	Source    string         `json:"source,omitempty" jsonschema:"script source, only for script classes; preserved byte for byte"`
	Count     int            `json:"count,omitempty" jsonschema:"number of instances to create in batch mode"`
	LoopVars  map[string]any `json:"loopVars,omitempty" jsonschema:"batch loop variables keyed by name, each with start and step"`
}

func (in CreateInput) check() error {
	if strings.TrimSpace(in.ClassName) == "" || strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Parent) == "" {
		return errors.New("className, name and parent are required")
	}
	return nil
}

type GetInput struct {
	Path       string   `json:"path" jsonschema:"path of the object to read"`
	Attributes []string `json:"attributes,omitempty" jsonschema:"property or attribute names to read, for example Size and Anchored"`
}

type ModifyObjectInput struct {
	Path    string `json:"path" jsonschema:"path of the object to modify"`
	LuaCode string `json:"luaCode,omitempty" jsonschema:"property and attribute assignments run against obj"`
	Source  string `json:"source,omitempty" jsonschema:"replacement for the entire script source"`
}

type EditScriptInput struct {
	Path       string `json:"path" jsonschema:"path of the script"`
	OldString  string `json:"old_string" jsonschema:"exact text to replace, copied from readLine output without the line prefix"`
	NewString  string `json:"new_string" jsonschema:"replacement text"`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema:"replace every occurrence instead of requiring a unique match"`
}

type ConvertScriptInput struct {
	Path       string `json:"path" jsonschema:"path of the script to convert"`
	TargetType string `json:"targetType" jsonschema:"target class: Script, LocalScript or ModuleScript"`
}

type ReadLineInput struct {
	Path       string `json:"path" jsonschema:"path of the script"`
	LineNumber int    `json:"lineNumber,omitempty" jsonschema:"single line to read"`
	StartLine  int    `json:"startLine,omitempty" jsonschema:"first line of a range"`
	EndLine    int    `json:"endLine,omitempty" jsonschema:"last line of a range"`
}

type DeleteLinesInput struct {
	Path      string `json:"path" jsonschema:"path of the script"`
	StartLine int    `json:"startLine" jsonschema:"first line to delete"`
	EndLine   int    `json:"endLine" jsonschema:"last line to delete"`
}

type InsertLinesInput struct {
	Path       string   `json:"path" jsonschema:"path of the script"`
	LineNumber int      `json:"lineNumber" jsonschema:"position to insert at; the line currently there moves down"`
	Lines      []string `json:"lines" jsonschema:"lines to insert, preserved byte for byte"`
}

type PathInput struct {
	Path string `json:"path" jsonschema:"path of the object"`
}

type ScriptSearchInput struct {
	SearchText    string `json:"searchText" jsonschema:"text to look for in every script"`
	CaseSensitive bool   `json:"caseSensitive,omitempty" jsonschema:"match case (default false)"`
	MaxResults    int    `json:"maxResults,omitempty" jsonschema:"result limit (default 50)"`
}

type ScriptSearchOnlyInput struct {
	ScriptPath    string `json:"scriptPath" jsonschema:"path of the script to search"`
	SearchText    string `json:"searchText" jsonschema:"text to look for"`
	CaseSensitive bool   `json:"caseSensitive,omitempty" jsonschema:"match case (default false)"`
	MaxResults    int    `json:"maxResults,omitempty" jsonschema:"result limit (default 50)"`
}

type CopyInput struct {
	SourcePath string `json:"sourcePath" jsonschema:"path of the object to clone"`
	TargetPath string `json:"targetPath" jsonschema:"path of the new parent"`
	NewName    string `json:"newName,omitempty" jsonschema:"name for the copy; keeps the original name when empty"`
}

type MultiInput struct {
	Calls []multicall.Call `json:"calls" jsonschema:"tool calls to run in order"`
}

type checker interface {
	check() error
}

func requirePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New(`parameter "path" is missing`)
	}
	return nil
}

// Server is the MCP front-end.
type Server struct {
	server *mcpsdk.Server
	client *Client
	multi  *multicall.Executor
	logger *slog.Logger
}

func NewServer(client *Client, maxResponseBytes int64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		server: mcpsdk.NewServer(&mcpsdk.Implementation{Name: ServerName, Version: ServerVersion}, nil),
		client: client,
		logger: logger,
	}
	s.multi = multicall.New(multicall.InvokerFunc(s.invokeOne), maxResponseBytes)
	s.registerTools()
	return s
}

// Run serves MCP over stdin/stdout until ctx ends or the peer disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	addRelayTool[TreeInput](s, "tree", "Return the full hierarchy below an object.")
	addRelayTool[CreateInput](s, "create", "Create a new object such as a Part, Script or Model. Script source is transported unchanged.")
	addRelayTool[GetInput](s, "get", "Read properties and attributes of an object.")
	addRelayTool[ModifyObjectInput](s, "modifyObject", "Change properties, attributes or the whole source of an existing object.")
	addRelayTool[EditScriptInput](s, "editScript", "Replace an exact piece of script text. In strict mode the script must have been read with readLine first.")
	addRelayTool[ConvertScriptInput](s, "convertScript", "Change a script's class while keeping its source, children and attributes.")
	addRelayTool[ReadLineInput](s, "readLine", "Read one line or a range of lines from a script.")
	addRelayTool[DeleteLinesInput](s, "deleteLines", "Delete a range of lines from a script.")
	addRelayTool[InsertLinesInput](s, "insertLines", "Insert lines into a script at a position, pushing existing lines down.")
	addRelayTool[PathInput](s, "getScriptInfo", "Report details of a script such as its line count.")
	addRelayTool[ScriptSearchInput](s, "scriptSearch", "Search the text of every script.")
	addRelayTool[ScriptSearchOnlyInput](s, "scriptSearchOnly", "Search the text of one script without changing it.")
	addRelayTool[PathInput](s, "delete", "Delete an object.")
	addRelayTool[CopyInput](s, "copy", "Clone an object under a new parent.")

	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "multi",
		Description: "Run several tool calls one after another and return every result. A failing call does not stop the batch.",
	}, s.handleMulti)
}

func addRelayTool[In any](s *Server, name, description string) {
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{Name: name, Description: description},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, any, error) {
			if c, ok := any(in).(checker); ok {
				if err := c.check(); err != nil {
					return errorResult(err), nil, nil
				}
			}
			args, err := toArgs(in)
			if err != nil {
				return errorResult(err), nil, nil
			}
			out, err := s.client.Invoke(ctx, name, args)
			if err != nil {
				s.logger.Debug("mcp tool failed", "tool", name, "error", err)
				return errorResult(err), nil, nil
			}
			return textResult(out), nil, nil
		})
}

func (s *Server) handleMulti(ctx context.Context, _ *mcpsdk.CallToolRequest, in MultiInput) (*mcpsdk.CallToolResult, any, error) {
	if len(in.Calls) == 0 {
		return errorResult(errors.New("calls must contain at least one tool call")), nil, nil
	}
	rep := s.multi.Run(ctx, in.Calls)
	res := textResult(rep.Text())
	res.IsError = rep.IsError()
	return res, nil, nil
}

func (s *Server) invokeOne(ctx context.Context, tool string, args map[string]any) (string, error) {
	if tool == "multi" {
		return "", errors.New("multi cannot be nested")
	}
	return s.client.Invoke(ctx, tool, args)
}

// toArgs turns a typed input into the argument map the relay expects.
func toArgs(in any) (map[string]any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return args, nil
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}
}

func errorResult(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "Error: " + err.Error()}},
		IsError: true,
	}
}
