// Package multicall runs a batch of tool calls one after another and folds
// the outcomes into a single report.
package multicall

import (
	"context"
	"fmt"
	"strings"
)

// TruncatedMarker replaces the output of entries past the size budget.
const TruncatedMarker = "(output truncated for size)"

// Invoker executes one tool call.
type Invoker interface {
	Invoke(ctx context.Context, tool string, args map[string]any) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, tool string, args map[string]any) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, tool string, args map[string]any) (string, error) {
	return f(ctx, tool, args)
}

type Call struct {
	Tool string         `json:"tool" jsonschema:"name of the tool to call"`
	Args map[string]any `json:"args,omitempty" jsonschema:"arguments for the tool"`
}

type Entry struct {
	Tool      string `json:"tool"`
	Success   bool   `json:"success"`
	Output    string `json:"output"`
	Truncated bool   `json:"truncated,omitempty"`
}

type Report struct {
	Entries   []Entry `json:"entries"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
}

// IsError reports whether any call failed.
func (r Report) IsError() bool { return r.Failed > 0 }

// Text renders the report the way the front-end returns it to callers.
func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Multi Tool Results (%d calls) ===\n\n", len(r.Entries))
	for i, e := range r.Entries {
		mark := "✅ Success"
		if !e.Success {
			mark = "❌ Error"
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n%s\n\n", i+1, strings.ToUpper(e.Tool), mark, e.Output)
	}
	fmt.Fprintf(&b, "Summary: %d succeeded, %d failed", r.Succeeded, r.Failed)
	return b.String()
}

type Executor struct {
	invoker  Invoker
	maxBytes int64
}

// New returns an executor that stops collecting output once the accumulated
// size exceeds half of maxResponseBytes.
func New(invoker Invoker, maxResponseBytes int64) *Executor {
	return &Executor{invoker: invoker, maxBytes: maxResponseBytes}
}

// Run executes calls strictly in order. A failing call never aborts the batch.
func (e *Executor) Run(ctx context.Context, calls []Call) Report {
	rep := Report{Entries: make([]Entry, 0, len(calls))}
	budget := e.maxBytes / 2
	var size int64
	for _, c := range calls {
		out, err := e.invoker.Invoke(ctx, c.Tool, c.Args)
		entry := Entry{Tool: c.Tool, Success: err == nil, Output: out}
		if err != nil {
			entry.Output = err.Error()
			rep.Failed++
		} else {
			rep.Succeeded++
		}
		if budget > 0 && size > budget {
			entry.Output = TruncatedMarker
			entry.Truncated = true
		}
		size += int64(len(entry.Output))
		rep.Entries = append(rep.Entries, entry)
	}
	return rep
}
