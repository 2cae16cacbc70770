package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/basket/toolrelay/internal/approval"
	"github.com/basket/toolrelay/internal/config"
	"github.com/basket/toolrelay/internal/relay"
)

// Gate is the approval policy a Runner consults.
type Gate interface {
	Evaluate(tool string) bool
	RequestApproval(ctx context.Context, id, tool string, args map[string]any) (approval.Outcome, error)
	Settings() config.Settings
}

// Dispatcher sends a command to the agent and waits for its result.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd *relay.Command) (string, error)
}

type RunnerConfig struct {
	Catalog    *Catalog
	Gate       Gate
	Dispatcher Dispatcher
	Tracker    *Tracker
	Logger     *slog.Logger
}

// Runner is the single path from a validated argument map to a structured result.
type Runner struct {
	catalog    *Catalog
	gate       Gate
	dispatcher Dispatcher
	tracker    *Tracker
	logger     *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Catalog == nil {
		cfg.Catalog = MustCatalog()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = &Tracker{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		catalog:    cfg.Catalog,
		gate:       cfg.Gate,
		dispatcher: cfg.Dispatcher,
		tracker:    cfg.Tracker,
		logger:     cfg.Logger,
	}
}

func (r *Runner) Catalog() *Catalog { return r.catalog }

// Validate checks that tool exists and args have the right shape.
func (r *Runner) Validate(tool string, args map[string]any) error {
	if !r.catalog.Has(tool) {
		return relay.Validationf(tool, "Unknown tool: %s", tool)
	}
	if err := requireNonEmpty(tool, args); err != nil {
		return err
	}
	return r.catalog.Validate(tool, args)
}

// Direct validates and decodes args, enforces strict edit mode, then gates and
// dispatches the call.
func (r *Runner) Direct(ctx context.Context, tool string, args map[string]any) (string, error) {
	if !r.catalog.Has(tool) {
		return "", relay.Validationf(tool, "Unknown tool: %s", tool)
	}
	args = DecodeArgs(tool, args)
	if err := r.Validate(tool, args); err != nil {
		return "", err
	}
	if tool == "editScript" && r.gate.Settings().StrictMode {
		path, _ := args["path"].(string)
		if err := r.tracker.CheckEdit(path); err != nil {
			return "", err
		}
	}

	return r.Execute(ctx, relay.NewCommand(tool, args))
}

// Execute runs cmd through the approval gate and dispatches it when approved.
// Successful calls are remembered for strict mode on every path, legacy
// queue included.
func (r *Runner) Execute(ctx context.Context, cmd *relay.Command) (string, error) {
	if !r.gate.Evaluate(cmd.Tool) {
		outcome, err := r.gate.RequestApproval(ctx, cmd.ID, cmd.Tool, cmd.Args)
		if err != nil {
			return "", relay.Transport(cmd.Tool, err)
		}
		switch outcome {
		case approval.Approved:
		case approval.TimedOut:
			return "", relay.Rejected(cmd.Tool, cmd.ID, fmt.Sprintf("Tool %q timed out waiting for approval.", cmd.Tool))
		default:
			return "", relay.Rejected(cmd.Tool, cmd.ID, fmt.Sprintf("Tool %q was rejected by the user.", cmd.Tool))
		}
	}
	out, err := r.dispatcher.Dispatch(ctx, cmd)
	if err != nil {
		return "", err
	}
	r.tracker.Record(cmd.Tool, cmd.Args, out)
	return out, nil
}

// Fields that must be present and non-blank, beyond what the schema checks.
var nonEmptyFields = map[string]string{
	"delete":       "path",
	"scriptSearch": "searchText",
}

func requireNonEmpty(tool string, args map[string]any) error {
	field, ok := nonEmptyFields[tool]
	if !ok {
		return nil
	}
	if v, _ := args[field].(string); strings.TrimSpace(v) == "" {
		return relay.Validationf(tool, "parameter %q is required and must not be empty", field)
	}
	return nil
}
