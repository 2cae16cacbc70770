package relay

import (
	"time"

	"github.com/google/uuid"
)

// Command is a tool call waiting to be picked up by the agent. It is never
// mutated after creation.
type Command struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	CreatedAt time.Time      `json:"-"`
}

// NewID returns a fresh correlation id.
func NewID() string {
	return uuid.NewString()
}

// NewCommand builds a command with a fresh correlation id.
func NewCommand(tool string, args map[string]any) *Command {
	if args == nil {
		args = map[string]any{}
	}
	return &Command{ID: NewID(), Tool: tool, Args: args, CreatedAt: time.Now()}
}
