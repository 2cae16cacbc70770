package tools

import (
	"regexp"
	"sync"
	"time"

	"github.com/basket/toolrelay/internal/relay"
)

var readLinePrefix = regexp.MustCompile(`(?m)^Line \d+: `)

// LastCall is the most recent successfully dispatched tool call.
type LastCall struct {
	Tool    string
	Path    string
	Content string
	At      time.Time
}

// Tracker remembers the last successful call so strict mode can require a
// readLine of the same script before editScript.
type Tracker struct {
	mu   sync.Mutex
	last *LastCall
}

func (t *Tracker) Record(tool string, args map[string]any, output string) {
	path, _ := args["path"].(string)
	content := output
	if tool == "readLine" {
		content = readLinePrefix.ReplaceAllString(output, "")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = &LastCall{Tool: tool, Path: path, Content: content, At: time.Now()}
}

func (t *Tracker) Last() (LastCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return LastCall{}, false
	}
	return *t.last, true
}

// CheckEdit fails unless the last call was readLine on path.
func (t *Tracker) CheckEdit(path string) error {
	last, ok := t.Last()
	if !ok || last.Tool != "readLine" || last.Path != path {
		return relay.Validationf("editScript", "readLine must be called on %q before editScript", path)
	}
	return nil
}
