package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/basket/toolrelay/internal/bus"
)

type ActivityItem struct {
	ID        string
	Icon      string
	Message   string
	StartedAt time.Time
	DoneAt    *time.Time
}

// ActivityFeed is the console's rolling view of approvals and log lines.
type ActivityFeed struct {
	mu        sync.Mutex
	items     []ActivityItem
	collapsed bool
	maxItems  int
}

func NewActivityFeed() *ActivityFeed {
	return &ActivityFeed{maxItems: 10, collapsed: true}
}

func (f *ActivityFeed) Add(item ActivityItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	if len(f.items) > f.maxItems {
		f.items = f.items[1:]
	}
	f.collapsed = false // auto-expand
}

func (f *ActivityFeed) Complete(id, icon string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Icon = icon
			f.items[i].DoneAt = &now
			return
		}
	}
}

// Apply folds one bus event into the feed.
func (f *ActivityFeed) Apply(ev bus.Event) {
	switch p := ev.Payload.(type) {
	case bus.ApprovalRequested:
		f.Add(ActivityItem{ID: p.ID, Icon: "⏳", Message: p.Tool + " awaiting approval", StartedAt: ev.At})
	case bus.ApprovalResolved:
		f.Complete(p.ID, outcomeIcon(p.Outcome))
	case bus.LogLine:
		done := ev.At
		f.Add(ActivityItem{ID: "", Icon: logIcon(p.Type), Message: p.Message, StartedAt: ev.At, DoneAt: &done})
	case bus.AgentStatus:
		done := ev.At
		msg := "agent offline"
		if p.Online {
			msg = "agent online"
		}
		f.Add(ActivityItem{Icon: "•", Message: msg, StartedAt: ev.At, DoneAt: &done})
	}
}

func outcomeIcon(outcome string) string {
	switch outcome {
	case "APPROVED":
		return "✅"
	case "TIMED_OUT":
		return "⌛"
	default:
		return "❌"
	}
}

func logIcon(kind string) string {
	switch kind {
	case "error":
		return "❌"
	case "warn":
		return "⚠️"
	case "success":
		return "✅"
	default:
		return "·"
	}
}

func (f *ActivityFeed) Toggle() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collapsed = !f.collapsed
}

func (f *ActivityFeed) HasActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.DoneAt == nil {
			return true
		}
	}
	return false
}

func (f *ActivityFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *ActivityFeed) CleanupOld(maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	kept := f.items[:0]
	removed := 0
	for _, it := range f.items {
		if it.DoneAt != nil && now.Sub(*it.DoneAt) >= maxAge {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	f.items = kept
	return removed
}

func (f *ActivityFeed) View() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.items) == 0 {
		return ""
	}

	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	if f.collapsed {
		active := 0
		for _, it := range f.items {
			if it.DoneAt == nil {
				active++
			}
		}
		if active == 0 {
			return ""
		}
		return dim.Render(fmt.Sprintf("── %d awaiting approval (l to expand) ──", active)) + "\n"
	}

	itemS := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

	var out strings.Builder
	out.WriteString(dim.Render("── Activity (l to collapse) ──") + "\n")
	for _, it := range f.items {
		line := fmt.Sprintf("%s %s", it.Icon, it.Message)
		if it.DoneAt != nil {
			if d := it.DoneAt.Sub(it.StartedAt); d > 0 {
				line += fmt.Sprintf(" (%s)", d.Truncate(100*time.Millisecond))
			}
		} else {
			line += fmt.Sprintf(" (%s)", time.Since(it.StartedAt).Truncate(time.Second))
		}
		out.WriteString(itemS.Render(line) + "\n")
	}
	return out.String()
}
