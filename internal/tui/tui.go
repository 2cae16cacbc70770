// Package tui is the operator console: pending approvals with approve and
// deny keys, the approval policy toggles and the relay's table sizes.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/basket/toolrelay/internal/approval"
	"github.com/basket/toolrelay/internal/bus"
	"github.com/basket/toolrelay/internal/config"
)

type Snapshot struct {
	Settings    config.Settings
	Pending     []approval.Summary
	AgentOnline bool
	Backlog     int
	Parked      int
	Waiting     int
	Results     int
	Legacy      int
	Uptime      time.Duration
}

// Controller is what the console reads and acts on.
type Controller interface {
	Snapshot() Snapshot
	Resolve(id string, approved bool) bool
	SetAutoAccept(v bool) error
	SetStrictMode(v bool) error
}

type model struct {
	ctrl    Controller
	snap    Snapshot
	cursor  int
	feed    *ActivityFeed
	lastErr string
}

type tickMsg time.Time

type busMsg bus.Event

func tickCmd() tea.Cmd {
	return tea.Tick(1*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func newModel(ctrl Controller) model {
	return model{ctrl: ctrl, snap: ctrl.Snapshot(), feed: NewActivityFeed()}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.snap.Pending)-1 {
				m.cursor++
			}
		case "a", "d":
			if m.cursor < len(m.snap.Pending) {
				m.ctrl.Resolve(m.snap.Pending[m.cursor].ID, msg.String() == "a")
			}
			m.refresh()
		case "t":
			m.setErr(m.ctrl.SetAutoAccept(!m.snap.Settings.AutoAccept))
			m.refresh()
		case "s":
			m.setErr(m.ctrl.SetStrictMode(!m.snap.Settings.StrictMode))
			m.refresh()
		case "l":
			m.feed.Toggle()
		}
	case tickMsg:
		m.refresh()
		m.feed.CleanupOld(2 * time.Minute)
		return m, tickCmd()
	case busMsg:
		m.feed.Apply(bus.Event(msg))
		if msg.Topic == bus.TopicApprovalRequested || msg.Topic == bus.TopicApprovalResolved {
			m.refresh()
		}
	}
	return m, nil
}

func (m *model) refresh() {
	m.snap = m.ctrl.Snapshot()
	if m.cursor >= len(m.snap.Pending) {
		m.cursor = max(len(m.snap.Pending)-1, 0)
	}
}

func (m *model) setErr(err error) {
	m.lastErr = humanError(err)
}

var (
	titleS  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	dimS    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	focusS  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	okS     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errS    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	borderS = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

func onOff(v bool) string {
	if v {
		return okS.Render("ON")
	}
	return dimS.Render("OFF")
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleS.Render("toolrelay console") + "\n\n")

	agent := errS.Render("offline")
	if m.snap.AgentOnline {
		agent = okS.Render("online")
	}
	fmt.Fprintf(&b, "Agent: %s   Auto-Accept: %s   Strict Edit: %s   Whitelist: %d tools\n",
		agent, onOff(m.snap.Settings.AutoAccept), onOff(m.snap.Settings.StrictMode), len(m.snap.Settings.Whitelist))
	fmt.Fprintf(&b, "Backlog: %d   Parked: %d   Waiting: %d   Results: %d   Legacy: %d   Uptime: %s\n\n",
		m.snap.Backlog, m.snap.Parked, m.snap.Waiting, m.snap.Results, m.snap.Legacy,
		m.snap.Uptime.Truncate(time.Second))

	var pending strings.Builder
	fmt.Fprintf(&pending, "Pending Approvals: %d\n", len(m.snap.Pending))
	for i, p := range m.snap.Pending {
		line := fmt.Sprintf("%s  %s  %s", p.Tool, argsPreview(p.Args, 60), dimS.Render(time.Since(p.CreatedAt).Truncate(time.Second).String()))
		if i == m.cursor {
			pending.WriteString(focusS.Render("> "+line) + "\n")
		} else {
			pending.WriteString("  " + line + "\n")
		}
	}
	b.WriteString(borderS.Render(strings.TrimRight(pending.String(), "\n")) + "\n")

	if feed := m.feed.View(); feed != "" {
		b.WriteString("\n" + feed)
	}
	if m.lastErr != "" {
		b.WriteString("\n" + errS.Render("Error: "+m.lastErr) + "\n")
	}
	b.WriteString("\n" + dimS.Render("a approve · d deny · ↑/↓ select · t auto-accept · s strict · l activity · q quit") + "\n")
	return b.String()
}

func argsPreview(args map[string]any, limit int) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{...}"
	}
	s := string(raw)
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// Run shows the console until q is pressed or ctx ends. events may be nil.
func Run(ctx context.Context, ctrl Controller, events <-chan bus.Event) error {
	defer bestEffortResetTTY()

	p := tea.NewProgram(newModel(ctrl))

	if events != nil {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					p.Send(busMsg(ev))
				}
			}
		}()
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
