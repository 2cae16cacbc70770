package bus

import "time"

// Approval topics.
const (
	TopicApprovalRequested = "approval.requested"
	TopicApprovalResolved  = "approval.resolved"
)

// Settings topics. Each carries the full new value.
const (
	TopicSettingsWhitelist  = "settings.whitelist"
	TopicSettingsAutoAccept = "settings.auto_accept"
	TopicSettingsStrictMode = "settings.strict_mode"
)

// Agent and log topics.
const (
	TopicAgentStatus = "agent.status"
	TopicLog         = "log"
)

// ApprovalRequested is published when a tool call waits for a human decision.
type ApprovalRequested struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	CreatedAt time.Time      `json:"timestamp"`
}

// ApprovalResolved is published exactly once per approval request.
type ApprovalResolved struct {
	ID      string `json:"id"`
	Tool    string `json:"tool"`
	Outcome string `json:"outcome"` // APPROVED, REJECTED or TIMED_OUT
}

// AgentStatus reports whether the remote agent has polled recently.
type AgentStatus struct {
	Online     bool      `json:"online"`
	LastPickup time.Time `json:"last_pickup"`
}

// LogLine is a log record republished for dashboards.
type LogLine struct {
	Type    string `json:"type"` // info, success, warn, error
	Message string `json:"message"`
}
