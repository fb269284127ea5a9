package domain

import (
	"context"
	"errors"
	"time"
)

var ErrDeviceNotFound = errors.New("agent device not found")

// AgentDevice tracks one polling delivery agent (a browser extension tab
// driving the chat web client). Counters are the agent's self-reported
// local view, kept for operator visibility only.
type AgentDevice struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	AgentID      string    `json:"agent_id"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	PendingLocal int       `json:"pending_local"`
	SentLocal    int       `json:"sent_local"`
	FailedLocal  int       `json:"failed_local"`
	CreatedAt    time.Time `json:"created_at"`
}

type IDeviceRepository interface {
	Init(ctx context.Context) error
	Upsert(ctx context.Context, d AgentDevice) error
	GetByAgent(ctx context.Context, userID, agentID string) (AgentDevice, error)
	ListByUser(ctx context.Context, userID string) ([]AgentDevice, error)
}

// --- Protocol DTOs ---

// PingRequest is the agent heartbeat: liveness plus its local counters.
type PingRequest struct {
	AgentID   string `json:"agent_id"`
	Channel   string `json:"channel"`
	UserAgent string `json:"user_agent,omitempty"`
	Pending   int    `json:"pending"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
}

// PingResponse doubles as the configuration-sync channel: the effective
// governor settings ride back on every heartbeat.
type PingResponse struct {
	ServerTime  time.Time       `json:"server_time"`
	Settings    ChannelSettings `json:"settings"`
	PendingJobs int64           `json:"pending_jobs"`
}

// ChannelSettings is the wire shape of the effective anti-ban settings.
type ChannelSettings struct {
	Channel     string `json:"channel"`
	DelayMinSec int64  `json:"delay_min_sec"`
	DelayMaxSec int64  `json:"delay_max_sec"`
	DailyCap    int    `json:"daily_cap"`
	Enabled     bool   `json:"enabled"`
}

// PendingMessage is one leased record handed to the agent. LogID is the
// opaque token the agent must echo back verbatim in its outcome report.
type PendingMessage struct {
	LogID       string    `json:"log_id"`
	Identity    string    `json:"identity"`
	Body        string    `json:"body"`
	Channel     string    `json:"channel"`
	CampaignID  string    `json:"campaign_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// ReportRequest wraps the batch of outcome tuples posted by the agent.
type ReportRequest struct {
	Reports []OutcomeReport `json:"reports"`
}

// OutcomeReport is one (log identity, outcome, timestamp) tuple posted by
// the agent after attempting delivery.
type OutcomeReport struct {
	LogID      string    `json:"log_id"`
	Outcome    string    `json:"outcome"` // delivered | failed
	Error      string    `json:"error,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// ReportResult summarizes how a batch of outcome reports was applied.
// Stale and unknown reports are counted, never fatal.
type ReportResult struct {
	Applied int `json:"applied"`
	Stale   int `json:"stale"`
	Unknown int `json:"unknown"`
}

// ContactSyncResponse is the incremental read-only contact feed: everything
// resolved after the agent's cursor plus the next cursor value.
type ContactSyncResponse struct {
	Contacts []SyncedContact `json:"contacts"`
	Cursor   time.Time       `json:"cursor"`
}

type SyncedContact struct {
	Identity    string            `json:"identity"`
	Fields      map[string]string `json:"fields,omitempty"`
	Completed   bool              `json:"completed"`
	SubmittedAt time.Time         `json:"submitted_at"`
}
