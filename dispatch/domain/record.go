package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRecordNotFound = errors.New("dispatch record not found")
	ErrStaleReport    = errors.New("report targets a record not in sent state")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Failure reasons recorded on terminal failed records.
const (
	ReasonInvalidIdentity = "invalid_identity"
	ReasonTimeout         = "timeout"
	ReasonCancelled       = "cancelled"
	ReasonAgentError      = "agent_error"
)

// DispatchRecord is one queued/sent message instance tied to a
// campaign+contact pair. LogID is the opaque token the agent echoes back in
// outcome reports; it is never positional.
type DispatchRecord struct {
	ID              string
	LogID           string
	CampaignID      string
	UserID          string
	ContactIdentity string
	Channel         string
	Body            string
	VariantIndex    int
	Status          Status
	Reason          string
	ScheduledAt     time.Time
	SentAt          *time.Time
	DeliveredAt     *time.Time
	FailedAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Stats are the derived per-campaign aggregates, always recomputed from the
// record table rather than stored redundantly.
type Stats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

type IDispatchRepository interface {
	Init(ctx context.Context) error

	// CreateIdempotent inserts the record unless any record already exists
	// for its (campaign, contact) pair. Returns false when the pair was
	// already processed.
	CreateIdempotent(ctx context.Context, rec DispatchRecord) (bool, error)

	GetByLogID(ctx context.Context, userID, logID string) (DispatchRecord, error)

	// LeaseBatch atomically claims up to limit eligible pending records for
	// the user (scheduled_at elapsed), transitioning them to sent. Records
	// claimed by a concurrent poller are skipped.
	LeaseBatch(ctx context.Context, userID, channel string, now time.Time, limit int) ([]DispatchRecord, error)

	// ApplyOutcome transitions a sent record to delivered/failed. Returns
	// ErrStaleReport when the record is not currently sent.
	ApplyOutcome(ctx context.Context, userID, logID string, status Status, reason string, at time.Time) error

	// SweepTimeouts fails every sent record handed out before cutoff.
	SweepTimeouts(ctx context.Context, cutoff time.Time) (int64, error)

	// CountCreatedSince counts records created since the given instant,
	// excluding invalid-identity failures, which never consumed channel
	// capacity.
	CountCreatedSince(ctx context.Context, userID, channel string, since time.Time) (int64, error)
	CountPending(ctx context.Context, userID, channel string) (int64, error)
	CountByCampaign(ctx context.Context, campaignID string) (Stats, error)
	CountNonTerminal(ctx context.Context, campaignID string) (int64, error)
	CancelNonTerminal(ctx context.Context, campaignID string) (int64, error)
	ExistsForContact(ctx context.Context, campaignID, identity string) (bool, error)
	CountDistinctContacts(ctx context.Context, campaignID string) (int64, error)
}
