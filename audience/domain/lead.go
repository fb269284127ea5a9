package domain

import (
	"context"
	"errors"
	"time"
)

var ErrLeadNotFound = errors.New("lead not found")

// AudienceClass selects which slice of captured leads a campaign targets.
type AudienceClass string

const (
	AudienceAll       AudienceClass = "all"
	AudienceCompleted AudienceClass = "completed"
	AudienceAbandoned AudienceClass = "abandoned"
)

// Targeting is a campaign's audience specification. The field filter is an
// exact match against the lead's variable bag; an unknown field simply
// matches nothing.
type Targeting struct {
	Audience      AudienceClass `json:"audience"`
	FieldKey      string        `json:"field_key,omitempty"`
	FieldValue    string        `json:"field_value,omitempty"`
	SubmittedFrom *time.Time    `json:"submitted_from,omitempty"`
	SubmittedTo   *time.Time    `json:"submitted_to,omitempty"`
}

// Lead is a captured quiz response as stored by the lead-capture product.
// RawContact is the phone/email exactly as the respondent typed it.
type Lead struct {
	ID          string
	UserID      string
	QuizID      string
	RawContact  string
	Fields      map[string]string
	Completed   bool
	SubmittedAt time.Time
	CreatedAt   time.Time
}

// Contact is a resolved audience member: a normalized recipient identity
// plus its personalization variables. Invalid carries leads whose contact
// could not be normalized so the caller can record the failure per contact.
type Contact struct {
	Identity    string
	Raw         string
	Fields      map[string]string
	Completed   bool
	SubmittedAt time.Time
	Invalid     bool
}

// SyncCursor is the per (user, campaign) watermark for incremental
// resolution. Monotonic; advanced to the max timestamp actually observed.
type SyncCursor struct {
	UserID     string
	CampaignID string
	LastSyncAt time.Time
	UpdatedAt  time.Time
}

// IngestLeadRequest is the wire shape for recording one quiz submission.
type IngestLeadRequest struct {
	QuizID      string            `json:"quiz_id"`
	Contact     string            `json:"contact"`
	Fields      map[string]string `json:"fields,omitempty"`
	Completed   bool              `json:"completed"`
	SubmittedAt *time.Time        `json:"submitted_at,omitempty"`
}

type ILeadRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, lead Lead) error
	Query(ctx context.Context, userID string, t Targeting) ([]Lead, error)
	QuerySince(ctx context.Context, userID string, t Targeting, since time.Time) ([]Lead, error)
}

type ICursorRepository interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, userID, campaignID string) (SyncCursor, error)
	Save(ctx context.Context, cursor SyncCursor) error
}
