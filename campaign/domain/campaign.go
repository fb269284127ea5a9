package domain

import (
	"context"
	"errors"
	"time"

	audienceDomain "github.com/leadpulse/engine/audience/domain"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrSettingsNotFound = errors.New("channel settings not found")
	ErrNoVariants       = errors.New("campaign has no message variants")
	ErrNotPaused        = errors.New("campaign is not paused")
	ErrNoCreditBalance  = errors.New("credit balance is empty, top up before resuming")
)

// Channel is the delivery medium of a campaign.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelWhatsApp || c == ChannelEmail
}

type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusActive    CampaignStatus = "active"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
)

type TriggerType string

const (
	TriggerImmediate  TriggerType = "immediate"
	TriggerDelayed    TriggerType = "delayed"
	TriggerContinuous TriggerType = "continuous"
)

// Pause reasons surfaced to the notification layer.
const (
	PauseReasonInsufficientCredits = "insufficient_credits"
	PauseReasonManual              = "manual"
)

// TriggerSpec decides when a campaign becomes due. Delayed campaigns fire
// Delay after creation; continuous campaigns are always due and rely on
// incremental resolution.
type TriggerSpec struct {
	Type  TriggerType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Campaign is a configured, schedulable definition of a message to send to
// a resolved audience. Variants is the ordered rotation list; NextVariant is
// the persisted round-robin cursor so rotation survives restarts.
// LastScheduledAt is the tail of the inter-message delay chain.
type Campaign struct {
	ID                  string                   `json:"id"`
	UserID              string                   `json:"user_id"`
	Name                string                   `json:"name"`
	Channel             Channel                  `json:"channel"`
	Variants            []string                 `json:"variants"`
	PlaceholderFallback string                   `json:"placeholder_fallback,omitempty"`
	Targeting           audienceDomain.Targeting `json:"targeting"`
	Trigger             TriggerSpec              `json:"trigger"`
	Status              CampaignStatus           `json:"status"`
	PauseReason         string                   `json:"pause_reason,omitempty"`
	NextVariant         int                      `json:"next_variant"`
	LastScheduledAt     time.Time                `json:"last_scheduled_at"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

// CanActivate enforces the invariant that a campaign with zero valid message
// variants cannot transition to active.
func (c *Campaign) CanActivate() error {
	valid := 0
	for _, v := range c.Variants {
		if v != "" {
			valid++
		}
	}
	if valid == 0 {
		return ErrNoVariants
	}
	return nil
}

// Due reports whether the campaign's trigger condition holds at now.
func (c *Campaign) Due(now time.Time) bool {
	switch c.Trigger.Type {
	case TriggerDelayed:
		return !now.Before(c.CreatedAt.Add(c.Trigger.Delay))
	default:
		// immediate and continuous campaigns are due as soon as active
		return true
	}
}

// ChannelSettings are the effective anti-ban bounds for one user/channel,
// returned to the agent on every heartbeat.
type ChannelSettings struct {
	UserID    string        `json:"user_id"`
	Channel   Channel       `json:"channel"`
	DelayMin  time.Duration `json:"delay_min"`
	DelayMax  time.Duration `json:"delay_max"`
	DailyCap  int           `json:"daily_cap"`
	Enabled   bool          `json:"enabled"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type ICampaignRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, c Campaign) error
	GetByID(ctx context.Context, id string) (Campaign, error)
	ListByStatus(ctx context.Context, status CampaignStatus, limit int) ([]Campaign, error)
	ListPausedByReason(ctx context.Context, userID, reason string) ([]Campaign, error)
	ListByUser(ctx context.Context, userID string) ([]Campaign, error)
	Update(ctx context.Context, c Campaign) error
	Delete(ctx context.Context, id string) error
}

type ISettingsRepository interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, userID string, channel Channel) (ChannelSettings, error)
	Save(ctx context.Context, s ChannelSettings) error
}

// INotifier is the excluded notification collaborator: campaign lifecycle
// events are emitted to it, never awaited.
type INotifier interface {
	CampaignPaused(ctx context.Context, c Campaign, reason string)
	CampaignExhausted(ctx context.Context, c Campaign)
}
