package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	audienceDomain "github.com/leadpulse/engine/audience/domain"
	"github.com/leadpulse/engine/campaign/domain"
	"gorm.io/gorm"
)

// --- Persistence Models ---

type campaignModel struct {
	ID                  string         `gorm:"primaryKey;column:id"`
	UserID              string         `gorm:"column:user_id;not null;index"`
	Name                string         `gorm:"column:name;not null"`
	Channel             string         `gorm:"column:channel;not null"`
	Variants            sql.NullString `gorm:"column:variants"` // JSON array
	PlaceholderFallback sql.NullString `gorm:"column:placeholder_fallback"`
	Audience            string         `gorm:"column:audience;default:'all'"`
	FieldKey            sql.NullString `gorm:"column:field_key"`
	FieldValue          sql.NullString `gorm:"column:field_value"`
	SubmittedFrom       *time.Time     `gorm:"column:submitted_from"`
	SubmittedTo         *time.Time     `gorm:"column:submitted_to"`
	TriggerType         string         `gorm:"column:trigger_type;default:'immediate'"`
	TriggerDelaySec     int64          `gorm:"column:trigger_delay_sec;default:0"`
	Status              string         `gorm:"column:status;default:'draft';index"`
	PauseReason         sql.NullString `gorm:"column:pause_reason"`
	NextVariant         int            `gorm:"column:next_variant;default:0"`
	LastScheduledAt     *time.Time     `gorm:"column:last_scheduled_at"`
	CreatedAt           time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;not null"`
}

func (campaignModel) TableName() string { return "campaigns" }

type channelSettingsModel struct {
	UserID      string    `gorm:"primaryKey;column:user_id"`
	Channel     string    `gorm:"primaryKey;column:channel"`
	DelayMinSec int64     `gorm:"column:delay_min_sec"`
	DelayMaxSec int64     `gorm:"column:delay_max_sec"`
	DailyCap    int       `gorm:"column:daily_cap"`
	Enabled     bool      `gorm:"column:enabled;default:true"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

func (channelSettingsModel) TableName() string { return "channel_settings" }

// --- Repository Implementation ---

type CampaignGormRepository struct {
	db *gorm.DB
}

func NewCampaignGormRepository(db *gorm.DB) *CampaignGormRepository {
	return &CampaignGormRepository{db: db}
}

func (r *CampaignGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&campaignModel{}, &channelSettingsModel{})
}

func (r *CampaignGormRepository) Create(ctx context.Context, c domain.Campaign) error {
	model := toCampaignModel(c)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *CampaignGormRepository) GetByID(ctx context.Context, id string) (domain.Campaign, error) {
	var m campaignModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Campaign{}, domain.ErrCampaignNotFound
		}
		return domain.Campaign{}, err
	}
	return fromCampaignModel(m), nil
}

func (r *CampaignGormRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error) {
	q := r.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []campaignModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return fromCampaignModels(models), nil
}

func (r *CampaignGormRepository) ListPausedByReason(ctx context.Context, userID, reason string) ([]domain.Campaign, error) {
	var models []campaignModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND pause_reason = ?", userID, string(domain.StatusPaused), reason).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromCampaignModels(models), nil
}

func (r *CampaignGormRepository) ListByUser(ctx context.Context, userID string) ([]domain.Campaign, error) {
	var models []campaignModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromCampaignModels(models), nil
}

func (r *CampaignGormRepository) Update(ctx context.Context, c domain.Campaign) error {
	model := toCampaignModel(c)
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *CampaignGormRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&campaignModel{}, "id = ?", id).Error
}

// --- Settings Repository ---

type SettingsGormRepository struct {
	db *gorm.DB
}

func NewSettingsGormRepository(db *gorm.DB) *SettingsGormRepository {
	return &SettingsGormRepository{db: db}
}

func (r *SettingsGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&channelSettingsModel{})
}

func (r *SettingsGormRepository) Get(ctx context.Context, userID string, channel domain.Channel) (domain.ChannelSettings, error) {
	var m channelSettingsModel
	err := r.db.WithContext(ctx).
		First(&m, "user_id = ? AND channel = ?", userID, string(channel)).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ChannelSettings{}, domain.ErrSettingsNotFound
		}
		return domain.ChannelSettings{}, err
	}
	return domain.ChannelSettings{
		UserID:    m.UserID,
		Channel:   domain.Channel(m.Channel),
		DelayMin:  time.Duration(m.DelayMinSec) * time.Second,
		DelayMax:  time.Duration(m.DelayMaxSec) * time.Second,
		DailyCap:  m.DailyCap,
		Enabled:   m.Enabled,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func (r *SettingsGormRepository) Save(ctx context.Context, s domain.ChannelSettings) error {
	m := channelSettingsModel{
		UserID:      s.UserID,
		Channel:     string(s.Channel),
		DelayMinSec: int64(s.DelayMin / time.Second),
		DelayMaxSec: int64(s.DelayMax / time.Second),
		DailyCap:    s.DailyCap,
		Enabled:     s.Enabled,
		UpdatedAt:   time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Save(&m).Error
}

// --- Mappers ---

func toCampaignModel(c domain.Campaign) campaignModel {
	variants, _ := json.Marshal(c.Variants)
	var lastScheduled *time.Time
	if !c.LastScheduledAt.IsZero() {
		t := c.LastScheduledAt
		lastScheduled = &t
	}
	return campaignModel{
		ID:                  c.ID,
		UserID:              c.UserID,
		Name:                c.Name,
		Channel:             string(c.Channel),
		Variants:            sql.NullString{String: string(variants), Valid: true},
		PlaceholderFallback: sql.NullString{String: c.PlaceholderFallback, Valid: c.PlaceholderFallback != ""},
		Audience:            string(c.Targeting.Audience),
		FieldKey:            sql.NullString{String: c.Targeting.FieldKey, Valid: c.Targeting.FieldKey != ""},
		FieldValue:          sql.NullString{String: c.Targeting.FieldValue, Valid: c.Targeting.FieldValue != ""},
		SubmittedFrom:       c.Targeting.SubmittedFrom,
		SubmittedTo:         c.Targeting.SubmittedTo,
		TriggerType:         string(c.Trigger.Type),
		TriggerDelaySec:     int64(c.Trigger.Delay / time.Second),
		Status:              string(c.Status),
		PauseReason:         sql.NullString{String: c.PauseReason, Valid: c.PauseReason != ""},
		NextVariant:         c.NextVariant,
		LastScheduledAt:     lastScheduled,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

func fromCampaignModel(m campaignModel) domain.Campaign {
	var variants []string
	variantsJSON := nullStringValue(m.Variants)
	if variantsJSON != "" {
		_ = json.Unmarshal([]byte(variantsJSON), &variants)
	}
	var lastScheduled time.Time
	if m.LastScheduledAt != nil {
		lastScheduled = *m.LastScheduledAt
	}
	return domain.Campaign{
		ID:                  m.ID,
		UserID:              m.UserID,
		Name:                m.Name,
		Channel:             domain.Channel(m.Channel),
		Variants:            variants,
		PlaceholderFallback: nullStringValue(m.PlaceholderFallback),
		Targeting: audienceDomain.Targeting{
			Audience:      audienceDomain.AudienceClass(m.Audience),
			FieldKey:      nullStringValue(m.FieldKey),
			FieldValue:    nullStringValue(m.FieldValue),
			SubmittedFrom: m.SubmittedFrom,
			SubmittedTo:   m.SubmittedTo,
		},
		Trigger: domain.TriggerSpec{
			Type:  domain.TriggerType(m.TriggerType),
			Delay: time.Duration(m.TriggerDelaySec) * time.Second,
		},
		Status:          domain.CampaignStatus(m.Status),
		PauseReason:     nullStringValue(m.PauseReason),
		NextVariant:     m.NextVariant,
		LastScheduledAt: lastScheduled,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func fromCampaignModels(models []campaignModel) []domain.Campaign {
	res := make([]domain.Campaign, len(models))
	for i, m := range models {
		res[i] = fromCampaignModel(m)
	}
	return res
}

func nullStringValue(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return strings.TrimSpace(ns.String)
}
