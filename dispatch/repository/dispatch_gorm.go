package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/leadpulse/engine/dispatch/domain"
	"gorm.io/gorm"
)

// --- Persistence Model ---

type dispatchRecordModel struct {
	ID              string         `gorm:"primaryKey;column:id"`
	LogID           string         `gorm:"column:log_id;not null;uniqueIndex"`
	CampaignID      string         `gorm:"column:campaign_id;not null;index;uniqueIndex:idx_campaign_contact"`
	UserID          string         `gorm:"column:user_id;not null;index"`
	ContactIdentity string         `gorm:"column:contact_identity;not null;uniqueIndex:idx_campaign_contact"`
	Channel         string         `gorm:"column:channel;not null;index"`
	Body            string         `gorm:"column:body"`
	VariantIndex    int            `gorm:"column:variant_index;default:0"`
	Status          string         `gorm:"column:status;default:'pending';index"`
	Reason          sql.NullString `gorm:"column:reason"`
	ScheduledAt     time.Time      `gorm:"column:scheduled_at;not null;index"`
	SentAt          *time.Time     `gorm:"column:sent_at"`
	DeliveredAt     *time.Time     `gorm:"column:delivered_at"`
	FailedAt        *time.Time     `gorm:"column:failed_at"`
	CreatedAt       time.Time      `gorm:"column:created_at;not null;index"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;not null"`
}

func (dispatchRecordModel) TableName() string { return "dispatch_records" }

// --- Repository Implementation ---

type DispatchGormRepository struct {
	db *gorm.DB
}

func NewDispatchGormRepository(db *gorm.DB) *DispatchGormRepository {
	return &DispatchGormRepository{db: db}
}

func (r *DispatchGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&dispatchRecordModel{})
}

// CreateIdempotent inserts the record unless the (campaign, contact) pair was
// already enqueued at some point. A resolver re-offering a processed contact
// is a no-op, not a duplicate send.
func (r *DispatchGormRepository) CreateIdempotent(ctx context.Context, rec domain.DispatchRecord) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&dispatchRecordModel{}).
			Where("campaign_id = ? AND contact_identity = ?", rec.CampaignID, rec.ContactIdentity).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		model := toRecordModel(rec)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (r *DispatchGormRepository) GetByLogID(ctx context.Context, userID, logID string) (domain.DispatchRecord, error) {
	var m dispatchRecordModel
	err := r.db.WithContext(ctx).
		First(&m, "user_id = ? AND log_id = ?", userID, logID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.DispatchRecord{}, domain.ErrRecordNotFound
		}
		return domain.DispatchRecord{}, err
	}
	return fromRecordModel(m), nil
}

// LeaseBatch claims up to limit eligible pending records for the user and
// channel, flipping them to sent. The claim is a conditional update per row,
// so two concurrent pollers never receive the same record: whoever loses the
// status race simply skips the row.
func (r *DispatchGormRepository) LeaseBatch(ctx context.Context, userID, channel string, now time.Time, limit int) ([]domain.DispatchRecord, error) {
	var claimed []domain.DispatchRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&dispatchRecordModel{}).
			Where("user_id = ? AND status = ? AND scheduled_at <= ?", userID, string(domain.StatusPending), now)
		if channel != "" {
			q = q.Where("channel = ?", channel)
		}

		var candidates []dispatchRecordModel
		if err := q.Order("scheduled_at ASC").Limit(limit).Find(&candidates).Error; err != nil {
			return err
		}

		for _, m := range candidates {
			res := tx.Model(&dispatchRecordModel{}).
				Where("id = ? AND status = ?", m.ID, string(domain.StatusPending)).
				Updates(map[string]any{
					"status":     string(domain.StatusSent),
					"sent_at":    now,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue // lost the claim to a concurrent poller
			}
			rec := fromRecordModel(m)
			rec.Status = domain.StatusSent
			sentAt := now
			rec.SentAt = &sentAt
			claimed = append(claimed, rec)
		}
		return nil
	})
	return claimed, err
}

// ApplyOutcome transitions a sent record to its terminal state. Reports for
// unknown log identities or records no longer in sent state are rejected so
// stale or replayed agent posts cannot corrupt state.
func (r *DispatchGormRepository) ApplyOutcome(ctx context.Context, userID, logID string, status domain.Status, reason string, at time.Time) error {
	if !status.Terminal() {
		return domain.ErrStaleReport
	}

	updates := map[string]any{
		"status":     string(status),
		"updated_at": at,
	}
	if status == domain.StatusDelivered {
		updates["delivered_at"] = at
	} else {
		updates["failed_at"] = at
		if reason != "" {
			updates["reason"] = reason
		}
	}

	res := r.db.WithContext(ctx).Model(&dispatchRecordModel{}).
		Where("user_id = ? AND log_id = ? AND status = ?", userID, logID, string(domain.StatusSent)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&dispatchRecordModel{}).
			Where("user_id = ? AND log_id = ?", userID, logID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrRecordNotFound
		}
		return domain.ErrStaleReport
	}
	return nil
}

// SweepTimeouts fails every sent record handed out before cutoff. Recovery
// from an agent that leased a batch and vanished.
func (r *DispatchGormRepository) SweepTimeouts(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&dispatchRecordModel{}).
		Where("status = ? AND sent_at < ?", string(domain.StatusSent), cutoff).
		Updates(map[string]any{
			"status":     string(domain.StatusFailed),
			"reason":     domain.ReasonTimeout,
			"failed_at":  now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// CountCreatedSince counts records admitted against the daily cap. Records
// failed at enqueue for an unnormalizable contact never reached the channel
// and do not consume quota.
func (r *DispatchGormRepository) CountCreatedSince(ctx context.Context, userID, channel string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&dispatchRecordModel{}).
		Where("user_id = ? AND channel = ? AND created_at >= ?", userID, channel, since).
		Where("reason IS NULL OR reason <> ?", domain.ReasonInvalidIdentity).
		Count(&count).Error
	return count, err
}

func (r *DispatchGormRepository) CountPending(ctx context.Context, userID, channel string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&dispatchRecordModel{}).
		Where("user_id = ? AND channel = ? AND status = ?", userID, channel, string(domain.StatusPending)).
		Count(&count).Error
	return count, err
}

func (r *DispatchGormRepository) CountByCampaign(ctx context.Context, campaignID string) (domain.Stats, error) {
	rows, err := r.db.WithContext(ctx).Model(&dispatchRecordModel{}).
		Select("status, COUNT(*) as n").
		Where("campaign_id = ?", campaignID).
		Group("status").Rows()
	if err != nil {
		return domain.Stats{}, err
	}
	defer rows.Close()

	var stats domain.Stats
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return domain.Stats{}, err
		}
		switch domain.Status(status) {
		case domain.StatusPending:
			stats.Pending = n
		case domain.StatusSent:
			stats.Sent = n
		case domain.StatusDelivered:
			stats.Delivered = n
		case domain.StatusFailed:
			stats.Failed = n
		}
		stats.Total += n
	}
	return stats, rows.Err()
}

func (r *DispatchGormRepository) CountNonTerminal(ctx context.Context, campaignID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&dispatchRecordModel{}).
		Where("campaign_id = ? AND status IN ?", campaignID, []string{string(domain.StatusPending), string(domain.StatusSent)}).
		Count(&count).Error
	return count, err
}

// CancelNonTerminal cascade-cancels every open record of a campaign to a
// terminal failed(cancelled) state. Used on campaign deletion so no orphans
// remain; late agent reports against them resolve as stale no-ops.
func (r *DispatchGormRepository) CancelNonTerminal(ctx context.Context, campaignID string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&dispatchRecordModel{}).
		Where("campaign_id = ? AND status IN ?", campaignID, []string{string(domain.StatusPending), string(domain.StatusSent)}).
		Updates(map[string]any{
			"status":     string(domain.StatusFailed),
			"reason":     domain.ReasonCancelled,
			"failed_at":  now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *DispatchGormRepository) ExistsForContact(ctx context.Context, campaignID, identity string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&dispatchRecordModel{}).
		Where("campaign_id = ? AND contact_identity = ?", campaignID, identity).
		Count(&count).Error
	return count > 0, err
}

func (r *DispatchGormRepository) CountDistinctContacts(ctx context.Context, campaignID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&dispatchRecordModel{}).
		Select("COUNT(DISTINCT contact_identity)").
		Where("campaign_id = ?", campaignID).
		Scan(&count).Error
	return count, err
}

// --- Mappers ---

func toRecordModel(rec domain.DispatchRecord) dispatchRecordModel {
	return dispatchRecordModel{
		ID:              rec.ID,
		LogID:           rec.LogID,
		CampaignID:      rec.CampaignID,
		UserID:          rec.UserID,
		ContactIdentity: rec.ContactIdentity,
		Channel:         rec.Channel,
		Body:            rec.Body,
		VariantIndex:    rec.VariantIndex,
		Status:          string(rec.Status),
		Reason:          sql.NullString{String: rec.Reason, Valid: rec.Reason != ""},
		ScheduledAt:     rec.ScheduledAt,
		SentAt:          rec.SentAt,
		DeliveredAt:     rec.DeliveredAt,
		FailedAt:        rec.FailedAt,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

func fromRecordModel(m dispatchRecordModel) domain.DispatchRecord {
	return domain.DispatchRecord{
		ID:              m.ID,
		LogID:           m.LogID,
		CampaignID:      m.CampaignID,
		UserID:          m.UserID,
		ContactIdentity: m.ContactIdentity,
		Channel:         m.Channel,
		Body:            m.Body,
		VariantIndex:    m.VariantIndex,
		Status:          domain.Status(m.Status),
		Reason:          nullStringValue(m.Reason),
		ScheduledAt:     m.ScheduledAt,
		SentAt:          m.SentAt,
		DeliveredAt:     m.DeliveredAt,
		FailedAt:        m.FailedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func nullStringValue(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return strings.TrimSpace(ns.String)
}
