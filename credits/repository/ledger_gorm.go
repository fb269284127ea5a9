package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/leadpulse/engine/credits/domain"
	"gorm.io/gorm"
)

// --- Persistence Models ---

type ledgerEntryModel struct {
	ID        string         `gorm:"primaryKey;column:id"`
	UserID    string         `gorm:"column:user_id;not null;index:idx_ledger_user_channel"`
	Channel   string         `gorm:"column:channel;not null;index:idx_ledger_user_channel"`
	Delta     int64          `gorm:"column:delta;not null"`
	Reason    string         `gorm:"column:reason;not null"`
	Ref       sql.NullString `gorm:"column:ref"`
	CreatedAt time.Time      `gorm:"column:created_at;not null"`
}

func (ledgerEntryModel) TableName() string { return "credit_ledger_entries" }

type reservationModel struct {
	ID        string    `gorm:"primaryKey;column:id"`
	UserID    string    `gorm:"column:user_id;not null;index:idx_res_user_channel"`
	Channel   string    `gorm:"column:channel;not null;index:idx_res_user_channel"`
	Count     int64     `gorm:"column:count;not null"`
	Status    string    `gorm:"column:status;default:'held';index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (reservationModel) TableName() string { return "credit_reservations" }

// --- Repository Implementation ---

type LedgerGormRepository struct {
	db *gorm.DB
}

func NewLedgerGormRepository(db *gorm.DB) *LedgerGormRepository {
	return &LedgerGormRepository{db: db}
}

func (r *LedgerGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ledgerEntryModel{}, &reservationModel{})
}

func (r *LedgerGormRepository) CreateEntry(ctx context.Context, e domain.LedgerEntry) error {
	model := toEntryModel(e)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *LedgerGormRepository) SumDeltas(ctx context.Context, userID, channel string) (int64, error) {
	var sum sql.NullInt64
	err := r.db.WithContext(ctx).Model(&ledgerEntryModel{}).
		Select("SUM(delta)").
		Where("user_id = ? AND channel = ?", userID, channel).
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	return sum.Int64, nil
}

func (r *LedgerGormRepository) ListEntries(ctx context.Context, userID, channel string, limit int) ([]domain.LedgerEntry, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND channel = ?", userID, channel).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []ledgerEntryModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.LedgerEntry, len(models))
	for i, m := range models {
		res[i] = fromEntryModel(m)
	}
	return res, nil
}

func (r *LedgerGormRepository) CreateReservation(ctx context.Context, res domain.Reservation) error {
	model := toReservationModel(res)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *LedgerGormRepository) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	var m reservationModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, err
	}
	return fromReservationModel(m), nil
}

func (r *LedgerGormRepository) UpdateReservation(ctx context.Context, res domain.Reservation) error {
	model := toReservationModel(res)
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *LedgerGormRepository) SumHeld(ctx context.Context, userID, channel string) (int64, error) {
	var sum sql.NullInt64
	err := r.db.WithContext(ctx).Model(&reservationModel{}).
		Select("SUM(count)").
		Where("user_id = ? AND channel = ? AND status = ?", userID, channel, string(domain.ReservationHeld)).
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	return sum.Int64, nil
}

// --- Mappers ---

func toEntryModel(e domain.LedgerEntry) ledgerEntryModel {
	return ledgerEntryModel{
		ID:        e.ID,
		UserID:    e.UserID,
		Channel:   e.Channel,
		Delta:     e.Delta,
		Reason:    e.Reason,
		Ref:       sql.NullString{String: e.Ref, Valid: e.Ref != ""},
		CreatedAt: e.CreatedAt,
	}
}

func fromEntryModel(m ledgerEntryModel) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:        m.ID,
		UserID:    m.UserID,
		Channel:   m.Channel,
		Delta:     m.Delta,
		Reason:    m.Reason,
		Ref:       nullStringValue(m.Ref),
		CreatedAt: m.CreatedAt,
	}
}

func toReservationModel(r domain.Reservation) reservationModel {
	return reservationModel{
		ID:        r.ID,
		UserID:    r.UserID,
		Channel:   r.Channel,
		Count:     r.Count,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func fromReservationModel(m reservationModel) domain.Reservation {
	return domain.Reservation{
		ID:        m.ID,
		UserID:    m.UserID,
		Channel:   m.Channel,
		Count:     m.Count,
		Status:    domain.ReservationStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func nullStringValue(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return strings.TrimSpace(ns.String)
}
