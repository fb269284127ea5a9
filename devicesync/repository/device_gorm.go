package repository

import (
	"context"
	"time"

	"github.com/leadpulse/engine/devicesync/domain"
	"gorm.io/gorm"
)

type agentDeviceModel struct {
	ID           string    `gorm:"primaryKey;column:id"`
	UserID       string    `gorm:"column:user_id;not null;index;uniqueIndex:idx_user_agent"`
	AgentID      string    `gorm:"column:agent_id;not null;uniqueIndex:idx_user_agent"`
	UserAgent    string    `gorm:"column:user_agent"`
	LastSeenAt   time.Time `gorm:"column:last_seen_at"`
	PendingLocal int       `gorm:"column:pending_local;default:0"`
	SentLocal    int       `gorm:"column:sent_local;default:0"`
	FailedLocal  int       `gorm:"column:failed_local;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

func (agentDeviceModel) TableName() string { return "agent_devices" }

type DeviceGormRepository struct {
	db *gorm.DB
}

func NewDeviceGormRepository(db *gorm.DB) *DeviceGormRepository {
	return &DeviceGormRepository{db: db}
}

func (r *DeviceGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&agentDeviceModel{})
}

func (r *DeviceGormRepository) Upsert(ctx context.Context, d domain.AgentDevice) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing agentDeviceModel
		err := tx.First(&existing, "user_id = ? AND agent_id = ?", d.UserID, d.AgentID).Error
		if err == gorm.ErrRecordNotFound {
			model := toDeviceModel(d)
			return tx.Create(&model).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).Updates(map[string]any{
			"user_agent":    d.UserAgent,
			"last_seen_at":  d.LastSeenAt,
			"pending_local": d.PendingLocal,
			"sent_local":    d.SentLocal,
			"failed_local":  d.FailedLocal,
		}).Error
	})
}

func (r *DeviceGormRepository) GetByAgent(ctx context.Context, userID, agentID string) (domain.AgentDevice, error) {
	var m agentDeviceModel
	err := r.db.WithContext(ctx).First(&m, "user_id = ? AND agent_id = ?", userID, agentID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.AgentDevice{}, domain.ErrDeviceNotFound
		}
		return domain.AgentDevice{}, err
	}
	return fromDeviceModel(m), nil
}

func (r *DeviceGormRepository) ListByUser(ctx context.Context, userID string) ([]domain.AgentDevice, error) {
	var models []agentDeviceModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).Order("last_seen_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.AgentDevice, len(models))
	for i, m := range models {
		res[i] = fromDeviceModel(m)
	}
	return res, nil
}

func toDeviceModel(d domain.AgentDevice) agentDeviceModel {
	return agentDeviceModel{
		ID:           d.ID,
		UserID:       d.UserID,
		AgentID:      d.AgentID,
		UserAgent:    d.UserAgent,
		LastSeenAt:   d.LastSeenAt,
		PendingLocal: d.PendingLocal,
		SentLocal:    d.SentLocal,
		FailedLocal:  d.FailedLocal,
		CreatedAt:    d.CreatedAt,
	}
}

func fromDeviceModel(m agentDeviceModel) domain.AgentDevice {
	return domain.AgentDevice{
		ID:           m.ID,
		UserID:       m.UserID,
		AgentID:      m.AgentID,
		UserAgent:    m.UserAgent,
		LastSeenAt:   m.LastSeenAt,
		PendingLocal: m.PendingLocal,
		SentLocal:    m.SentLocal,
		FailedLocal:  m.FailedLocal,
		CreatedAt:    m.CreatedAt,
	}
}
