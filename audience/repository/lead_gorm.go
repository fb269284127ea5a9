package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/leadpulse/engine/audience/domain"
	"gorm.io/gorm"
)

// --- Persistence Models ---

type leadModel struct {
	ID          string         `gorm:"primaryKey;column:id"`
	UserID      string         `gorm:"column:user_id;not null;index"`
	QuizID      string         `gorm:"column:quiz_id;index"`
	RawContact  string         `gorm:"column:raw_contact;not null"`
	Fields      sql.NullString `gorm:"column:fields"` // JSON
	Completed   bool           `gorm:"column:completed;default:false"`
	SubmittedAt time.Time      `gorm:"column:submitted_at;not null;index"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null"`
}

func (leadModel) TableName() string { return "leads" }

type syncCursorModel struct {
	UserID     string    `gorm:"primaryKey;column:user_id"`
	CampaignID string    `gorm:"primaryKey;column:campaign_id"`
	LastSyncAt time.Time `gorm:"column:last_sync_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (syncCursorModel) TableName() string { return "sync_cursors" }

// --- Repository Implementation ---

type LeadGormRepository struct {
	db *gorm.DB
}

func NewLeadGormRepository(db *gorm.DB) *LeadGormRepository {
	return &LeadGormRepository{db: db}
}

func (r *LeadGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&leadModel{}, &syncCursorModel{})
}

func (r *LeadGormRepository) Create(ctx context.Context, lead domain.Lead) error {
	model := toLeadModel(lead)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *LeadGormRepository) Query(ctx context.Context, userID string, t domain.Targeting) ([]domain.Lead, error) {
	return r.query(ctx, userID, t, nil)
}

func (r *LeadGormRepository) QuerySince(ctx context.Context, userID string, t domain.Targeting, since time.Time) ([]domain.Lead, error) {
	return r.query(ctx, userID, t, &since)
}

// query applies the targeting spec in SQL where cheap (class, dates) and the
// field filter in memory, since the variable bag is stored as JSON.
func (r *LeadGormRepository) query(ctx context.Context, userID string, t domain.Targeting, since *time.Time) ([]domain.Lead, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)

	switch t.Audience {
	case domain.AudienceCompleted:
		q = q.Where("completed = ?", true)
	case domain.AudienceAbandoned:
		q = q.Where("completed = ?", false)
	}
	if t.SubmittedFrom != nil {
		q = q.Where("submitted_at >= ?", *t.SubmittedFrom)
	}
	if t.SubmittedTo != nil {
		q = q.Where("submitted_at <= ?", *t.SubmittedTo)
	}
	if since != nil {
		// strictly greater: the cursor row itself was already returned
		q = q.Where("submitted_at > ?", *since)
	}

	var models []leadModel
	if err := q.Order("submitted_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	res := make([]domain.Lead, 0, len(models))
	for _, m := range models {
		lead := fromLeadModel(m)
		if t.FieldKey != "" && lead.Fields[t.FieldKey] != t.FieldValue {
			continue
		}
		res = append(res, lead)
	}
	return res, nil
}

// --- Cursor Repository ---

type CursorGormRepository struct {
	db *gorm.DB
}

func NewCursorGormRepository(db *gorm.DB) *CursorGormRepository {
	return &CursorGormRepository{db: db}
}

func (r *CursorGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&syncCursorModel{})
}

func (r *CursorGormRepository) Get(ctx context.Context, userID, campaignID string) (domain.SyncCursor, error) {
	var m syncCursorModel
	err := r.db.WithContext(ctx).
		First(&m, "user_id = ? AND campaign_id = ?", userID, campaignID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// zero cursor: the first incremental pass sees everything
			return domain.SyncCursor{UserID: userID, CampaignID: campaignID}, nil
		}
		return domain.SyncCursor{}, err
	}
	return domain.SyncCursor{
		UserID:     m.UserID,
		CampaignID: m.CampaignID,
		LastSyncAt: m.LastSyncAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}

func (r *CursorGormRepository) Save(ctx context.Context, cursor domain.SyncCursor) error {
	m := syncCursorModel{
		UserID:     cursor.UserID,
		CampaignID: cursor.CampaignID,
		LastSyncAt: cursor.LastSyncAt,
		UpdatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Save(&m).Error
}

// --- Mappers ---

func toLeadModel(lead domain.Lead) leadModel {
	fields, _ := json.Marshal(lead.Fields)
	return leadModel{
		ID:          lead.ID,
		UserID:      lead.UserID,
		QuizID:      lead.QuizID,
		RawContact:  lead.RawContact,
		Fields:      sql.NullString{String: string(fields), Valid: true},
		Completed:   lead.Completed,
		SubmittedAt: lead.SubmittedAt,
		CreatedAt:   lead.CreatedAt,
	}
}

func fromLeadModel(m leadModel) domain.Lead {
	var fields map[string]string
	fieldsJSON := nullStringValue(m.Fields)
	if fieldsJSON != "" {
		_ = json.Unmarshal([]byte(fieldsJSON), &fields)
	}
	if fields == nil {
		fields = map[string]string{}
	}
	return domain.Lead{
		ID:          m.ID,
		UserID:      m.UserID,
		QuizID:      m.QuizID,
		RawContact:  m.RawContact,
		Fields:      fields,
		Completed:   m.Completed,
		SubmittedAt: m.SubmittedAt,
		CreatedAt:   m.CreatedAt,
	}
}

func nullStringValue(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return strings.TrimSpace(ns.String)
}
