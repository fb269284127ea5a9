package application

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leadpulse/engine/audience/domain"
	"github.com/leadpulse/engine/audience/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestResolver(t *testing.T) (*Resolver, domain.ILeadRepository) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "audience_test.db")
	db, err := gorm.Open(sqlite.Open("file:"+dbPath+"?_journal_mode=WAL&_foreign_keys=on"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	leads := repository.NewLeadGormRepository(db)
	cursors := repository.NewCursorGormRepository(db)
	ctx := context.Background()
	if err := leads.Init(ctx); err != nil {
		t.Fatalf("failed to init leads schema: %v", err)
	}
	if err := cursors.Init(ctx); err != nil {
		t.Fatalf("failed to init cursors schema: %v", err)
	}

	return NewResolver(leads, cursors, "55"), leads
}

func seedLead(t *testing.T, repo domain.ILeadRepository, userID, contact string, completed bool, submittedAt time.Time, fields map[string]string) {
	t.Helper()
	err := repo.Create(context.Background(), domain.Lead{
		ID:          uuid.NewString(),
		UserID:      userID,
		QuizID:      "quiz-1",
		RawContact:  contact,
		Fields:      fields,
		Completed:   completed,
		SubmittedAt: submittedAt,
		CreatedAt:   submittedAt,
	})
	if err != nil {
		t.Fatalf("failed to seed lead: %v", err)
	}
}

func TestResolver_DedupByNormalizedIdentity(t *testing.T) {
	resolver, leads := newTestResolver(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Same phone in two formats: the abandoned one is newer, the completed
	// one is older. The completed record must win the collision.
	seedLead(t, leads, "u1", "+55 (11) 98765-4321", true, base, map[string]string{"name": "Ana"})
	seedLead(t, leads, "u1", "11987654321", false, base.Add(time.Hour), map[string]string{"name": "Ana Maria"})

	contacts, err := resolver.Resolve(ctx, "u1", "whatsapp", domain.Targeting{Audience: domain.AudienceAll})
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("Resolve() returned %d contacts, want 1", len(contacts))
	}
	if contacts[0].Identity != "5511987654321" {
		t.Errorf("identity = %q, want 5511987654321", contacts[0].Identity)
	}
	if !contacts[0].Completed {
		t.Errorf("completed-wins dedup lost: surviving contact is not completed")
	}
	if contacts[0].Fields["name"] != "Ana" {
		t.Errorf("surviving fields = %v, want the completed submission's", contacts[0].Fields)
	}
}

func TestResolver_DedupLaterSubmissionWins(t *testing.T) {
	resolver, leads := newTestResolver(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedLead(t, leads, "u1", "11987654321", true, base, map[string]string{"plan": "basic"})
	seedLead(t, leads, "u1", "5511987654321", true, base.Add(time.Minute), map[string]string{"plan": "pro"})

	contacts, err := resolver.Resolve(ctx, "u1", "sms", domain.Targeting{Audience: domain.AudienceAll})
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("Resolve() returned %d contacts, want 1", len(contacts))
	}
	if contacts[0].Fields["plan"] != "pro" {
		t.Errorf("expected the later submission to win, got fields %v", contacts[0].Fields)
	}
}

func TestResolver_AudienceClasses(t *testing.T) {
	resolver, leads := newTestResolver(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedLead(t, leads, "u1", "11911111111", true, base, nil)
	seedLead(t, leads, "u1", "11922222222", false, base.Add(time.Minute), nil)

	completed, err := resolver.Resolve(ctx, "u1", "sms", domain.Targeting{Audience: domain.AudienceCompleted})
	if err != nil {
		t.Fatalf("Resolve(completed) unexpected error: %v", err)
	}
	if len(completed) != 1 || !completed[0].Completed {
		t.Errorf("Resolve(completed) = %d contacts, want 1 completed", len(completed))
	}

	abandoned, err := resolver.Resolve(ctx, "u1", "sms", domain.Targeting{Audience: domain.AudienceAbandoned})
	if err != nil {
		t.Fatalf("Resolve(abandoned) unexpected error: %v", err)
	}
	if len(abandoned) != 1 || abandoned[0].Completed {
		t.Errorf("Resolve(abandoned) = %d contacts, want 1 abandoned", len(abandoned))
	}
}

func TestResolver_FieldFilter(t *testing.T) {
	resolver, leads := newTestResolver(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedLead(t, leads, "u1", "11911111111", true, base, map[string]string{"city": "sp"})
	seedLead(t, leads, "u1", "11922222222", true, base, map[string]string{"city": "rj"})

	matched, err := resolver.Resolve(ctx, "u1", "sms", domain.Targeting{
		Audience: domain.AudienceAll, FieldKey: "city", FieldValue: "sp",
	})
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("field filter matched %d contacts, want 1", len(matched))
	}

	// A filter on a field no lead has is an empty audience, not an error.
	none, err := resolver.Resolve(ctx, "u1", "sms", domain.Targeting{
		Audience: domain.AudienceAll, FieldKey: "does_not_exist", FieldValue: "x",
	})
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("filter on unknown field matched %d contacts, want 0", len(none))
	}
}

func TestResolver_InvalidContactsFlagged(t *testing.T) {
	resolver, leads := newTestResolver(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedLead(t, leads, "u1", "not-a-phone", true, base, nil)
	seedLead(t, leads, "u1", "11987654321", true, base, nil)

	contacts, err := resolver.Resolve(ctx, "u1", "whatsapp", domain.Targeting{Audience: domain.AudienceAll})
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("Resolve() returned %d contacts, want 2", len(contacts))
	}

	invalid := 0
	for _, contact := range contacts {
		if contact.Invalid {
			invalid++
		}
	}
	if invalid != 1 {
		t.Errorf("flagged %d invalid contacts, want 1", invalid)
	}
}

func TestResolver_IncrementalCursor(t *testing.T) {
	resolver, leads := newTestResolver(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	targeting := domain.Targeting{Audience: domain.AudienceAll}

	seedLead(t, leads, "u1", "11911111111", true, base, nil)
	seedLead(t, leads, "u1", "11922222222", true, base.Add(time.Minute), nil)

	contacts, observed, err := resolver.ResolveSince(ctx, "u1", "camp-1", "sms", targeting)
	if err != nil {
		t.Fatalf("ResolveSince() unexpected error: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("first pass returned %d contacts, want 2", len(contacts))
	}
	if !observed.Equal(base.Add(time.Minute)) {
		t.Errorf("observed watermark = %v, want %v", observed, base.Add(time.Minute))
	}

	if err := resolver.AdvanceCursor(ctx, "u1", "camp-1", observed); err != nil {
		t.Fatalf("AdvanceCursor() unexpected error: %v", err)
	}

	// Same leads again: the cursor excludes them, exactly-once delivery.
	contacts, _, err = resolver.ResolveSince(ctx, "u1", "camp-1", "sms", targeting)
	if err != nil {
		t.Fatalf("ResolveSince() unexpected error: %v", err)
	}
	if len(contacts) != 0 {
		t.Fatalf("second pass returned %d contacts, want 0", len(contacts))
	}

	// A new lead after the watermark is picked up.
	seedLead(t, leads, "u1", "11933333333", false, base.Add(2*time.Minute), nil)
	contacts, observed, err = resolver.ResolveSince(ctx, "u1", "camp-1", "sms", targeting)
	if err != nil {
		t.Fatalf("ResolveSince() unexpected error: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("third pass returned %d contacts, want 1", len(contacts))
	}

	// The cursor never moves backwards.
	if err := resolver.AdvanceCursor(ctx, "u1", "camp-1", observed); err != nil {
		t.Fatalf("AdvanceCursor() unexpected error: %v", err)
	}
	if err := resolver.AdvanceCursor(ctx, "u1", "camp-1", base); err != nil {
		t.Fatalf("AdvanceCursor() with stale watermark unexpected error: %v", err)
	}
	cursor, err := resolver.Cursor(ctx, "u1", "camp-1")
	if err != nil {
		t.Fatalf("Cursor() unexpected error: %v", err)
	}
	if !cursor.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("cursor = %v, want %v", cursor, base.Add(2*time.Minute))
	}
}

func TestResolver_TenantsIsolated(t *testing.T) {
	resolver, leads := newTestResolver(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedLead(t, leads, "u1", "11911111111", true, base, nil)
	seedLead(t, leads, "u2", "11922222222", true, base, nil)

	contacts, err := resolver.Resolve(ctx, "u1", "sms", domain.Targeting{Audience: domain.AudienceAll})
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("Resolve() crossed tenants: %d contacts, want 1", len(contacts))
	}
}

func TestResolver_MergeRestoresSubmissionOrder(t *testing.T) {
	resolver, leads := newTestResolver(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// The first contact resubmits completed after another contact's
	// submission. The merge keeps the later record, but the result must
	// still come back ordered by submission time.
	seedLead(t, leads, "u1", "11911111111", false, base, nil)
	seedLead(t, leads, "u1", "11922222222", true, base.Add(time.Minute), nil)
	seedLead(t, leads, "u1", "11911111111", true, base.Add(2*time.Minute), nil)

	contacts, err := resolver.Resolve(ctx, "u1", "whatsapp", domain.Targeting{Audience: domain.AudienceAll})
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("Resolve() = %d contacts, want 2", len(contacts))
	}
	if contacts[0].Identity != "5511922222222" || contacts[1].Identity != "5511911111111" {
		t.Errorf("order = [%s %s], want the merged contact sorted to its later slot",
			contacts[0].Identity, contacts[1].Identity)
	}
	if !contacts[1].Completed || !contacts[1].SubmittedAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("merged contact = %+v, want the completed resubmission", contacts[1])
	}
}
