package application

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	audienceApp "github.com/leadpulse/engine/audience/application"
	audienceDomain "github.com/leadpulse/engine/audience/domain"
	audienceRepo "github.com/leadpulse/engine/audience/repository"
	"github.com/leadpulse/engine/campaign/domain"
	"github.com/leadpulse/engine/campaign/repository"
	"github.com/leadpulse/engine/core/config"
	creditsApp "github.com/leadpulse/engine/credits/application"
	creditsRepo "github.com/leadpulse/engine/credits/repository"
	dispatchDomain "github.com/leadpulse/engine/dispatch/domain"
	dispatchRepo "github.com/leadpulse/engine/dispatch/repository"
	"github.com/leadpulse/engine/pkg/dispatchpool"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type dispatchTestEngine struct {
	scheduler *DispatchScheduler
	campaigns domain.ICampaignRepository
	settings  domain.ISettingsRepository
	leads     audienceDomain.ILeadRepository
	resolver  *audienceApp.Resolver
	ledger    *creditsApp.LedgerService
	dispatch  dispatchDomain.IDispatchRepository
}

func newDispatchTestEngine(t *testing.T) *dispatchTestEngine {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "scheduler_test.db")
	db, err := gorm.Open(sqlite.Open("file:"+dbPath+"?_journal_mode=WAL&_foreign_keys=on"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	ctx := context.Background()
	campaigns := repository.NewCampaignGormRepository(db)
	settings := repository.NewSettingsGormRepository(db)
	leads := audienceRepo.NewLeadGormRepository(db)
	cursors := audienceRepo.NewCursorGormRepository(db)
	ledgerRepo := creditsRepo.NewLedgerGormRepository(db)
	dispatch := dispatchRepo.NewDispatchGormRepository(db)
	for _, init := range []func(context.Context) error{
		campaigns.Init, settings.Init, leads.Init, cursors.Init, ledgerRepo.Init, dispatch.Init,
	} {
		if err := init(ctx); err != nil {
			t.Fatalf("failed to init schema: %v", err)
		}
	}

	resolver := audienceApp.NewResolver(leads, cursors, "55")
	ledger := creditsApp.NewLedgerService(ledgerRepo)
	governor := NewGovernor(settings, dispatch, config.GovernorConfig{
		DelayMin: time.Second,
		DelayMax: 2 * time.Second,
		DailyCap: 1000,
	})
	pool := dispatchpool.NewPool(2, 32)
	pool.Start(ctx)
	t.Cleanup(pool.Stop)

	scheduler := NewDispatchScheduler(
		campaigns, resolver, ledger, governor, NewComposer(), dispatch, NewLogNotifier(), pool,
		config.DispatchConfig{TickInterval: 30 * time.Second, MaxCampaignsPerTick: 10, MaxContactsPerCampaign: 50},
		config.SyncConfig{AckTimeout: 10 * time.Minute, SweepInterval: 2 * time.Minute},
	)

	return &dispatchTestEngine{
		scheduler: scheduler,
		campaigns: campaigns,
		settings:  settings,
		leads:     leads,
		resolver:  resolver,
		ledger:    ledger,
		dispatch:  dispatch,
	}
}

func (e *dispatchTestEngine) seedLead(t *testing.T, userID, contact string, completed bool, submittedAt time.Time) {
	t.Helper()
	err := e.leads.Create(context.Background(), audienceDomain.Lead{
		ID:          uuid.NewString(),
		UserID:      userID,
		QuizID:      "quiz-1",
		RawContact:  contact,
		Fields:      map[string]string{"name": "Lead"},
		Completed:   completed,
		SubmittedAt: submittedAt,
		CreatedAt:   submittedAt,
	})
	if err != nil {
		t.Fatalf("failed to seed lead: %v", err)
	}
}

func (e *dispatchTestEngine) createCampaign(t *testing.T, c domain.Campaign) domain.Campaign {
	t.Helper()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.StatusActive
	}
	if c.Targeting.Audience == "" {
		c.Targeting.Audience = audienceDomain.AudienceAll
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := e.campaigns.Create(context.Background(), c); err != nil {
		t.Fatalf("failed to create campaign: %v", err)
	}
	return c
}

func (e *dispatchTestEngine) stats(t *testing.T, campaignID string) dispatchDomain.Stats {
	t.Helper()
	stats, err := e.dispatch.CountByCampaign(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("failed to count records: %v", err)
	}
	return stats
}

func TestScheduler_TickEnqueuesPending(t *testing.T) {
	e := newDispatchTestEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	e.seedLead(t, "u1", "11911111111", true, base)
	e.seedLead(t, "u1", "11922222222", false, base.Add(time.Minute))
	e.seedLead(t, "u1", "11933333333", true, base.Add(2*time.Minute))
	_, _ = e.ledger.TopUp(ctx, "u1", "whatsapp", 10, "")

	c := e.createCampaign(t, domain.Campaign{
		UserID:   "u1",
		Name:     "launch",
		Channel:  domain.ChannelWhatsApp,
		Variants: []string{"Hi {name} A", "Hi {name} B"},
		Trigger:  domain.TriggerSpec{Type: domain.TriggerImmediate},
	})

	e.scheduler.RunTick(ctx)

	stats := e.stats(t, c.ID)
	if stats.Pending != 3 || stats.Total != 3 {
		t.Fatalf("stats = %+v, want 3 pending", stats)
	}

	balance, _ := e.ledger.Balance(ctx, "u1", "whatsapp")
	if balance != 7 {
		t.Errorf("balance after tick = %d, want 7", balance)
	}

	// Rotation cursor persisted: 3 sends over 2 variants leaves it at 1.
	stored, err := e.campaigns.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetByID() unexpected error: %v", err)
	}
	if stored.NextVariant != 1 {
		t.Errorf("NextVariant = %d, want 1", stored.NextVariant)
	}
}

func TestScheduler_TickIsIdempotent(t *testing.T) {
	e := newDispatchTestEngine(t)
	ctx := context.Background()

	e.seedLead(t, "u1", "11911111111", true, time.Now().UTC().Add(-time.Hour))
	_, _ = e.ledger.TopUp(ctx, "u1", "sms", 10, "")

	c := e.createCampaign(t, domain.Campaign{
		UserID:   "u1",
		Channel:  domain.ChannelSMS,
		Variants: []string{"hello"},
		Trigger:  domain.TriggerSpec{Type: domain.TriggerImmediate},
	})

	e.scheduler.RunTick(ctx)
	e.scheduler.RunTick(ctx)
	e.scheduler.RunTick(ctx)

	stats := e.stats(t, c.ID)
	if stats.Total != 1 {
		t.Fatalf("re-running ticks duplicated records: total = %d, want 1", stats.Total)
	}
	balance, _ := e.ledger.Balance(ctx, "u1", "sms")
	if balance != 9 {
		t.Errorf("balance = %d, want 9 (credits charged once)", balance)
	}
}

// Ten fresh leads against a daily cap of two: exactly two records are
// created, the rest defer without pausing the campaign.
func TestScheduler_DailyCapDefers(t *testing.T) {
	e := newDispatchTestEngine(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	err := e.settings.Save(ctx, domain.ChannelSettings{
		UserID:   "u1",
		Channel:  domain.ChannelWhatsApp,
		DelayMin: time.Second,
		DelayMax: 2 * time.Second,
		DailyCap: 2,
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	for i := 0; i < 10; i++ {
		e.seedLead(t, "u1", "1191111"+string(rune('0'+i))+"000", true, base.Add(time.Duration(i)*time.Minute))
	}
	_, _ = e.ledger.TopUp(ctx, "u1", "whatsapp", 100, "")

	c := e.createCampaign(t, domain.Campaign{
		UserID:   "u1",
		Channel:  domain.ChannelWhatsApp,
		Variants: []string{"a", "b", "c"},
		Trigger:  domain.TriggerSpec{Type: domain.TriggerImmediate},
	})

	e.scheduler.RunTick(ctx)

	stats := e.stats(t, c.ID)
	if stats.Total != 2 {
		t.Fatalf("total records = %d, want 2 (daily cap)", stats.Total)
	}

	stored, _ := e.campaigns.GetByID(ctx, c.ID)
	if stored.Status != domain.StatusActive {
		t.Errorf("campaign status = %s, want active (cap is backpressure, not failure)", stored.Status)
	}

	balance, _ := e.ledger.Balance(ctx, "u1", "whatsapp")
	if balance != 98 {
		t.Errorf("balance = %d, want 98 (only created records charged)", balance)
	}
}

func TestScheduler_InsufficientCreditsPauses(t *testing.T) {
	e := newDispatchTestEngine(t)
	ctx := context.Background()

	e.seedLead(t, "u1", "11911111111", true, time.Now().UTC().Add(-time.Hour))

	c := e.createCampaign(t, domain.Campaign{
		UserID:   "u1",
		Channel:  domain.ChannelWhatsApp,
		Variants: []string{"hello"},
		Trigger:  domain.TriggerSpec{Type: domain.TriggerImmediate},
	})

	e.scheduler.RunTick(ctx)

	stats := e.stats(t, c.ID)
	if stats.Total != 0 {
		t.Fatalf("records created with zero balance: %d", stats.Total)
	}
	stored, _ := e.campaigns.GetByID(ctx, c.ID)
	if stored.Status != domain.StatusPaused || stored.PauseReason != domain.PauseReasonInsufficientCredits {
		t.Errorf("campaign = %s/%s, want paused/insufficient_credits", stored.Status, stored.PauseReason)
	}
}

func TestScheduler_PartialCreditsEnqueueThenPause(t *testing.T) {
	e := newDispatchTestEngine(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		e.seedLead(t, "u1", "1192222"+string(rune('0'+i))+"000", true, base.Add(time.Duration(i)*time.Minute))
	}
	_, _ = e.ledger.TopUp(ctx, "u1", "whatsapp", 2, "")

	c := e.createCampaign(t, domain.Campaign{
		UserID:   "u1",
		Channel:  domain.ChannelWhatsApp,
		Variants: []string{"hello"},
		Trigger:  domain.TriggerSpec{Type: domain.TriggerImmediate},
	})

	e.scheduler.RunTick(ctx)

	stats := e.stats(t, c.ID)
	if stats.Total != 2 {
		t.Fatalf("total records = %d, want 2 (granted part of the hold)", stats.Total)
	}
	stored, _ := e.campaigns.GetByID(ctx, c.ID)
	if stored.Status != domain.StatusPaused || stored.PauseReason != domain.PauseReasonInsufficientCredits {
		t.Errorf("campaign = %s/%s, want paused/insufficient_credits", stored.Status, stored.PauseReason)
	}
	balance, _ := e.ledger.Balance(ctx, "u1", "whatsapp")
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestScheduler_InvalidIdentityIsolated(t *testing.T) {
	e := newDispatchTestEngine(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	e.seedLead(t, "u1", "completely-bogus", true, base)
	e.seedLead(t, "u1", "11911111111", true, base.Add(time.Minute))
	e.seedLead(t, "u1", "11922222222", true, base.Add(2*time.Minute))
	_, _ = e.ledger.TopUp(ctx, "u1", "whatsapp", 10, "")

	c := e.createCampaign(t, domain.Campaign{
		UserID:   "u1",
		Channel:  domain.ChannelWhatsApp,
		Variants: []string{"hello"},
		Trigger:  domain.TriggerSpec{Type: domain.TriggerImmediate},
	})

	e.scheduler.RunTick(ctx)

	stats := e.stats(t, c.ID)
	if stats.Failed != 1 {
		t.Errorf("failed records = %d, want 1 (invalid identity)", stats.Failed)
	}
	if stats.Pending != 2 {
		t.Errorf("pending records = %d, want 2", stats.Pending)
	}

	// Invalid contacts never consume credits.
	balance, _ := e.ledger.Balance(ctx, "u1", "whatsapp")
	if balance != 8 {
		t.Errorf("balance = %d, want 8", balance)
	}
}

func TestScheduler_DelayedTriggerWaits(t *testing.T) {
	e := newDispatchTestEngine(t)
	ctx := context.Background()

	e.seedLead(t, "u1", "11911111111", true, time.Now().UTC().Add(-time.Hour))
	_, _ = e.ledger.TopUp(ctx, "u1", "sms", 10, "")

	c := e.createCampaign(t, domain.Campaign{
		UserID:   "u1",
		Channel:  domain.ChannelSMS,
		Variants: []string{"hello"},
		Trigger:  domain.TriggerSpec{Type: domain.TriggerDelayed, Delay: time.Hour},
	})

	e.scheduler.RunTick(ctx)

	if stats := e.stats(t, c.ID); stats.Total != 0 {
		t.Fatalf("delayed campaign dispatched before its delay elapsed: %d records", stats.Total)
	}
	stored, _ := e.campaigns.GetByID(ctx, c.ID)
	if stored.Status != domain.StatusActive {
		t.Errorf("campaign status = %s, want active", stored.Status)
	}
}

func TestScheduler_CompletesWhenExhausted(t *testing.T) {
	e := newDispatchTestEngine(t)
	ctx := context.Background()

	e.seedLead(t, "u1", "11911111111", true, time.Now().UTC().Add(-time.Hour))
	_, _ = e.ledger.TopUp(ctx, "u1", "whatsapp", 10, "")

	c := e.createCampaign(t, domain.Campaign{
		UserID:   "u1",
		Channel:  domain.ChannelWhatsApp,
		Variants: []string{"hello"},
		Trigger:  domain.TriggerSpec{Type: domain.TriggerImmediate},
	})

	e.scheduler.RunTick(ctx)
	if stats := e.stats(t, c.ID); stats.Pending != 1 {
		t.Fatalf("stats = %+v, want 1 pending", stats)
	}

	// Audience exhausted but a record is still in flight: not complete yet.
	e.scheduler.RunTick(ctx)
	stored, _ := e.campaigns.GetByID(ctx, c.ID)
	if stored.Status != domain.StatusActive {
		t.Fatalf("campaign completed with a non-terminal record, status = %s", stored.Status)
	}

	// Deliver the record, then the next tick closes the campaign.
	leased, err := e.dispatch.LeaseBatch(ctx, "u1", "whatsapp", time.Now().UTC().Add(time.Minute), 10)
	if err != nil || len(leased) != 1 {
		t.Fatalf("LeaseBatch() = %d records, err %v", len(leased), err)
	}
	if err := e.dispatch.ApplyOutcome(ctx, "u1", leased[0].LogID, dispatchDomain.StatusDelivered, "", time.Now().UTC()); err != nil {
		t.Fatalf("ApplyOutcome() unexpected error: %v", err)
	}

	e.scheduler.RunTick(ctx)
	stored, _ = e.campaigns.GetByID(ctx, c.ID)
	if stored.Status != domain.StatusCompleted {
		t.Errorf("campaign status = %s, want completed", stored.Status)
	}
}

func TestScheduler_ContinuousAdvancesCursor(t *testing.T) {
	e := newDispatchTestEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	e.seedLead(t, "u1", "11911111111", true, base)
	e.seedLead(t, "u1", "11922222222", true, base.Add(time.Minute))
	_, _ = e.ledger.TopUp(ctx, "u1", "whatsapp", 10, "")

	c := e.createCampaign(t, domain.Campaign{
		UserID:   "u1",
		Channel:  domain.ChannelWhatsApp,
		Variants: []string{"hello"},
		Trigger:  domain.TriggerSpec{Type: domain.TriggerContinuous},
	})

	e.scheduler.RunTick(ctx)
	if stats := e.stats(t, c.ID); stats.Total != 2 {
		t.Fatalf("first tick enqueued %d records, want 2", stats.Total)
	}

	cursor, err := e.resolver.Cursor(ctx, "u1", c.ID)
	if err != nil {
		t.Fatalf("Cursor() unexpected error: %v", err)
	}
	if !cursor.Equal(base.Add(time.Minute)) {
		t.Errorf("cursor = %v, want %v", cursor, base.Add(time.Minute))
	}

	// New submission after the watermark gets picked up on the next tick.
	e.seedLead(t, "u1", "11933333333", false, base.Add(2*time.Minute))
	e.scheduler.RunTick(ctx)
	if stats := e.stats(t, c.ID); stats.Total != 3 {
		t.Fatalf("second tick total = %d, want 3", stats.Total)
	}

	// Continuous campaigns never auto-complete.
	e.scheduler.RunTick(ctx)
	stored, _ := e.campaigns.GetByID(ctx, c.ID)
	if stored.Status != domain.StatusActive {
		t.Errorf("continuous campaign status = %s, want active", stored.Status)
	}
}

// A deferred contact must not be skipped forever: the cursor stops at the
// last handled contact, so the remainder resurfaces once credits return.
func TestScheduler_ContinuousCursorStopsAtDeferred(t *testing.T) {
	e := newDispatchTestEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	e.seedLead(t, "u1", "11911111111", true, base)
	e.seedLead(t, "u1", "11922222222", true, base.Add(time.Minute))
	_, _ = e.ledger.TopUp(ctx, "u1", "whatsapp", 1, "")

	c := e.createCampaign(t, domain.Campaign{
		UserID:   "u1",
		Channel:  domain.ChannelWhatsApp,
		Variants: []string{"hello"},
		Trigger:  domain.TriggerSpec{Type: domain.TriggerContinuous},
	})

	e.scheduler.RunTick(ctx)
	if stats := e.stats(t, c.ID); stats.Total != 1 {
		t.Fatalf("first tick total = %d, want 1 (single credit)", stats.Total)
	}

	cursor, _ := e.resolver.Cursor(ctx, "u1", c.ID)
	if !cursor.Equal(base) {
		t.Fatalf("cursor = %v, want %v (must not jump past the deferred contact)", cursor, base)
	}

	// Refill and resume; the second contact is still reachable.
	_, _ = e.ledger.TopUp(ctx, "u1", "whatsapp", 5, "")
	stored, _ := e.campaigns.GetByID(ctx, c.ID)
	stored.Status = domain.StatusActive
	stored.PauseReason = ""
	if err := e.campaigns.Update(ctx, stored); err != nil {
		t.Fatalf("Update() unexpected error: %v", err)
	}

	e.scheduler.RunTick(ctx)
	if stats := e.stats(t, c.ID); stats.Total != 2 {
		t.Fatalf("after refill total = %d, want 2", stats.Total)
	}
}

// A completed resubmission merges over an earlier partial of the same
// contact and carries the later timestamp. That merged contact must not drag
// the cursor past another contact deferred in the same batch.
func TestScheduler_ContinuousMergedResubmissionKeepsDeferredContact(t *testing.T) {
	e := newDispatchTestEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	e.seedLead(t, "u1", "11911111111", false, base)
	e.seedLead(t, "u1", "11922222222", true, base.Add(time.Minute))
	e.seedLead(t, "u1", "11911111111", true, base.Add(2*time.Minute))
	_, _ = e.ledger.TopUp(ctx, "u1", "whatsapp", 1, "")

	c := e.createCampaign(t, domain.Campaign{
		UserID:   "u1",
		Channel:  domain.ChannelWhatsApp,
		Variants: []string{"hello"},
		Trigger:  domain.TriggerSpec{Type: domain.TriggerContinuous},
	})

	// One credit handles only the earliest contact in submission order. The
	// resubmitted contact sorts to its later slot, so the cursor must stop
	// at the handled contact's timestamp.
	e.scheduler.RunTick(ctx)
	if stats := e.stats(t, c.ID); stats.Total != 1 {
		t.Fatalf("first tick total = %d, want 1 (single credit)", stats.Total)
	}

	cursor, _ := e.resolver.Cursor(ctx, "u1", c.ID)
	if !cursor.Equal(base.Add(time.Minute)) {
		t.Fatalf("cursor = %v, want %v (merged contact must not drag it forward)",
			cursor, base.Add(time.Minute))
	}

	_, _ = e.ledger.TopUp(ctx, "u1", "whatsapp", 5, "")
	stored, _ := e.campaigns.GetByID(ctx, c.ID)
	stored.Status = domain.StatusActive
	stored.PauseReason = ""
	if err := e.campaigns.Update(ctx, stored); err != nil {
		t.Fatalf("Update() unexpected error: %v", err)
	}

	e.scheduler.RunTick(ctx)
	if stats := e.stats(t, c.ID); stats.Total != 2 {
		t.Fatalf("after refill total = %d, want 2 (deferred contact lost)", stats.Total)
	}
}
