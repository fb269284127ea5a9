package application

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leadpulse/engine/credits/domain"
	"github.com/leadpulse/engine/credits/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestLedger(t *testing.T) *LedgerService {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "ledger_test.db")
	db, err := gorm.Open(sqlite.Open("file:"+dbPath+"?_journal_mode=WAL&_foreign_keys=on"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	repo := repository.NewLedgerGormRepository(db)
	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("failed to init ledger schema: %v", err)
	}
	return NewLedgerService(repo)
}

func TestLedger_TopUpAndBalance(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()

	balance, err := svc.TopUp(ctx, "u1", "whatsapp", 100, "invoice-1")
	if err != nil {
		t.Fatalf("TopUp() unexpected error: %v", err)
	}
	if balance != 100 {
		t.Fatalf("TopUp() balance = %d, want 100", balance)
	}

	// Channels are metered independently.
	other, err := svc.Balance(ctx, "u1", "sms")
	if err != nil {
		t.Fatalf("Balance() unexpected error: %v", err)
	}
	if other != 0 {
		t.Errorf("Balance(sms) = %d, want 0", other)
	}
}

func TestLedger_ReserveCommitRelease(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()

	if _, err := svc.TopUp(ctx, "u1", "whatsapp", 10, ""); err != nil {
		t.Fatalf("TopUp() unexpected error: %v", err)
	}

	res, granted, err := svc.Reserve(ctx, "u1", "whatsapp", 4)
	if err != nil {
		t.Fatalf("Reserve() unexpected error: %v", err)
	}
	if granted != 4 {
		t.Fatalf("Reserve() granted = %d, want 4", granted)
	}

	// Held credits are not spendable.
	balance, _ := svc.Balance(ctx, "u1", "whatsapp")
	if balance != 6 {
		t.Fatalf("Balance() during hold = %d, want 6", balance)
	}

	// Commit fewer than held: the unused remainder returns to the balance.
	if err := svc.Commit(ctx, res.ID, 3); err != nil {
		t.Fatalf("Commit() unexpected error: %v", err)
	}
	balance, _ = svc.Balance(ctx, "u1", "whatsapp")
	if balance != 7 {
		t.Fatalf("Balance() after commit = %d, want 7", balance)
	}

	// A settled reservation cannot be settled again.
	if err := svc.Commit(ctx, res.ID, 1); err != domain.ErrReservationClosed {
		t.Errorf("Commit() on closed reservation = %v, want ErrReservationClosed", err)
	}
	if err := svc.Release(ctx, res.ID); err != domain.ErrReservationClosed {
		t.Errorf("Release() on closed reservation = %v, want ErrReservationClosed", err)
	}
}

func TestLedger_ReleaseRestoresBalance(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()

	_, _ = svc.TopUp(ctx, "u1", "sms", 5, "")
	res, _, err := svc.Reserve(ctx, "u1", "sms", 5)
	if err != nil {
		t.Fatalf("Reserve() unexpected error: %v", err)
	}

	if err := svc.Release(ctx, res.ID); err != nil {
		t.Fatalf("Release() unexpected error: %v", err)
	}
	balance, _ := svc.Balance(ctx, "u1", "sms")
	if balance != 5 {
		t.Errorf("Balance() after release = %d, want 5", balance)
	}
}

func TestLedger_PartialGrant(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()

	_, _ = svc.TopUp(ctx, "u1", "whatsapp", 3, "")

	_, granted, err := svc.Reserve(ctx, "u1", "whatsapp", 10)
	if err != nil {
		t.Fatalf("Reserve() unexpected error: %v", err)
	}
	if granted != 3 {
		t.Errorf("Reserve() granted = %d, want 3", granted)
	}
}

func TestLedger_InsufficientCredits(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()

	if _, _, err := svc.Reserve(ctx, "broke", "sms", 1); err != domain.ErrInsufficientCredits {
		t.Fatalf("Reserve() with empty balance = %v, want ErrInsufficientCredits", err)
	}

	// Drain the balance fully, then try again.
	_, _ = svc.TopUp(ctx, "broke", "sms", 2, "")
	res, _, err := svc.Reserve(ctx, "broke", "sms", 2)
	if err != nil {
		t.Fatalf("Reserve() unexpected error: %v", err)
	}
	if err := svc.Commit(ctx, res.ID, 2); err != nil {
		t.Fatalf("Commit() unexpected error: %v", err)
	}

	if _, _, err := svc.Reserve(ctx, "broke", "sms", 1); err != domain.ErrInsufficientCredits {
		t.Errorf("Reserve() after drain = %v, want ErrInsufficientCredits", err)
	}
}

// Concurrent reservations for the same user/channel must never hand out more
// credits than the balance holds.
func TestLedger_ConcurrentReserveNoOverdraw(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()

	_, _ = svc.TopUp(ctx, "u1", "whatsapp", 10, "")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, granted, err := svc.Reserve(ctx, "u1", "whatsapp", 3)
			if err != nil && err != domain.ErrInsufficientCredits {
				t.Errorf("Reserve() unexpected error: %v", err)
				return
			}
			mu.Lock()
			total += granted
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total > 10 {
		t.Fatalf("concurrent reserves granted %d credits from a balance of 10", total)
	}
	balance, _ := svc.Balance(ctx, "u1", "whatsapp")
	if balance < 0 {
		t.Fatalf("balance went negative: %d", balance)
	}
}

func TestLedger_Statement(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()

	_, _ = svc.TopUp(ctx, "u1", "email", 50, "invoice-9")
	res, _, _ := svc.Reserve(ctx, "u1", "email", 10)
	_ = svc.Commit(ctx, res.ID, 10)

	entries, balance, err := svc.Statement(ctx, "u1", "email", 10)
	if err != nil {
		t.Fatalf("Statement() unexpected error: %v", err)
	}
	if balance != 40 {
		t.Errorf("Statement() balance = %d, want 40", balance)
	}
	if len(entries) != 2 {
		t.Fatalf("Statement() returned %d entries, want 2", len(entries))
	}
}
