package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leadpulse/engine/credits/domain"
	"github.com/sirupsen/logrus"
)

// LedgerService enforces the prepaid credit contract: reservations are taken
// before any dispatch record exists and the balance can never go negative.
// Reservation and balance math for one user/channel are serialized through a
// per-key mutex so concurrent dispatch cycles cannot overdraw.
type LedgerService struct {
	repo  domain.ILedgerRepository
	locks sync.Map // userID|channel -> *sync.Mutex
}

func NewLedgerService(repo domain.ILedgerRepository) *LedgerService {
	return &LedgerService{repo: repo}
}

func (s *LedgerService) lock(userID, channel string) *sync.Mutex {
	key := userID + "|" + channel
	mu, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Balance is the sum of ledger deltas minus currently held reservations.
func (s *LedgerService) Balance(ctx context.Context, userID, channel string) (int64, error) {
	deltas, err := s.repo.SumDeltas(ctx, userID, channel)
	if err != nil {
		return 0, err
	}
	held, err := s.repo.SumHeld(ctx, userID, channel)
	if err != nil {
		return 0, err
	}
	return deltas - held, nil
}

// Reserve holds up to count credits. When the balance covers only part of
// the request the hold is taken for that part and granted < count signals
// the caller to pause the campaign after processing the granted contacts.
// A zero balance yields ErrInsufficientCredits and no reservation.
func (s *LedgerService) Reserve(ctx context.Context, userID, channel string, count int64) (domain.Reservation, int64, error) {
	if count <= 0 {
		return domain.Reservation{}, 0, nil
	}

	mu := s.lock(userID, channel)
	mu.Lock()
	defer mu.Unlock()

	balance, err := s.Balance(ctx, userID, channel)
	if err != nil {
		return domain.Reservation{}, 0, err
	}
	if balance <= 0 {
		return domain.Reservation{}, 0, domain.ErrInsufficientCredits
	}

	granted := count
	if balance < count {
		granted = balance
	}

	now := time.Now().UTC()
	res := domain.Reservation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Channel:   channel,
		Count:     granted,
		Status:    domain.ReservationHeld,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateReservation(ctx, res); err != nil {
		return domain.Reservation{}, 0, err
	}

	logrus.Debugf("[LEDGER] Reserved %d/%d credits for %s/%s", granted, count, userID, channel)
	return res, granted, nil
}

// Commit settles a reservation: used credits are debited as a ledger entry,
// the unused remainder of the hold is released.
func (s *LedgerService) Commit(ctx context.Context, reservationID string, used int64) error {
	res, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if res.Status != domain.ReservationHeld {
		return domain.ErrReservationClosed
	}

	mu := s.lock(res.UserID, res.Channel)
	mu.Lock()
	defer mu.Unlock()

	if used > res.Count {
		used = res.Count
	}
	if used > 0 {
		entry := domain.LedgerEntry{
			ID:        uuid.NewString(),
			UserID:    res.UserID,
			Channel:   res.Channel,
			Delta:     -used,
			Reason:    domain.ReasonDispatch,
			Ref:       res.ID,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.repo.CreateEntry(ctx, entry); err != nil {
			return err
		}
	}

	res.Status = domain.ReservationCommitted
	res.Count = used
	res.UpdatedAt = time.Now().UTC()
	return s.repo.UpdateReservation(ctx, res)
}

// Release drops a held reservation without debiting anything. Called when
// enqueueing failed after the hold was taken.
func (s *LedgerService) Release(ctx context.Context, reservationID string) error {
	res, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if res.Status != domain.ReservationHeld {
		return domain.ErrReservationClosed
	}

	mu := s.lock(res.UserID, res.Channel)
	mu.Lock()
	defer mu.Unlock()

	res.Status = domain.ReservationReleased
	res.UpdatedAt = time.Now().UTC()
	return s.repo.UpdateReservation(ctx, res)
}

// TopUp credits the balance (billing collaborator hook) and reports the new
// balance so the caller can resume campaigns paused on empty credits.
func (s *LedgerService) TopUp(ctx context.Context, userID, channel string, amount int64, ref string) (int64, error) {
	mu := s.lock(userID, channel)
	mu.Lock()

	entry := domain.LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Channel:   channel,
		Delta:     amount,
		Reason:    domain.ReasonTopUp,
		Ref:       ref,
		CreatedAt: time.Now().UTC(),
	}
	err := s.repo.CreateEntry(ctx, entry)
	mu.Unlock()
	if err != nil {
		return 0, err
	}

	logrus.Infof("[LEDGER] Top-up of %d credits for %s/%s", amount, userID, channel)
	return s.Balance(ctx, userID, channel)
}

// Statement returns the most recent ledger entries with the current balance.
func (s *LedgerService) Statement(ctx context.Context, userID, channel string, limit int) ([]domain.LedgerEntry, int64, error) {
	entries, err := s.repo.ListEntries(ctx, userID, channel, limit)
	if err != nil {
		return nil, 0, err
	}
	balance, err := s.Balance(ctx, userID, channel)
	if err != nil {
		return nil, 0, err
	}
	return entries, balance, nil
}
