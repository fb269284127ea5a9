package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationClosed   = errors.New("reservation already closed")
)

// Ledger entry reasons.
const (
	ReasonDispatch = "campaign_dispatch"
	ReasonTopUp    = "topup"
	ReasonAdjust   = "adjustment"
)

// LedgerEntry is one signed movement on a user's per-channel balance. The
// running balance is the sum of deltas and is never negative by invariant.
type LedgerEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Channel   string    `json:"channel"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	Ref       string    `json:"ref,omitempty"` // reservation or external reference
	CreatedAt time.Time `json:"created_at"`
}

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Reservation is a temporary hold against the balance, taken before any
// DispatchRecord is created and settled by Commit or Release.
type Reservation struct {
	ID        string
	UserID    string
	Channel   string
	Count     int64
	Status    ReservationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TopUpRequest is the wire shape for crediting a user's channel balance.
type TopUpRequest struct {
	Channel string `json:"channel"`
	Amount  int64  `json:"amount"`
	Ref     string `json:"ref,omitempty"`
}

type ILedgerRepository interface {
	Init(ctx context.Context) error
	CreateEntry(ctx context.Context, e LedgerEntry) error
	SumDeltas(ctx context.Context, userID, channel string) (int64, error)
	ListEntries(ctx context.Context, userID, channel string, limit int) ([]LedgerEntry, error)
	CreateReservation(ctx context.Context, r Reservation) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	UpdateReservation(ctx context.Context, r Reservation) error
	SumHeld(ctx context.Context, userID, channel string) (int64, error)
}
