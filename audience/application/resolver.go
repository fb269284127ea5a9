package application

import (
	"context"
	"sort"
	"time"

	"github.com/leadpulse/engine/audience/domain"
	"github.com/leadpulse/engine/pkg/identity"
	"github.com/sirupsen/logrus"
)

// Resolver turns a campaign's targeting spec into a deduplicated contact
// list. Identities are normalized before dedup so two raw representations of
// the same contact resolve to one identity; when duplicates collide, the
// most complete record wins (a completed response beats a partial one).
type Resolver struct {
	leads              domain.ILeadRepository
	cursors            domain.ICursorRepository
	defaultCountryCode string
}

func NewResolver(leads domain.ILeadRepository, cursors domain.ICursorRepository, defaultCountryCode string) *Resolver {
	return &Resolver{
		leads:              leads,
		cursors:            cursors,
		defaultCountryCode: defaultCountryCode,
	}
}

// Resolve runs a full resolution of the targeting spec. An empty result is
// not an error; a filter on a non-existent field just matches nothing.
func (r *Resolver) Resolve(ctx context.Context, userID, channel string, t domain.Targeting) ([]domain.Contact, error) {
	leads, err := r.leads.Query(ctx, userID, t)
	if err != nil {
		return nil, err
	}
	return r.dedup(leads, channel), nil
}

// ResolveSince runs an incremental resolution: only leads strictly newer
// than the campaign's cursor are considered. Returns the max submission
// timestamp actually observed so the caller can advance the cursor without
// being bitten by clock skew ("now" is never used as a watermark).
func (r *Resolver) ResolveSince(ctx context.Context, userID, campaignID, channel string, t domain.Targeting) ([]domain.Contact, time.Time, error) {
	cursor, err := r.cursors.Get(ctx, userID, campaignID)
	if err != nil {
		return nil, time.Time{}, err
	}

	leads, err := r.leads.QuerySince(ctx, userID, t, cursor.LastSyncAt)
	if err != nil {
		return nil, time.Time{}, err
	}

	maxObserved := cursor.LastSyncAt
	for _, lead := range leads {
		if lead.SubmittedAt.After(maxObserved) {
			maxObserved = lead.SubmittedAt
		}
	}
	return r.dedup(leads, channel), maxObserved, nil
}

// AdvanceCursor persists the watermark after a batch was fully handed over.
// The cursor is monotonic: an older timestamp never overwrites a newer one.
func (r *Resolver) AdvanceCursor(ctx context.Context, userID, campaignID string, observed time.Time) error {
	cursor, err := r.cursors.Get(ctx, userID, campaignID)
	if err != nil {
		return err
	}
	if !observed.After(cursor.LastSyncAt) {
		return nil
	}
	cursor.LastSyncAt = observed
	return r.cursors.Save(ctx, cursor)
}

// Cursor exposes the current watermark for a campaign.
func (r *Resolver) Cursor(ctx context.Context, userID, campaignID string) (time.Time, error) {
	cursor, err := r.cursors.Get(ctx, userID, campaignID)
	if err != nil {
		return time.Time{}, err
	}
	return cursor.LastSyncAt, nil
}

func (r *Resolver) dedup(leads []domain.Lead, channel string) []domain.Contact {
	byIdentity := make(map[string]int)
	var out []domain.Contact

	for _, lead := range leads {
		contact := domain.Contact{
			Raw:         lead.RawContact,
			Fields:      lead.Fields,
			Completed:   lead.Completed,
			SubmittedAt: lead.SubmittedAt,
		}

		norm, err := identity.Normalize(lead.RawContact, channel, r.defaultCountryCode)
		if err != nil {
			contact.Invalid = true
			contact.Identity = "invalid:" + lead.RawContact
			logrus.Debugf("[RESOLVER] Lead %s has unnormalizable contact %q", lead.ID, lead.RawContact)
		} else {
			contact.Identity = norm
		}

		idx, seen := byIdentity[contact.Identity]
		if !seen {
			byIdentity[contact.Identity] = len(out)
			out = append(out, contact)
			continue
		}

		// Keep the most complete record per identity.
		existing := out[idx]
		if betterContact(contact, existing) {
			out[idx] = contact
		}
	}

	// A merge can plant a later submission in an earlier slot. Cursor
	// advancement assumes submission order, so restore it: otherwise a
	// deferred contact behind a merged one would be skipped forever.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// betterContact decides which of two records for the same identity survives
// dedup: completed wins over partial, then the later submission wins.
func betterContact(a, b domain.Contact) bool {
	if a.Completed != b.Completed {
		return a.Completed
	}
	return a.SubmittedAt.After(b.SubmittedAt)
}
