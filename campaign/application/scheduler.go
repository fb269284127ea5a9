package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	audienceApp "github.com/leadpulse/engine/audience/application"
	audienceDomain "github.com/leadpulse/engine/audience/domain"
	"github.com/leadpulse/engine/campaign/domain"
	"github.com/leadpulse/engine/core/config"
	creditsApp "github.com/leadpulse/engine/credits/application"
	creditsDomain "github.com/leadpulse/engine/credits/domain"
	dispatchDomain "github.com/leadpulse/engine/dispatch/domain"
	"github.com/leadpulse/engine/pkg/dispatchpool"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DispatchScheduler drives the recurring dispatch cycle: it scans active
// campaigns, resolves their due audience delta, admits contacts through the
// governor and the credit ledger, composes messages and enqueues pending
// dispatch records. Every unit of work (one campaign, one contact) fails in
// isolation; a tick never aborts wholesale.
//
// All dependencies are injected so tests can drive ticks manually.
type DispatchScheduler struct {
	campaigns domain.ICampaignRepository
	resolver  *audienceApp.Resolver
	ledger    *creditsApp.LedgerService
	governor  *Governor
	composer  *Composer
	dispatch  dispatchDomain.IDispatchRepository
	notifier  domain.INotifier
	pool      *dispatchpool.Pool

	cfg        config.DispatchConfig
	ackTimeout time.Duration
	sweepEvery time.Duration

	runner *cron.Cron
}

func NewDispatchScheduler(
	campaigns domain.ICampaignRepository,
	resolver *audienceApp.Resolver,
	ledger *creditsApp.LedgerService,
	governor *Governor,
	composer *Composer,
	dispatch dispatchDomain.IDispatchRepository,
	notifier domain.INotifier,
	pool *dispatchpool.Pool,
	cfg config.DispatchConfig,
	syncCfg config.SyncConfig,
) *DispatchScheduler {
	return &DispatchScheduler{
		campaigns:  campaigns,
		resolver:   resolver,
		ledger:     ledger,
		governor:   governor,
		composer:   composer,
		dispatch:   dispatch,
		notifier:   notifier,
		pool:       pool,
		cfg:        cfg,
		ackTimeout: syncCfg.AckTimeout,
		sweepEvery: syncCfg.SweepInterval,
	}
}

// StartLoop registers the recurring tick and the timeout sweep and starts
// the background runner. Stop() drains it.
func (s *DispatchScheduler) StartLoop(ctx context.Context) error {
	s.runner = cron.New()

	if _, err := s.runner.AddFunc("@every "+s.cfg.TickInterval.String(), func() {
		s.RunTick(ctx)
	}); err != nil {
		return err
	}
	if _, err := s.runner.AddFunc("@every "+s.sweepEvery.String(), func() {
		s.RunSweep(ctx)
	}); err != nil {
		return err
	}

	s.runner.Start()
	logrus.Infof("[SCHEDULER] Dispatch loop started (tick %s, sweep %s)", s.cfg.TickInterval, s.sweepEvery)
	return nil
}

func (s *DispatchScheduler) Stop() {
	if s.runner != nil {
		<-s.runner.Stop().Done()
		logrus.Info("[SCHEDULER] Dispatch loop stopped")
	}
}

// RunTick executes one dispatch cycle. Each due campaign becomes one pool
// job, sharded by owner, so two campaigns of the same user never race on the
// daily-cap count or the credit ledger. A full worker queue is backpressure:
// the campaign simply waits for the next tick.
func (s *DispatchScheduler) RunTick(ctx context.Context) {
	campaigns, err := s.campaigns.ListByStatus(ctx, domain.StatusActive, s.cfg.MaxCampaignsPerTick)
	if err != nil {
		logrus.WithError(err).Error("[SCHEDULER] Failed to list active campaigns")
		return
	}
	if len(campaigns) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, c := range campaigns {
		c := c
		wg.Add(1)
		ok := s.pool.TryDispatch(dispatchpool.Job{
			UserID:     c.UserID,
			CampaignID: c.ID,
			Handler: func(jobCtx context.Context) error {
				defer wg.Done()
				s.processCampaign(jobCtx, c)
				return nil
			},
		})
		if !ok {
			wg.Done()
		}
	}
	wg.Wait()
}

// RunSweep fails every sent record whose acknowledgement window elapsed. The
// external agent is assumed unreliable; this is the recovery path for leased
// batches that were never reported.
func (s *DispatchScheduler) RunSweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.ackTimeout)
	n, err := s.dispatch.SweepTimeouts(ctx, cutoff)
	if err != nil {
		logrus.WithError(err).Error("[SCHEDULER] Timeout sweep failed")
		return
	}
	if n > 0 {
		logrus.Warnf("[SCHEDULER] Timeout sweep failed %d unacknowledged records", n)
	}
}

func (s *DispatchScheduler) processCampaign(ctx context.Context, c domain.Campaign) {
	now := time.Now().UTC()
	if !c.Due(now) {
		return
	}

	continuous := c.Trigger.Type == domain.TriggerContinuous

	var (
		contacts []audienceDomain.Contact
		err      error
	)
	if continuous {
		contacts, _, err = s.resolver.ResolveSince(ctx, c.UserID, c.ID, string(c.Channel), c.Targeting)
	} else {
		contacts, err = s.resolver.Resolve(ctx, c.UserID, string(c.Channel), c.Targeting)
	}
	if err != nil {
		logrus.WithError(err).Errorf("[SCHEDULER] Audience resolution failed for campaign %s", c.ID)
		return
	}

	// Drop pairs that were already enqueued at some point. A resync that
	// re-offers a processed contact must be a no-op.
	fresh := contacts[:0:0]
	for _, contact := range contacts {
		exists, err := s.dispatch.ExistsForContact(ctx, c.ID, contact.Identity)
		if err != nil {
			logrus.WithError(err).Errorf("[SCHEDULER] Dedup lookup failed for campaign %s", c.ID)
			return
		}
		if !exists {
			fresh = append(fresh, contact)
		}
	}

	if len(fresh) == 0 {
		if continuous {
			// Nothing new; the cursor only moves when contacts are handled.
			return
		}
		s.maybeComplete(ctx, c)
		return
	}

	// Contacts are ordered by submission time; a tail cut here simply
	// defers the remainder to the next tick.
	deferred := false
	if len(fresh) > s.cfg.MaxContactsPerCampaign {
		fresh = fresh[:s.cfg.MaxContactsPerCampaign]
		deferred = true
	}

	handled := s.enqueueBatch(ctx, &c, fresh, now)

	if continuous && !handled.watermark.IsZero() {
		if err := s.resolver.AdvanceCursor(ctx, c.UserID, c.ID, handled.watermark); err != nil {
			logrus.WithError(err).Errorf("[SCHEDULER] Cursor advance failed for campaign %s", c.ID)
		}
	}

	c.UpdatedAt = time.Now().UTC()
	if err := s.campaigns.Update(ctx, c); err != nil {
		logrus.WithError(err).Errorf("[SCHEDULER] Failed to persist campaign %s after tick", c.ID)
		return
	}

	if handled.paused {
		s.notifier.CampaignPaused(ctx, c, c.PauseReason)
	}

	logrus.Infof("[SCHEDULER] Campaign %s: enqueued=%d skipped=%d deferred=%v",
		c.ID, handled.enqueued, handled.skipped, deferred || handled.deferred)
}

type batchResult struct {
	enqueued  int
	skipped   int
	deferred  bool
	paused    bool
	watermark time.Time
}

// enqueueBatch admits the batch through the governor and the ledger and
// creates one pending record per admitted contact. Invalid identities become
// terminal failed records without touching credits. Credit reservation and
// record creation settle together: the reservation is committed for exactly
// the records that were created, the rest of the hold is released.
func (s *DispatchScheduler) enqueueBatch(ctx context.Context, c *domain.Campaign, contacts []audienceDomain.Contact, now time.Time) batchResult {
	var res batchResult

	validCount := 0
	for _, contact := range contacts {
		if !contact.Invalid {
			validCount++
		}
	}

	// budget is how many valid contacts this batch may enqueue: the daily
	// cap and the credit balance both shrink it. Contacts beyond the budget
	// stay unprocessed and the cursor does not move past them.
	budget := 0
	var reservation creditsDomain.Reservation
	if validCount > 0 {
		admitted, err := s.governor.Admit(ctx, c.UserID, c.Channel, validCount)
		if err != nil {
			logrus.WithError(err).Errorf("[SCHEDULER] Governor admission failed for campaign %s", c.ID)
			return res
		}
		if admitted < validCount {
			// Daily cap backpressure: the overflow waits for tomorrow.
			res.deferred = true
		}

		if admitted > 0 {
			r, granted, err := s.ledger.Reserve(ctx, c.UserID, string(c.Channel), int64(admitted))
			if err == creditsDomain.ErrInsufficientCredits {
				s.pause(c, domain.PauseReasonInsufficientCredits)
				res.paused = true
				return res
			}
			if err != nil {
				logrus.WithError(err).Errorf("[SCHEDULER] Credit reservation failed for campaign %s", c.ID)
				return res
			}
			if granted < int64(admitted) {
				// Partial denial: process what the balance allows, then pause.
				s.pause(c, domain.PauseReasonInsufficientCredits)
				res.paused = true
			}
			reservation = r
			budget = int(granted)
		}
	}

	// Single pass in submission order so the incremental watermark never
	// jumps past a deferred contact.
	var used int64
	for _, contact := range contacts {
		if contact.Invalid {
			s.recordInvalid(ctx, c, contact, now)
			res.skipped++
			if contact.SubmittedAt.After(res.watermark) {
				res.watermark = contact.SubmittedAt
			}
			continue
		}

		if budget <= 0 {
			break
		}
		budget--

		variantIdx, body := s.composer.Compose(c, contact)

		slot, err := s.governor.NextSlot(ctx, c, now)
		if err != nil {
			logrus.WithError(err).Errorf("[SCHEDULER] Slot computation failed for campaign %s", c.ID)
			break
		}

		rec := dispatchDomain.DispatchRecord{
			ID:              uuid.NewString(),
			LogID:           uuid.NewString(),
			CampaignID:      c.ID,
			UserID:          c.UserID,
			ContactIdentity: contact.Identity,
			Channel:         string(c.Channel),
			Body:            body,
			VariantIndex:    variantIdx,
			Status:          dispatchDomain.StatusPending,
			ScheduledAt:     slot,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		created, err := s.dispatch.CreateIdempotent(ctx, rec)
		if err != nil {
			logrus.WithError(err).Errorf("[SCHEDULER] Enqueue failed for campaign %s contact %s", c.ID, contact.Identity)
			continue
		}
		if created {
			used++
			res.enqueued++
		}
		if contact.SubmittedAt.After(res.watermark) {
			res.watermark = contact.SubmittedAt
		}
	}

	// Settle the hold: debit what was actually enqueued, release the rest.
	if reservation.ID != "" {
		if used > 0 {
			if err := s.ledger.Commit(ctx, reservation.ID, used); err != nil {
				logrus.WithError(err).Errorf("[SCHEDULER] Reservation commit failed for campaign %s", c.ID)
			}
		} else {
			if err := s.ledger.Release(ctx, reservation.ID); err != nil {
				logrus.WithError(err).Errorf("[SCHEDULER] Reservation release failed for campaign %s", c.ID)
			}
		}
	}
	return res
}

// recordInvalid isolates a data error to the single contact: a terminal
// failed record with reason invalid_identity, batch continues.
func (s *DispatchScheduler) recordInvalid(ctx context.Context, c *domain.Campaign, contact audienceDomain.Contact, now time.Time) {
	failedAt := now
	rec := dispatchDomain.DispatchRecord{
		ID:              uuid.NewString(),
		LogID:           uuid.NewString(),
		CampaignID:      c.ID,
		UserID:          c.UserID,
		ContactIdentity: contact.Identity,
		Channel:         string(c.Channel),
		VariantIndex:    -1,
		Status:          dispatchDomain.StatusFailed,
		Reason:          dispatchDomain.ReasonInvalidIdentity,
		ScheduledAt:     now,
		FailedAt:        &failedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := s.dispatch.CreateIdempotent(ctx, rec); err != nil {
		logrus.WithError(err).Errorf("[SCHEDULER] Failed to record invalid contact %q for campaign %s", contact.Raw, c.ID)
	}
}

// maybeComplete terminates a non-continuous campaign once its audience is
// exhausted and every record reached a terminal state.
func (s *DispatchScheduler) maybeComplete(ctx context.Context, c domain.Campaign) {
	open, err := s.dispatch.CountNonTerminal(ctx, c.ID)
	if err != nil {
		logrus.WithError(err).Errorf("[SCHEDULER] Exhaustion check failed for campaign %s", c.ID)
		return
	}
	if open > 0 {
		return
	}

	c.Status = domain.StatusCompleted
	c.UpdatedAt = time.Now().UTC()
	if err := s.campaigns.Update(ctx, c); err != nil {
		logrus.WithError(err).Errorf("[SCHEDULER] Failed to complete campaign %s", c.ID)
		return
	}
	s.notifier.CampaignExhausted(ctx, c)
}

func (s *DispatchScheduler) pause(c *domain.Campaign, reason string) {
	c.Status = domain.StatusPaused
	c.PauseReason = reason
}
