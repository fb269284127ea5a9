package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/leadpulse/engine/campaign/domain"
	creditsApp "github.com/leadpulse/engine/credits/application"
	dispatchDomain "github.com/leadpulse/engine/dispatch/domain"
	"github.com/sirupsen/logrus"
)

// CampaignService covers the campaign operations consumed by the REST
// surface: lifecycle changes, derived stats, and the top-up hook that
// resumes campaigns paused on empty credits.
type CampaignService struct {
	campaigns domain.ICampaignRepository
	dispatch  dispatchDomain.IDispatchRepository
	ledger    *creditsApp.LedgerService
	notifier  domain.INotifier
}

func NewCampaignService(campaigns domain.ICampaignRepository, dispatch dispatchDomain.IDispatchRepository, ledger *creditsApp.LedgerService, notifier domain.INotifier) *CampaignService {
	return &CampaignService{campaigns: campaigns, dispatch: dispatch, ledger: ledger, notifier: notifier}
}

// CampaignDetails is a campaign plus its derived dispatch aggregates. The
// counters are recomputed from the record table on every read, never stored.
type CampaignDetails struct {
	Campaign domain.Campaign      `json:"campaign"`
	Stats    dispatchDomain.Stats `json:"stats"`
}

func (s *CampaignService) Create(ctx context.Context, c domain.Campaign) (domain.Campaign, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.StatusDraft
	}
	if c.Status == domain.StatusActive {
		if err := c.CanActivate(); err != nil {
			return domain.Campaign{}, err
		}
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := s.campaigns.Create(ctx, c); err != nil {
		return domain.Campaign{}, err
	}
	return c, nil
}

func (s *CampaignService) Get(ctx context.Context, id string) (CampaignDetails, error) {
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return CampaignDetails{}, err
	}
	stats, err := s.dispatch.CountByCampaign(ctx, c.ID)
	if err != nil {
		return CampaignDetails{}, err
	}
	return CampaignDetails{Campaign: c, Stats: stats}, nil
}

func (s *CampaignService) List(ctx context.Context, userID string) ([]CampaignDetails, error) {
	campaigns, err := s.campaigns.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := make([]CampaignDetails, 0, len(campaigns))
	for _, c := range campaigns {
		stats, err := s.dispatch.CountByCampaign(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		res = append(res, CampaignDetails{Campaign: c, Stats: stats})
	}
	return res, nil
}

// Pause stops new admissions from the next tick on. Already-sent records
// are not retracted.
func (s *CampaignService) Pause(ctx context.Context, id, reason string) (domain.Campaign, error) {
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return domain.Campaign{}, err
	}
	if reason == "" {
		reason = domain.PauseReasonManual
	}
	c.Status = domain.StatusPaused
	c.PauseReason = reason
	c.UpdatedAt = time.Now().UTC()
	if err := s.campaigns.Update(ctx, c); err != nil {
		return domain.Campaign{}, err
	}
	s.notifier.CampaignPaused(ctx, c, reason)
	return c, nil
}

// Resume reactivates a paused campaign, re-checking the variant invariant.
// A campaign auto-paused on empty credits needs a positive balance again,
// otherwise it would just flap back to paused on the next tick.
func (s *CampaignService) Resume(ctx context.Context, id string) (domain.Campaign, error) {
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return domain.Campaign{}, err
	}
	if c.Status != domain.StatusPaused {
		return domain.Campaign{}, domain.ErrNotPaused
	}
	if err := c.CanActivate(); err != nil {
		return domain.Campaign{}, err
	}
	if c.PauseReason == domain.PauseReasonInsufficientCredits {
		balance, err := s.ledger.Balance(ctx, c.UserID, string(c.Channel))
		if err != nil {
			return domain.Campaign{}, err
		}
		if balance <= 0 {
			return domain.Campaign{}, domain.ErrNoCreditBalance
		}
	}
	c.Status = domain.StatusActive
	c.PauseReason = ""
	c.UpdatedAt = time.Now().UTC()
	if err := s.campaigns.Update(ctx, c); err != nil {
		return domain.Campaign{}, err
	}
	return c, nil
}

// Delete cascade-cancels every non-terminal record to failed(cancelled)
// before removing the campaign, so no orphans survive and late agent
// reports against them resolve as stale no-ops.
func (s *CampaignService) Delete(ctx context.Context, id string) error {
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return err
	}
	cancelled, err := s.dispatch.CancelNonTerminal(ctx, c.ID)
	if err != nil {
		return err
	}
	if cancelled > 0 {
		logrus.Warnf("[CAMPAIGN] Deleting campaign %s cancelled %d open records", c.ID, cancelled)
	}
	return s.campaigns.Delete(ctx, c.ID)
}

// OnTopUp resumes the user's campaigns that were auto-paused on empty
// credits for the topped-up channel. Billing collaborator hook.
func (s *CampaignService) OnTopUp(ctx context.Context, userID, channel string) error {
	paused, err := s.campaigns.ListPausedByReason(ctx, userID, domain.PauseReasonInsufficientCredits)
	if err != nil {
		return err
	}
	for _, c := range paused {
		if string(c.Channel) != channel {
			continue
		}
		c.Status = domain.StatusActive
		c.PauseReason = ""
		c.UpdatedAt = time.Now().UTC()
		if err := s.campaigns.Update(ctx, c); err != nil {
			logrus.WithError(err).Errorf("[CAMPAIGN] Failed to resume campaign %s after top-up", c.ID)
			continue
		}
		logrus.Infof("[CAMPAIGN] Campaign %s resumed after top-up", c.ID)
	}
	return nil
}
