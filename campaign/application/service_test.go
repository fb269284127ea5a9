package application

import (
	"context"
	"testing"

	"github.com/leadpulse/engine/campaign/domain"
)

func TestService_ResumeRequiresBalanceAfterCreditPause(t *testing.T) {
	e := newDispatchTestEngine(t)
	ctx := context.Background()
	service := NewCampaignService(e.campaigns, e.dispatch, e.ledger, NewLogNotifier())

	c := e.createCampaign(t, domain.Campaign{
		UserID:      "u1",
		Channel:     domain.ChannelWhatsApp,
		Variants:    []string{"hello"},
		Status:      domain.StatusPaused,
		PauseReason: domain.PauseReasonInsufficientCredits,
	})

	// Still broke: resuming would just flap back to paused on the next tick.
	if _, err := service.Resume(ctx, c.ID); err != domain.ErrNoCreditBalance {
		t.Fatalf("Resume() with empty balance = %v, want ErrNoCreditBalance", err)
	}

	if _, err := e.ledger.TopUp(ctx, "u1", "whatsapp", 5, ""); err != nil {
		t.Fatalf("TopUp() unexpected error: %v", err)
	}

	resumed, err := service.Resume(ctx, c.ID)
	if err != nil {
		t.Fatalf("Resume() after top-up unexpected error: %v", err)
	}
	if resumed.Status != domain.StatusActive || resumed.PauseReason != "" {
		t.Errorf("resumed campaign = %s/%q, want active with cleared reason",
			resumed.Status, resumed.PauseReason)
	}
}

func TestService_ResumeManualPauseIgnoresBalance(t *testing.T) {
	e := newDispatchTestEngine(t)
	ctx := context.Background()
	service := NewCampaignService(e.campaigns, e.dispatch, e.ledger, NewLogNotifier())

	c := e.createCampaign(t, domain.Campaign{
		UserID:      "u1",
		Channel:     domain.ChannelWhatsApp,
		Variants:    []string{"hello"},
		Status:      domain.StatusPaused,
		PauseReason: domain.PauseReasonManual,
	})

	// The guard only applies to credit pauses.
	resumed, err := service.Resume(ctx, c.ID)
	if err != nil {
		t.Fatalf("Resume() unexpected error: %v", err)
	}
	if resumed.Status != domain.StatusActive {
		t.Errorf("resumed campaign status = %s, want active", resumed.Status)
	}
}
