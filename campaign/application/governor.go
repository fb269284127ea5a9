package application

import (
	"context"
	"math/rand"
	"time"

	"github.com/leadpulse/engine/campaign/domain"
	"github.com/leadpulse/engine/core/config"
	dispatchDomain "github.com/leadpulse/engine/dispatch/domain"
	"github.com/leadpulse/engine/pkg/timeutils"
	"github.com/sirupsen/logrus"
)

// Governor is the anti-ban layer: it bounds how many messages a user/channel
// admits per day and spaces consecutive sends of a campaign with a random
// delay. Hitting a bound is backpressure, never an error — work just defers
// to a later tick.
type Governor struct {
	settings domain.ISettingsRepository
	dispatch dispatchDomain.IDispatchRepository
	defaults config.GovernorConfig
}

func NewGovernor(settings domain.ISettingsRepository, dispatch dispatchDomain.IDispatchRepository, defaults config.GovernorConfig) *Governor {
	return &Governor{settings: settings, dispatch: dispatch, defaults: defaults}
}

// EffectiveSettings merges stored per-user overrides with the configured
// defaults. This is also what the heartbeat returns to the agent.
func (g *Governor) EffectiveSettings(ctx context.Context, userID string, channel domain.Channel) (domain.ChannelSettings, error) {
	s, err := g.settings.Get(ctx, userID, channel)
	if err == domain.ErrSettingsNotFound {
		return domain.ChannelSettings{
			UserID:   userID,
			Channel:  channel,
			DelayMin: g.defaults.DelayMin,
			DelayMax: g.defaults.DelayMax,
			DailyCap: g.defaults.DailyCap,
			Enabled:  true,
		}, nil
	}
	if err != nil {
		return domain.ChannelSettings{}, err
	}
	if s.DelayMin <= 0 {
		s.DelayMin = g.defaults.DelayMin
	}
	if s.DelayMax < s.DelayMin {
		s.DelayMax = s.DelayMin
	}
	if s.DailyCap <= 0 {
		s.DailyCap = g.defaults.DailyCap
	}
	return s, nil
}

// Admit returns how many of the wanted contacts fit in the user/channel's
// remaining daily capacity. Zero means the whole batch overflows into the
// next day; the campaign stays active either way.
func (g *Governor) Admit(ctx context.Context, userID string, channel domain.Channel, want int) (int, error) {
	if want <= 0 {
		return 0, nil
	}

	settings, err := g.EffectiveSettings(ctx, userID, channel)
	if err != nil {
		return 0, err
	}
	if !settings.Enabled {
		return 0, nil
	}

	dayStart := timeutils.StartOfDayUTC(time.Now())
	used, err := g.dispatch.CountCreatedSince(ctx, userID, string(channel), dayStart)
	if err != nil {
		return 0, err
	}

	remaining := int64(settings.DailyCap) - used
	if remaining <= 0 {
		logrus.Debugf("[GOVERNOR] Daily cap reached for %s/%s, deferring %d contacts", userID, channel, want)
		return 0, nil
	}
	if int64(want) > remaining {
		return int(remaining), nil
	}
	return want, nil
}

// NextSlot stamps the next send time on the campaign's delay chain:
// max(now, previous slot) plus a randomized offset inside the configured
// window. Delays live in scheduled_at, no thread ever sleeps on them.
func (g *Governor) NextSlot(ctx context.Context, campaign *domain.Campaign, now time.Time) (time.Time, error) {
	settings, err := g.EffectiveSettings(ctx, campaign.UserID, campaign.Channel)
	if err != nil {
		return time.Time{}, err
	}

	base := now
	if campaign.LastScheduledAt.After(base) {
		base = campaign.LastScheduledAt
	}

	window := settings.DelayMax - settings.DelayMin
	offset := settings.DelayMin
	if window > 0 {
		offset += time.Duration(rand.Int63n(int64(window)))
	}

	slot := base.Add(offset)
	campaign.LastScheduledAt = slot
	return slot, nil
}
