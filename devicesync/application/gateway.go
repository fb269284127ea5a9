package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	audienceApp "github.com/leadpulse/engine/audience/application"
	campaignApp "github.com/leadpulse/engine/campaign/application"
	campaignDomain "github.com/leadpulse/engine/campaign/domain"
	"github.com/leadpulse/engine/core/config"
	"github.com/leadpulse/engine/devicesync/domain"
	dispatchDomain "github.com/leadpulse/engine/dispatch/domain"
	"github.com/sirupsen/logrus"
)

// SyncGateway is the pull-based protocol surface consumed by the external
// delivery agent. The agent cannot be pushed to, so everything rides on its
// polls: heartbeat doubles as settings sync, batches are leased atomically,
// outcomes are applied keyed by the opaque log token, and contacts stream
// incrementally behind a cursor. Disconnection loses nothing — unleased
// records stay pending and stale reports degrade to no-ops.
type SyncGateway struct {
	dispatch  dispatchDomain.IDispatchRepository
	devices   domain.IDeviceRepository
	campaigns campaignDomain.ICampaignRepository
	governor  *campaignApp.Governor
	resolver  *audienceApp.Resolver
	cfg       config.SyncConfig
}

func NewSyncGateway(
	dispatch dispatchDomain.IDispatchRepository,
	devices domain.IDeviceRepository,
	campaigns campaignDomain.ICampaignRepository,
	governor *campaignApp.Governor,
	resolver *audienceApp.Resolver,
	cfg config.SyncConfig,
) *SyncGateway {
	return &SyncGateway{
		dispatch:  dispatch,
		devices:   devices,
		campaigns: campaigns,
		governor:  governor,
		resolver:  resolver,
		cfg:       cfg,
	}
}

// Ping registers the agent's liveness and local counters and returns the
// effective settings for the channel, so configuration changes propagate
// without a separate push path.
func (g *SyncGateway) Ping(ctx context.Context, userID string, channel campaignDomain.Channel, req domain.PingRequest) (domain.PingResponse, error) {
	now := time.Now().UTC()

	device := domain.AgentDevice{
		ID:           uuid.NewString(),
		UserID:       userID,
		AgentID:      req.AgentID,
		UserAgent:    req.UserAgent,
		LastSeenAt:   now,
		PendingLocal: req.Pending,
		SentLocal:    req.Sent,
		FailedLocal:  req.Failed,
		CreatedAt:    now,
	}
	if err := g.devices.Upsert(ctx, device); err != nil {
		// Heartbeat bookkeeping must never break the poll loop.
		logrus.WithError(err).Warnf("[SYNC] Device upsert failed for %s/%s", userID, req.AgentID)
	}

	settings, err := g.governor.EffectiveSettings(ctx, userID, channel)
	if err != nil {
		return domain.PingResponse{}, err
	}

	pending, err := g.dispatch.CountPending(ctx, userID, string(channel))
	if err != nil {
		return domain.PingResponse{}, err
	}

	return domain.PingResponse{
		ServerTime:  now,
		PendingJobs: pending,
		Settings: domain.ChannelSettings{
			Channel:     string(settings.Channel),
			DelayMinSec: int64(settings.DelayMin / time.Second),
			DelayMaxSec: int64(settings.DelayMax / time.Second),
			DailyCap:    settings.DailyCap,
			Enabled:     settings.Enabled,
		},
	}, nil
}

// Lease hands out up to the configured batch of eligible pending records,
// transitioning them to sent as they leave. A record leased here is never
// re-offered to a second poll; if the agent crashes before reporting, the
// timeout sweep recovers it.
func (g *SyncGateway) Lease(ctx context.Context, userID, channel string) ([]domain.PendingMessage, error) {
	now := time.Now().UTC()
	records, err := g.dispatch.LeaseBatch(ctx, userID, channel, now, g.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	batch := make([]domain.PendingMessage, len(records))
	for i, rec := range records {
		batch[i] = domain.PendingMessage{
			LogID:       rec.LogID,
			Identity:    rec.ContactIdentity,
			Body:        rec.Body,
			Channel:     rec.Channel,
			CampaignID:  rec.CampaignID,
			ScheduledAt: rec.ScheduledAt,
		}
	}
	if len(batch) > 0 {
		logrus.Debugf("[SYNC] Leased %d records to agent of %s", len(batch), userID)
	}
	return batch, nil
}

// Report applies a batch of outcome reports. Each tuple is validated
// against the record's existence and current sent state; stale or unknown
// identities are rejected per tuple as no-ops, never failing the batch.
func (g *SyncGateway) Report(ctx context.Context, userID string, reports []domain.OutcomeReport) (domain.ReportResult, error) {
	var result domain.ReportResult
	for _, rep := range reports {
		status := dispatchDomain.StatusDelivered
		reason := ""
		if rep.Outcome != "delivered" {
			status = dispatchDomain.StatusFailed
			reason = dispatchDomain.ReasonAgentError
			if rep.Error != "" {
				reason = rep.Error
			}
		}

		at := rep.ReportedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}

		err := g.dispatch.ApplyOutcome(ctx, userID, rep.LogID, status, reason, at)
		switch err {
		case nil:
			result.Applied++
		case dispatchDomain.ErrStaleReport:
			result.Stale++
			logrus.Debugf("[SYNC] Stale outcome report for log %s ignored", rep.LogID)
		case dispatchDomain.ErrRecordNotFound:
			result.Unknown++
			logrus.Debugf("[SYNC] Outcome report for unknown log %s ignored", rep.LogID)
		default:
			return result, err
		}
	}
	return result, nil
}

// SyncContacts is the read-only incremental feed: contacts of a campaign's
// audience submitted strictly after the agent's cursor, plus the next
// cursor. The returned cursor is the max timestamp observed, never "now",
// so clock skew cannot open gaps. The server-side campaign cursor is not
// touched by this read path — the agent owns the cursor it passes in.
func (g *SyncGateway) SyncContacts(ctx context.Context, userID, campaignID string, since time.Time) (domain.ContactSyncResponse, error) {
	c, err := g.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return domain.ContactSyncResponse{}, err
	}
	if c.UserID != userID {
		return domain.ContactSyncResponse{}, campaignDomain.ErrCampaignNotFound
	}

	contacts, err := g.resolver.Resolve(ctx, userID, string(c.Channel), c.Targeting)
	if err != nil {
		return domain.ContactSyncResponse{}, err
	}

	resp := domain.ContactSyncResponse{Cursor: since}
	for _, contact := range contacts {
		if contact.Invalid || !contact.SubmittedAt.After(since) {
			continue
		}
		resp.Contacts = append(resp.Contacts, domain.SyncedContact{
			Identity:    contact.Identity,
			Fields:      contact.Fields,
			Completed:   contact.Completed,
			SubmittedAt: contact.SubmittedAt,
		})
		if contact.SubmittedAt.After(resp.Cursor) {
			resp.Cursor = contact.SubmittedAt
		}
	}
	return resp, nil
}

// Devices lists the user's known agents with their last-seen liveness.
func (g *SyncGateway) Devices(ctx context.Context, userID string) ([]domain.AgentDevice, error) {
	return g.devices.ListByUser(ctx, userID)
}
