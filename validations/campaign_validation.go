package validations

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	audienceDomain "github.com/leadpulse/engine/audience/domain"
	campaignDomain "github.com/leadpulse/engine/campaign/domain"
	pkgError "github.com/leadpulse/engine/pkg/error"
)

func ValidateCreateCampaign(ctx context.Context, request campaignDomain.CreateCampaignRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Name, validation.Required),
		validation.Field(&request.Channel, validation.Required, validation.In(
			string(campaignDomain.ChannelSMS),
			string(campaignDomain.ChannelWhatsApp),
			string(campaignDomain.ChannelEmail),
		)),
		validation.Field(&request.Variants, validation.Required, validation.Length(1, 0)),
		validation.Field(&request.Audience, validation.Required, validation.In(
			string(audienceDomain.AudienceAll),
			string(audienceDomain.AudienceCompleted),
			string(audienceDomain.AudienceAbandoned),
		)),
		validation.Field(&request.TriggerType, validation.Required, validation.In(
			string(campaignDomain.TriggerImmediate),
			string(campaignDomain.TriggerDelayed),
			string(campaignDomain.TriggerContinuous),
		)),
		validation.Field(&request.TriggerDelaySec, validation.Min(int64(0))),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	if request.TriggerType == string(campaignDomain.TriggerDelayed) && request.TriggerDelaySec <= 0 {
		return pkgError.ValidationError("trigger_delay_sec: must be positive for delayed triggers.")
	}

	return nil
}

func ValidateUpdateSettings(ctx context.Context, request campaignDomain.UpdateSettingsRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.DelayMinSec, validation.Min(int64(0))),
		validation.Field(&request.DelayMaxSec, validation.Min(request.DelayMinSec)),
		validation.Field(&request.DailyCap, validation.Min(0)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
