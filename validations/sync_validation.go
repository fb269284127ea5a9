package validations

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	campaignDomain "github.com/leadpulse/engine/campaign/domain"
	syncDomain "github.com/leadpulse/engine/devicesync/domain"
	pkgError "github.com/leadpulse/engine/pkg/error"
)

func ValidatePing(ctx context.Context, request syncDomain.PingRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.AgentID, validation.Required),
		validation.Field(&request.Channel, validation.Required, validation.In(
			string(campaignDomain.ChannelSMS),
			string(campaignDomain.ChannelWhatsApp),
			string(campaignDomain.ChannelEmail),
		)),
		validation.Field(&request.Pending, validation.Min(0)),
		validation.Field(&request.Sent, validation.Min(0)),
		validation.Field(&request.Failed, validation.Min(0)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateReport(ctx context.Context, request syncDomain.ReportRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Reports, validation.Required, validation.Length(1, 0)),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	for _, rep := range request.Reports {
		if rep.LogID == "" {
			return pkgError.ValidationError("log_id: cannot be blank.")
		}
		if rep.Outcome != "delivered" && rep.Outcome != "failed" {
			return pkgError.ValidationError("outcome: must be delivered or failed.")
		}
	}

	return nil
}
