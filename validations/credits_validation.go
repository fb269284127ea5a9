package validations

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	campaignDomain "github.com/leadpulse/engine/campaign/domain"
	creditsDomain "github.com/leadpulse/engine/credits/domain"
	pkgError "github.com/leadpulse/engine/pkg/error"
)

func ValidateTopUp(ctx context.Context, request creditsDomain.TopUpRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Channel, validation.Required, validation.In(
			string(campaignDomain.ChannelSMS),
			string(campaignDomain.ChannelWhatsApp),
			string(campaignDomain.ChannelEmail),
		)),
		validation.Field(&request.Amount, validation.Required, validation.Min(int64(1))),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
