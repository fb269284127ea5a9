package validations

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	audienceDomain "github.com/leadpulse/engine/audience/domain"
	pkgError "github.com/leadpulse/engine/pkg/error"
)

func ValidateIngestLead(ctx context.Context, request audienceDomain.IngestLeadRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.QuizID, validation.Required),
		validation.Field(&request.Contact, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
