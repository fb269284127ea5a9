package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/leadpulse/engine/audience/domain"
	"github.com/leadpulse/engine/pkg/utils"
	"github.com/leadpulse/engine/validations"
)

type Lead struct {
	Repo domain.ILeadRepository
}

func InitRestLead(app fiber.Router, repo domain.ILeadRepository) Lead {
	rest := Lead{Repo: repo}
	app.Post("/leads", rest.Ingest)
	return rest
}

func (controller *Lead) Ingest(c *fiber.Ctx) error {
	var request domain.IngestLeadRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidateIngestLead(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	submittedAt := time.Now().UTC()
	if request.SubmittedAt != nil {
		submittedAt = request.SubmittedAt.UTC()
	}

	lead := domain.Lead{
		ID:          uuid.NewString(),
		UserID:      username(c),
		QuizID:      request.QuizID,
		RawContact:  request.Contact,
		Fields:      request.Fields,
		Completed:   request.Completed,
		SubmittedAt: submittedAt,
		CreatedAt:   time.Now().UTC(),
	}

	err = controller.Repo.Create(c.UserContext(), lead)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success ingest lead",
		Results: fiber.Map{"id": lead.ID},
	})
}
