package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"
	campaignApp "github.com/leadpulse/engine/campaign/application"
	"github.com/leadpulse/engine/campaign/domain"
	pkgError "github.com/leadpulse/engine/pkg/error"
	"github.com/leadpulse/engine/pkg/utils"
	"github.com/leadpulse/engine/validations"
)

type Settings struct {
	Repo     domain.ISettingsRepository
	Governor *campaignApp.Governor
}

func InitRestSettings(app fiber.Router, repo domain.ISettingsRepository, governor *campaignApp.Governor) Settings {
	rest := Settings{Repo: repo, Governor: governor}
	app.Get("/settings/:channel", rest.Get)
	app.Put("/settings/:channel", rest.Update)
	return rest
}

func (controller *Settings) Get(c *fiber.Ctx) error {
	channel := domain.Channel(c.Params("channel"))
	if !channel.Valid() {
		panic(pkgError.ValidationError("channel: must be sms, whatsapp or email."))
	}

	settings, err := controller.Governor.EffectiveSettings(c.UserContext(), username(c), channel)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch channel settings",
		Results: settings,
	})
}

func (controller *Settings) Update(c *fiber.Ctx) error {
	channel := domain.Channel(c.Params("channel"))
	if !channel.Valid() {
		panic(pkgError.ValidationError("channel: must be sms, whatsapp or email."))
	}

	var request domain.UpdateSettingsRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidateUpdateSettings(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	// Start from the effective settings so a partial update keeps the rest.
	settings, err := controller.Governor.EffectiveSettings(c.UserContext(), username(c), channel)
	utils.PanicIfNeeded(err)

	if request.DelayMinSec > 0 {
		settings.DelayMin = time.Duration(request.DelayMinSec) * time.Second
	}
	if request.DelayMaxSec > 0 {
		settings.DelayMax = time.Duration(request.DelayMaxSec) * time.Second
	}
	if request.DailyCap > 0 {
		settings.DailyCap = request.DailyCap
	}
	if request.Enabled != nil {
		settings.Enabled = *request.Enabled
	}
	settings.UserID = username(c)
	settings.Channel = channel
	settings.UpdatedAt = time.Now().UTC()

	err = controller.Repo.Save(c.UserContext(), settings)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success update channel settings",
		Results: settings,
	})
}
