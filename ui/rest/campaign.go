package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"
	audienceDomain "github.com/leadpulse/engine/audience/domain"
	campaignApp "github.com/leadpulse/engine/campaign/application"
	"github.com/leadpulse/engine/campaign/domain"
	pkgError "github.com/leadpulse/engine/pkg/error"
	"github.com/leadpulse/engine/pkg/utils"
	"github.com/leadpulse/engine/validations"
)

type Campaign struct {
	Service *campaignApp.CampaignService
}

func InitRestCampaign(app fiber.Router, service *campaignApp.CampaignService) Campaign {
	rest := Campaign{Service: service}
	app.Post("/campaigns", rest.Create)
	app.Get("/campaigns", rest.List)
	app.Get("/campaigns/:id", rest.Get)
	app.Post("/campaigns/:id/pause", rest.Pause)
	app.Post("/campaigns/:id/resume", rest.Resume)
	app.Delete("/campaigns/:id", rest.Delete)
	return rest
}

func (controller *Campaign) Create(c *fiber.Ctx) error {
	var request domain.CreateCampaignRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidateCreateCampaign(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	campaign := domain.Campaign{
		UserID:              username(c),
		Name:                request.Name,
		Channel:             domain.Channel(request.Channel),
		Variants:            request.Variants,
		PlaceholderFallback: request.PlaceholderFallback,
		Targeting: audienceDomain.Targeting{
			Audience:      audienceDomain.AudienceClass(request.Audience),
			FieldKey:      request.FieldKey,
			FieldValue:    request.FieldValue,
			SubmittedFrom: request.SubmittedFrom,
			SubmittedTo:   request.SubmittedTo,
		},
		Trigger: domain.TriggerSpec{
			Type:  domain.TriggerType(request.TriggerType),
			Delay: time.Duration(request.TriggerDelaySec) * time.Second,
		},
		Status: domain.StatusDraft,
	}
	if request.Activate {
		campaign.Status = domain.StatusActive
	}

	created, err := controller.Service.Create(c.UserContext(), campaign)
	if err == domain.ErrNoVariants {
		panic(pkgError.ValidationError(err.Error()))
	}
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success create campaign",
		Results: created,
	})
}

func (controller *Campaign) List(c *fiber.Ctx) error {
	campaigns, err := controller.Service.List(c.UserContext(), username(c))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch campaigns",
		Results: campaigns,
	})
}

func (controller *Campaign) Get(c *fiber.Ctx) error {
	details, err := controller.fetchOwned(c)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch campaign",
		Results: details,
	})
}

func (controller *Campaign) Pause(c *fiber.Ctx) error {
	if _, err := controller.fetchOwned(c); err != nil {
		utils.PanicIfNeeded(err)
	}

	var request domain.PauseCampaignRequest
	_ = c.BodyParser(&request)

	campaign, err := controller.Service.Pause(c.UserContext(), c.Params("id"), request.Reason)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success pause campaign",
		Results: campaign,
	})
}

func (controller *Campaign) Resume(c *fiber.Ctx) error {
	if _, err := controller.fetchOwned(c); err != nil {
		utils.PanicIfNeeded(err)
	}

	campaign, err := controller.Service.Resume(c.UserContext(), c.Params("id"))
	if err == domain.ErrNotPaused || err == domain.ErrNoCreditBalance {
		panic(pkgError.ConflictError(err.Error()))
	}
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success resume campaign",
		Results: campaign,
	})
}

func (controller *Campaign) Delete(c *fiber.Ctx) error {
	if _, err := controller.fetchOwned(c); err != nil {
		utils.PanicIfNeeded(err)
	}

	err := controller.Service.Delete(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success delete campaign",
	})
}

// fetchOwned loads the campaign and hides it behind a not-found error when
// it belongs to another user.
func (controller *Campaign) fetchOwned(c *fiber.Ctx) (campaignApp.CampaignDetails, error) {
	details, err := controller.Service.Get(c.UserContext(), c.Params("id"))
	if err == domain.ErrCampaignNotFound {
		return details, pkgError.NotFoundError(err.Error())
	}
	if err != nil {
		return details, err
	}
	if details.Campaign.UserID != username(c) {
		return details, pkgError.NotFoundError(domain.ErrCampaignNotFound.Error())
	}
	return details, nil
}
