package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"
	campaignDomain "github.com/leadpulse/engine/campaign/domain"
	syncApp "github.com/leadpulse/engine/devicesync/application"
	"github.com/leadpulse/engine/devicesync/domain"
	pkgError "github.com/leadpulse/engine/pkg/error"
	"github.com/leadpulse/engine/pkg/utils"
	"github.com/leadpulse/engine/validations"
)

// Sync exposes the pull protocol consumed by the delivery agent. Routes are
// grouped behind the poll-rate middleware passed by the caller.
type Sync struct {
	Gateway *syncApp.SyncGateway
}

func InitRestSync(app fiber.Router, gateway *syncApp.SyncGateway, pollLimit fiber.Handler) Sync {
	rest := Sync{Gateway: gateway}
	group := app.Group("/sync", pollLimit)
	group.Post("/ping", rest.Ping)
	group.Get("/pending-messages", rest.PendingMessages)
	group.Post("/logs", rest.ReportLogs)
	group.Get("/contacts", rest.Contacts)
	group.Get("/devices", rest.Devices)
	return rest
}

func (controller *Sync) Ping(c *fiber.Ctx) error {
	var request domain.PingRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidatePing(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	response, err := controller.Gateway.Ping(c.UserContext(), username(c), campaignDomain.Channel(request.Channel), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success ping",
		Results: response,
	})
}

func (controller *Sync) PendingMessages(c *fiber.Ctx) error {
	channel := campaignDomain.Channel(c.Query("channel"))
	if !channel.Valid() {
		panic(pkgError.ValidationError("channel: must be sms, whatsapp or email."))
	}

	batch, err := controller.Gateway.Lease(c.UserContext(), username(c), string(channel))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success lease pending messages",
		Results: batch,
	})
}

func (controller *Sync) ReportLogs(c *fiber.Ctx) error {
	var request domain.ReportRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidateReport(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	result, err := controller.Gateway.Report(c.UserContext(), username(c), request.Reports)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success apply outcome reports",
		Results: result,
	})
}

func (controller *Sync) Contacts(c *fiber.Ctx) error {
	campaignID := c.Query("campaign_id")
	if campaignID == "" {
		panic(pkgError.ValidationError("campaign_id: cannot be blank."))
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			panic(pkgError.ValidationError("since: must be an RFC3339 timestamp."))
		}
		since = parsed.UTC()
	}

	response, err := controller.Gateway.SyncContacts(c.UserContext(), username(c), campaignID, since)
	if err == campaignDomain.ErrCampaignNotFound {
		panic(pkgError.NotFoundError(err.Error()))
	}
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success sync contacts",
		Results: response,
	})
}

func (controller *Sync) Devices(c *fiber.Ctx) error {
	devices, err := controller.Gateway.Devices(c.UserContext(), username(c))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch devices",
		Results: devices,
	})
}
