package rest

import (
	"github.com/gofiber/fiber/v2"
	campaignApp "github.com/leadpulse/engine/campaign/application"
	creditsApp "github.com/leadpulse/engine/credits/application"
	"github.com/leadpulse/engine/credits/domain"
	"github.com/leadpulse/engine/pkg/utils"
	"github.com/leadpulse/engine/validations"
	"github.com/sirupsen/logrus"
)

type Credits struct {
	Ledger    *creditsApp.LedgerService
	Campaigns *campaignApp.CampaignService
}

func InitRestCredits(app fiber.Router, ledger *creditsApp.LedgerService, campaigns *campaignApp.CampaignService) Credits {
	rest := Credits{Ledger: ledger, Campaigns: campaigns}
	app.Get("/credits/:channel", rest.Balance)
	app.Get("/credits/:channel/statement", rest.Statement)
	app.Post("/credits/topup", rest.TopUp)
	return rest
}

func (controller *Credits) Balance(c *fiber.Ctx) error {
	balance, err := controller.Ledger.Balance(c.UserContext(), username(c), c.Params("channel"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch balance",
		Results: fiber.Map{"channel": c.Params("channel"), "balance": balance},
	})
}

func (controller *Credits) Statement(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	entries, balance, err := controller.Ledger.Statement(c.UserContext(), username(c), c.Params("channel"), limit)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch statement",
		Results: fiber.Map{"balance": balance, "entries": entries},
	})
}

func (controller *Credits) TopUp(c *fiber.Ctx) error {
	var request domain.TopUpRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidateTopUp(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	balance, err := controller.Ledger.TopUp(c.UserContext(), username(c), request.Channel, request.Amount, request.Ref)
	utils.PanicIfNeeded(err)

	// Credits arriving is the resume signal for campaigns that were paused
	// for insufficient funds.
	if err := controller.Campaigns.OnTopUp(c.UserContext(), username(c), request.Channel); err != nil {
		logrus.WithError(err).Warnf("[CREDITS] Auto-resume after top-up failed for %s/%s", username(c), request.Channel)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success top up credits",
		Results: fiber.Map{"channel": request.Channel, "balance": balance},
	})
}
