package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/leadpulse/engine/core/config"
	"github.com/leadpulse/engine/pkg/dispatchpool"
	"github.com/leadpulse/engine/pkg/utils"
	"gorm.io/gorm"
)

type Health struct {
	DB   *gorm.DB
	Pool *dispatchpool.Pool
}

func InitRestHealth(app fiber.Router, db *gorm.DB, pool *dispatchpool.Pool) Health {
	rest := Health{DB: db, Pool: pool}
	app.Get("/health", rest.Check)
	return rest
}

func (controller *Health) Check(c *fiber.Ctx) error {
	dbStatus := "ok"
	if sqlDB, err := controller.DB.DB(); err != nil || sqlDB.PingContext(c.UserContext()) != nil {
		dbStatus = "unreachable"
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Service healthy",
		Results: fiber.Map{
			"version":     config.Global.App.Version,
			"server_time": time.Now().UTC(),
			"database":    dbStatus,
			"workers":     controller.Pool.Stats(),
		},
	})
}
