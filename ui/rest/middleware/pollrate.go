package middleware

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/leadpulse/engine/pkg/utils"
	"golang.org/x/time/rate"
)

// PollRate throttles the agent sync endpoints per authenticated user and
// agent. Excess polls get a 429 hint instead of being queued; the agent is
// expected to back off and retry on its next cycle.
func PollRate(pollsPerSecond float64, burst int) fiber.Handler {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)

	take := func(key string) bool {
		mu.Lock()
		lim, ok := limiters[key]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(pollsPerSecond), burst)
			limiters[key] = lim
		}
		mu.Unlock()
		return lim.Allow()
	}

	return func(c *fiber.Ctx) error {
		username, _ := c.Locals("username").(string)
		key := username + "|" + c.Get("X-Agent-ID")
		if !take(key) {
			return c.Status(fiber.StatusTooManyRequests).JSON(utils.ResponseData{
				Status:  fiber.StatusTooManyRequests,
				Code:    "RATE_LIMITED",
				Message: "Poll rate exceeded, slow down",
			})
		}
		return c.Next()
	}
}
