package rest

import "github.com/gofiber/fiber/v2"

// username returns the basic-auth principal set by the auth middleware.
// Every tenant-scoped query keys off this value.
func username(c *fiber.Ctx) string {
	user, _ := c.Locals("username").(string)
	return user
}
