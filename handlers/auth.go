package handlers

import (
	"bot-arena-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAuthRoutes(app *fiber.App, authService *services.AuthService) {
	// 🔓 Public challenge flow — the nonce itself is the replay guard
	auth := app.Group("/auth")
	auth.Post("/nonce", authService.RequestNonce)
	auth.Post("/verify", authService.VerifySignature)
}
