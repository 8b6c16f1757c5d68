package handlers

import (
	"bot-arena-system/middleware"
	"bot-arena-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAdminRoutes(app *fiber.App, matchService *services.MatchService, winnerService *services.WinnerService) {
	// 🔒 Operator endpoints — API key enforced
	admin := app.Group("/admin", middleware.AdminAuthMiddleware())

	admin.Post("/match/create", matchService.CreateMatch)
	admin.Post("/match/:id/start", matchService.StartMatch)
	admin.Post("/match/:id/settle", matchService.SettleMatch)
	admin.Post("/match/:id/complete", matchService.CompleteMatch)

	admin.Post("/winner/:id/mark-paid", winnerService.MarkPaid)
	admin.Get("/winners/unpaid", winnerService.ListUnpaid)
}
