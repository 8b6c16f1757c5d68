package handlers

import (
	"bot-arena-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMatchRoutes(app *fiber.App, matchService *services.MatchService) {
	// 🔓 Public match reads (static paths registered before :id)
	app.Get("/match/current", matchService.GetCurrentMatch)
	app.Get("/match/history", matchService.GetCurrentHistory)
	app.Get("/match/:id", matchService.GetMatch)
	app.Get("/match/:id/history", matchService.GetMatchHistory)
	app.Get("/match/:id/stream", matchService.StreamMatchHistorySSE)

	// Wallet identity is established upstream via /auth; registration
	// enforces the burn requirement itself
	app.Post("/match/:id/register", matchService.RegisterBot)

	app.Get("/burns/:address", matchService.GetBurns)
}
