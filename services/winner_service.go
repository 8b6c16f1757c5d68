package services

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// WinnerService exposes the payout endpoints. Mark-paid routes through
// the owning match's actor when one is alive so it serializes with
// settlement; afterwards the ledger's conditional update alone enforces
// the single unpaid → paid transition.
type WinnerService struct {
	Ledger MatchLedger
	Coord  *Coordinator
}

func NewWinnerService(ledger MatchLedger, coord *Coordinator) *WinnerService {
	return &WinnerService{Ledger: ledger, Coord: coord}
}

// MarkPaid handles POST /admin/winner/:id/mark-paid
func (s *WinnerService) MarkPaid(c *fiber.Ctx) error {
	id := c.Params("id")

	var req struct {
		TxHash string `json:"txHash" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	req.TxHash = strings.TrimSpace(req.TxHash)
	if req.TxHash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "txHash is required"})
	}

	winner, err := s.Ledger.GetWinner(c.Context(), id)
	if err != nil {
		if errors.Is(err, ErrWinnerNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Winner not found"})
		}
		log.Printf("❌ [Winner] lookup failed for %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	if actor, ok := s.Coord.Actor(winner.MatchID); ok {
		updated, aerr := actor.MarkWinnerPaid(c.Context(), id, req.TxHash)
		if aerr == nil {
			return c.JSON(updated)
		}
		if !errors.Is(aerr, ErrActorStopped) {
			return s.markPaidError(c, id, aerr)
		}
		// Actor retired mid-request; the ledger path below still holds.
	}

	updated, err := s.Ledger.MarkWinnerPaid(c.Context(), id, req.TxHash)
	if err != nil {
		return s.markPaidError(c, id, err)
	}
	return c.JSON(updated)
}

func (s *WinnerService) markPaidError(c *fiber.Ctx, id string, err error) error {
	switch {
	case errors.Is(err, ErrWinnerNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Winner not found"})
	case errors.Is(err, ErrAlreadyPaid):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Winner already marked paid"})
	default:
		log.Printf("❌ [Winner] mark-paid failed for %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to mark winner paid"})
	}
}

// ListUnpaid handles GET /admin/winners/unpaid
func (s *WinnerService) ListUnpaid(c *fiber.Ctx) error {
	winners, err := s.Ledger.ListUnpaidWinners(c.Context())
	if err != nil {
		log.Printf("❌ [Winner] unpaid list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(fiber.Map{
		"count":   len(winners),
		"winners": winners,
	})
}
