package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
)

// StreamMatchHistorySSE streams new balance samples for one match as they
// land, feeding the live chart. The stream polls the ledger instead of
// tapping the actor so a retired actor never breaks an open connection.
func (s *MatchService) StreamMatchHistorySSE(c *fiber.Ctx) error {
	matchID := c.Params("id")

	if _, err := s.Ledger.GetMatch(c.Context(), matchID); err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Match not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var cursor time.Time

		// Send the full series once so the chart has its baseline.
		bots, err := s.Ledger.ListBots(ctx, matchID)
		if err != nil {
			log.Printf("SSE init error for match %s: %v", matchID, err)
			return
		}
		samples, err := s.Ledger.ListSamples(ctx, matchID)
		if err != nil {
			log.Printf("SSE init error for match %s: %v", matchID, err)
			return
		}
		if len(samples) > 0 {
			cursor = samples[len(samples)-1].SampledAt
		}

		snapshot, _ := json.Marshal(fiber.Map{"balanceHistory": BuildSeries(bots, samples)})
		fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", snapshot)
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				fresh, err := s.Ledger.ListSamplesAfter(ctx, matchID, cursor)
				if err != nil {
					log.Printf("SSE query error for match %s: %v", matchID, err)
					continue
				}
				if len(fresh) == 0 {
					// Keepalive comment so proxies hold the connection open
					w.WriteString(":\n\n")
					if err := w.Flush(); err != nil {
						return
					}
					continue
				}

				cursor = fresh[len(fresh)-1].SampledAt

				for _, sample := range fresh {
					payload, _ := json.Marshal(sample)
					fmt.Fprintf(w, "event: sample\ndata: %s\n\n", payload)
				}

				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-c.Context().Done():
				// Client closed connection
				return
			}
		}
	})

	return nil
}
