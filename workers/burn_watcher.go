package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"bot-arena-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BurnWatcherClient polls the external burn verifier and mirrors confirmed
// burns into burn_records.
type BurnWatcherClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

// NewBurnWatcherClient returns nil when BURN_VERIFIER_URL is not set; the
// caller skips polling in that case.
func NewBurnWatcherClient(db *gorm.DB) *BurnWatcherClient {
	baseURL := os.Getenv("BURN_VERIFIER_URL")
	if baseURL == "" {
		return nil
	}
	token := os.Getenv("BURN_VERIFIER_TOKEN")

	return &BurnWatcherClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *BurnWatcherClient) GetConfirmedBurns(ctx context.Context, since time.Time) ([]models.BurnRecord, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/burns/confirmed", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.Token != "" {
		req.Header.Set("X-Service-Token", c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call burn verifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("burn verifier returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Burns []models.BurnRecord `json:"burns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode burn verifier response: %w", err)
	}

	return response.Burns, nil
}

// PollBurns mirrors confirmed burns into the database. The tx_hash unique
// index plus DO NOTHING makes re-delivery of the same burn a no-op, so the
// verifier can replay windows freely.
func PollBurns(ctx context.Context, client *BurnWatcherClient, pollInterval time.Duration) {
	log.Println("Starting burn verifier polling...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Burn polling stopped.")
			return
		case <-ticker.C:
			logTime := time.Now().UTC()

			burns, err := client.GetConfirmedBurns(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ Error polling burns: %v", err)
				continue
			}

			count := len(burns)
			if count == 0 {
				lastSyncTime = logTime
				continue
			}

			for i := range burns {
				burns[i].Address = strings.ToLower(burns[i].Address)
				burns[i].Verified = true
			}

			// Bulk insert; rows whose tx_hash is already known are skipped
			if err := client.DB.Clauses(
				clause.OnConflict{
					Columns:   []clause.Column{{Name: "tx_hash"}},
					DoNothing: true,
				},
			).Create(&burns).Error; err != nil {
				log.Printf("❌ Failed to record %d burn(s): %v", count, err)
				// Do NOT advance lastSyncTime on failure — retry same window next tick
				continue
			}

			lastSyncTime = logTime
			log.Printf("✅ Recorded %d verified burn(s).", count)
		}
	}
}
