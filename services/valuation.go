// bot-arena-system/services/valuation.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"bot-arena-system/models"

	"github.com/shopspring/decimal"
)

// Evaluator produces a bot's current portfolio valuation in native units.
// The strategy engine behind it is a black box to this service.
type Evaluator interface {
	Evaluate(ctx context.Context, bot *models.Bot) (decimal.Decimal, error)
}

// PriceFeed converts an amount of the burn token into native units.
type PriceFeed interface {
	TokenToNative(ctx context.Context, tokenAmount decimal.Decimal) (decimal.Decimal, error)
}

type ValuationClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewValuationClient(baseURL, token string) *ValuationClient {
	return &ValuationClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type valuationResponse struct {
	Valuation decimal.Decimal `json:"valuation"`
}

// Evaluate calls /v1/valuate on the valuation service
func (c *ValuationClient) Evaluate(ctx context.Context, bot *models.Bot) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/v1/valuate", c.BaseURL)

	reqBody := map[string]interface{}{
		"bot_id":        bot.ID,
		"owner_address": bot.OwnerAddress,
		"strategy":      bot.Strategy,
	}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return decimal.Zero, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("ValuationService /v1/valuate returned %d: %s", resp.StatusCode, string(body))
		return decimal.Zero, fmt.Errorf("%w: valuation returned %d", ErrUpstream, resp.StatusCode)
	}

	var out valuationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, err
	}

	return out.Valuation, nil
}

type PriceFeedClient struct {
	BaseURL string
	Client  *http.Client
}

func NewPriceFeedClient(baseURL string) *PriceFeedClient {
	return &PriceFeedClient{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type convertResponse struct {
	NativeAmount decimal.Decimal `json:"native_amount"`
}

// TokenToNative calls /v1/convert on the price feed
func (c *PriceFeedClient) TokenToNative(ctx context.Context, tokenAmount decimal.Decimal) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/v1/convert", c.BaseURL)

	reqBody := map[string]interface{}{
		"token_amount": tokenAmount,
	}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return decimal.Zero, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("PriceFeed /v1/convert returned %d: %s", resp.StatusCode, string(body))
		return decimal.Zero, fmt.Errorf("%w: price feed returned %d", ErrUpstream, resp.StatusCode)
	}

	var out convertResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, err
	}

	return out.NativeAmount, nil
}
