package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
)

// CryptoPay implements the Provider interface for a simplified crypto invoice
// integration. Webhooks are signed with HMAC-SHA256 over the raw body, keyed
// by the SHA256 of the API token.
type CryptoPay struct {
	APIToken string
	BaseURL  string
}

// CreateIntent builds a deterministic invoice identifier and pay URL without a
// network call.
func (c CryptoPay) CreateIntent(_ context.Context, req IntentRequest) (IntentResponse, error) {
	if strings.TrimSpace(req.SubscriptionID) == "" {
		return IntentResponse{}, errors.New("subscription id is required")
	}
	token := fmt.Sprintf("cp-%s", req.SubscriptionID)
	expiresAt := time.Now().Add(time.Duration(req.ExpiresAtSec) * time.Second)
	host := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if host == "" {
		host = "https://pay.crypt.bot"
	}
	return IntentResponse{
		Provider:    "cryptopay",
		Token:       token,
		RedirectURL: fmt.Sprintf("%s/%s", host, token),
		ExpiresAt:   expiresAt.Unix(),
	}, nil
}

// VerifyWebhook validates the callback signature and normalises the payload.
func (c CryptoPay) VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error) {
	expected := c.computeSignature(body)
	provided := strings.TrimSpace(r.Header.Get("crypto-pay-api-signature"))
	if expected == "" || provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return WebhookVerifyResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	var payload struct {
		UpdateType string `json:"update_type"`
		Payload    struct {
			InvoiceID json.Number `json:"invoice_id"`
			Status    string      `json:"status"`
			Amount    json.Number `json:"amount"`
			// Payload round-trips the subscription id set at invoice creation.
			Payload string `json:"payload"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}

	subscriptionID := payload.Payload.Payload
	if subscriptionID == "" {
		return WebhookVerifyResult{Valid: false, Err: errors.New("missing subscription id")}, nil
	}

	var amount int64
	if v, err := payload.Payload.Amount.Int64(); err == nil {
		amount = v
	} else if f, err := payload.Payload.Amount.Float64(); err == nil {
		amount = int64(math.Round(f))
	}

	status := normaliseCryptoPayStatus(payload.Payload.Status)

	return WebhookVerifyResult{
		Valid:           true,
		SubscriptionID:  subscriptionID,
		Amount:          amount,
		Status:          status,
		ProviderPayload: body,
	}, nil
}

func (c CryptoPay) computeSignature(body []byte) string {
	token := strings.TrimSpace(c.APIToken)
	if token == "" {
		return ""
	}
	key := sha256.Sum256([]byte(token))
	mac := hmac.New(sha256.New, key[:])
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func normaliseCryptoPayStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "invoice_paid":
		return "PAID"
	case "active", "pending":
		return "PENDING"
	case "expired":
		return "EXPIRED"
	case "failed", "canceled":
		return "FAILED"
	default:
		return "PENDING"
	}
}
