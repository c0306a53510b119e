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
	"strconv"
	"strings"
	"time"
)

// YooKassa implements the Provider interface for YooKassa confirmation-redirect
// style integrations.
type YooKassa struct {
	ShopID    string
	SecretKey string
	BaseURL   string
	Sandbox   bool
}

// CreateIntent builds a deterministic confirmation token and redirect URL
// without a network call.
func (y YooKassa) CreateIntent(_ context.Context, req IntentRequest) (IntentResponse, error) {
	if strings.TrimSpace(req.SubscriptionID) == "" {
		return IntentResponse{}, errors.New("subscription id is required")
	}
	token := fmt.Sprintf("yk-%s", req.SubscriptionID)
	expiresAt := time.Now().Add(time.Duration(req.ExpiresAtSec) * time.Second)
	return IntentResponse{
		Provider:    "yookassa",
		Token:       token,
		RedirectURL: fmt.Sprintf("%s/checkout/payments/%s", strings.TrimRight(y.checkoutHost(), "/"), token),
		ExpiresAt:   expiresAt.Unix(),
	}, nil
}

func (y YooKassa) checkoutHost() string {
	host := strings.TrimSpace(y.BaseURL)
	if host == "" {
		if y.Sandbox {
			return "https://yoomoney.sandbox.ru"
		}
		return "https://yoomoney.ru"
	}
	return host
}

// VerifyWebhook validates the notification signature and normalises the
// payload into WebhookVerifyResult.
func (y YooKassa) VerifyWebhook(_ *http.Request, body []byte) (WebhookVerifyResult, error) {
	var payload struct {
		Event  string `json:"event"`
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Amount struct {
				Value    string `json:"value"`
				Currency string `json:"currency"`
			} `json:"amount"`
			Metadata struct {
				SubscriptionID string `json:"subscription_id"`
			} `json:"metadata"`
		} `json:"object"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}

	subscriptionID := payload.Object.Metadata.SubscriptionID
	if subscriptionID == "" {
		return WebhookVerifyResult{Valid: false, Err: errors.New("missing subscription id")}, nil
	}

	expected := y.computeSignature(subscriptionID, payload.Object.Status, payload.Object.Amount.Value)
	provided := strings.TrimSpace(payload.Signature)
	if expected == "" || provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return WebhookVerifyResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	amount, err := parseDecimalMinor(payload.Object.Amount.Value)
	if err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}

	status := normaliseYooKassaStatus(payload.Object.Status)

	return WebhookVerifyResult{
		Valid:           true,
		SubscriptionID:  subscriptionID,
		Amount:          amount,
		Status:          status,
		ProviderPayload: body,
	}, nil
}

func (y YooKassa) computeSignature(subscriptionID, status, amount string) string {
	key := strings.TrimSpace(y.SecretKey)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(subscriptionID))
	mac.Write([]byte(status))
	mac.Write([]byte(amount))
	mac.Write([]byte(y.ShopID))
	return hex.EncodeToString(mac.Sum(nil))
}

// parseDecimalMinor converts a decimal major-unit string such as "199.00" into
// minor units.
func parseDecimalMinor(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	if !strings.Contains(trimmed, ".") {
		parsed, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return 0, err
		}
		return parsed * 100, nil
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f * 100)), nil
}

func normaliseYooKassaStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded":
		return "PAID"
	case "pending", "waiting_for_capture":
		return "PENDING"
	case "canceled":
		return "FAILED"
	case "expired":
		return "EXPIRED"
	case "refund.succeeded", "refunded":
		return "REFUNDED"
	default:
		return "PENDING"
	}
}
