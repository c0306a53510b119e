package payment

import (
	"context"
	"net/http"
)

// IntentRequest carries what a provider needs to open a payment intent.
// Amount is in minor currency units.
type IntentRequest struct {
	SubscriptionID  string
	Amount          int64
	Currency        string
	Channel         string
	ExpiresAtSec    int
	CallbackBaseURL string
}

// IntentResponse is the minimal provider answer for a created intent.
type IntentResponse struct {
	Provider    string
	Token       string
	RedirectURL string
	ExpiresAt   int64
}

// WebhookVerifyResult holds the normalised data extracted from a provider
// notification after signature verification. Err describes why Valid is
// false without failing the HTTP exchange.
type WebhookVerifyResult struct {
	Valid           bool
	SubscriptionID  string
	Amount          int64
	Status          string
	ProviderPayload []byte
	Err             error
}

// Provider abstracts an upstream payment provider. Implementations exist for
// YooKassa and CryptoPay.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error)
	VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error)
}
