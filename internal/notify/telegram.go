package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vexaro/backend-vpn/internal/db"
	"github.com/vexaro/backend-vpn/internal/events"
	"github.com/vexaro/backend-vpn/internal/resilience"
)

// UserLookup resolves notification recipients.
type UserLookup interface {
	GetUserByID(ctx context.Context, id pgtype.UUID) (db.User, error)
}

// TelegramNotifier pushes bot messages for selected topics. Most users sign up
// through the Telegram bot, so the chat id doubles as the delivery address.
type TelegramNotifier struct {
	Client       *http.Client
	Breaker      *resilience.Breaker
	BotToken     string
	BaseURL      string
	Enabled      bool
	Users        UserLookup
	TopicToggles map[string]bool
}

// Notify implements the events.Notifier interface.
func (n TelegramNotifier) Notify(ctx context.Context, event db.DomainEvent) error {
	if !n.Enabled || strings.TrimSpace(n.BotToken) == "" || n.Users == nil {
		return nil
	}
	if n.TopicToggles != nil {
		if enabled, ok := n.TopicToggles[event.Topic]; ok && !enabled {
			return nil
		}
	}
	payload := map[string]any{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("telegram notify: decode payload: %w", err)
		}
	}
	chatID, err := n.resolveChat(ctx, payload)
	if err != nil || chatID == 0 {
		return err
	}
	text := messageFor(event.Topic, payload)
	if text == "" {
		return nil
	}
	return n.send(ctx, chatID, text)
}

func (n TelegramNotifier) resolveChat(ctx context.Context, payload map[string]any) (int64, error) {
	raw, ok := payload["userId"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	id, err := parseUUID(raw)
	if err != nil {
		return 0, nil
	}
	user, err := n.Users.GetUserByID(ctx, id)
	if err != nil {
		return 0, nil
	}
	if !user.TelegramID.Valid {
		return 0, nil
	}
	return user.TelegramID.Int64, nil
}

func (n TelegramNotifier) send(ctx context.Context, chatID int64, text string) error {
	host := strings.TrimRight(strings.TrimSpace(n.BaseURL), "/")
	if host == "" {
		host = "https://api.telegram.org"
	}
	body, err := json.Marshal(map[string]any{"chat_id": chatID, "text": text})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", host, n.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	// Bot messages are best-effort, so transient API failures get a couple of
	// quick retries before the event moves on.
	wrapped := resilience.HTTPClient{Client: client, Breaker: n.Breaker, MaxAttempts: 3, BaseBackoff: 200 * time.Millisecond, Jitter: 0.2}
	resp, err := wrapped.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram notify: status %d", resp.StatusCode)
	}
	return nil
}

func messageFor(topic string, payload map[string]any) string {
	expires := ""
	if v, ok := payload["expiresAt"].(string); ok && v != "" {
		expires = v
	}
	switch topic {
	case events.TopicSubscriptionActivated:
		if expires != "" {
			return fmt.Sprintf("Your subscription is active until %s.", expires)
		}
		return "Your subscription is active."
	case events.TopicSubscriptionRenewed:
		if expires != "" {
			return fmt.Sprintf("Subscription renewed. New expiry: %s.", expires)
		}
		return "Subscription renewed."
	case events.TopicSubscriptionExpired:
		return "Your subscription has expired. Renew to keep your access."
	case events.TopicPaymentFailed:
		return "Payment failed. Please try again or pick another payment method."
	case events.TopicPaymentExpired:
		return "Payment window expired. Open a new payment to continue."
	default:
		return ""
	}
}
