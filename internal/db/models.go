package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// SubscriptionStatus enumerates subscription lifecycle states.
type SubscriptionStatus string

const (
	SubscriptionStatusPENDINGPAYMENT SubscriptionStatus = "PENDING_PAYMENT"
	SubscriptionStatusACTIVE         SubscriptionStatus = "ACTIVE"
	SubscriptionStatusEXPIRED        SubscriptionStatus = "EXPIRED"
	SubscriptionStatusCANCELED       SubscriptionStatus = "CANCELED"
)

// PaymentStatus enumerates payment lifecycle states.
type PaymentStatus string

const (
	PaymentStatusPENDING  PaymentStatus = "PENDING"
	PaymentStatusPAID     PaymentStatus = "PAID"
	PaymentStatusFAILED   PaymentStatus = "FAILED"
	PaymentStatusEXPIRED  PaymentStatus = "EXPIRED"
	PaymentStatusREFUNDED PaymentStatus = "REFUNDED"
)

// PromoKind enumerates promocode reward types.
type PromoKind string

const (
	PromoKindFixedAmount PromoKind = "fixed_amount"
	PromoKindPercent     PromoKind = "percent"
)

// DeliveryStatus enumerates webhook delivery states.
type DeliveryStatus string

const (
	DeliveryStatusQueued     DeliveryStatus = "queued"
	DeliveryStatusDelivering DeliveryStatus = "delivering"
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
	DeliveryStatusFailed     DeliveryStatus = "failed"
	DeliveryStatusDlq        DeliveryStatus = "dlq"
)

// User is an account on the platform. Admin accounts carry a password hash
// and the admin role; end users are usually created from Telegram and have
// neither.
type User struct {
	ID                        pgtype.UUID
	TelegramID                pgtype.Int8
	Email                     string
	Name                      string
	PasswordHash              pgtype.Text
	Roles                     []string
	LegacyDiscountPercent     int32
	PurchaseDiscountPercent   int32
	PurchaseDiscountExpiresAt pgtype.Timestamptz
	CreatedAt                 pgtype.Timestamptz
	UpdatedAt                 pgtype.Timestamptz
}

// Session is a refresh-token session row.
type Session struct {
	ID        pgtype.UUID
	UserID    pgtype.UUID
	TokenHash string
	UserAgent pgtype.Text
	IP        pgtype.Text
	ExpiresAt pgtype.Timestamptz
	RevokedAt pgtype.Timestamptz
	CreatedAt pgtype.Timestamptz
}

// PersonalDiscount is a time-bounded per-user percentage discount.
type PersonalDiscount struct {
	ID         pgtype.UUID
	UserID     pgtype.UUID
	Percent    int32
	ValidFrom  pgtype.Timestamptz
	ValidUntil pgtype.Timestamptz
	CreatedAt  pgtype.Timestamptz
}

// Plan is a purchasable VPN plan.
type Plan struct {
	ID          pgtype.UUID
	Slug        string
	Name        string
	Description pgtype.Text
	DeviceLimit int32
	Active      bool
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

// PlanDuration is a priced billing period for a plan. Price is stored in
// minor units of the settlement currency.
type PlanDuration struct {
	ID           pgtype.UUID
	PlanID       pgtype.UUID
	DurationDays int32
	Price        int64
	Active       bool
	CreatedAt    pgtype.Timestamptz
}

// Promocode is a redeemable discount code.
type Promocode struct {
	ID           pgtype.UUID
	Code         string
	Kind         PromoKind
	Value        int64
	PercentBps   pgtype.Int4
	MinSpend     int64
	UsageLimit   pgtype.Int4
	UsedCount    int32
	PerUserLimit pgtype.Int4
	Audience     string
	ValidFrom    pgtype.Timestamptz
	ValidTo      pgtype.Timestamptz
	Active       bool
	CreatedAt    pgtype.Timestamptz
}

// PromoRedemption records a settled promocode use.
type PromoRedemption struct {
	ID             pgtype.UUID
	PromoID        pgtype.UUID
	UserID         pgtype.UUID
	SubscriptionID pgtype.UUID
	Amount         int64
	CreatedAt      pgtype.Timestamptz
}

// Subscription snapshots the itemized price quote it was purchased with.
type Subscription struct {
	ID                      pgtype.UUID
	UserID                  pgtype.UUID
	PlanID                  pgtype.UUID
	DurationID              pgtype.UUID
	Quantity                int32
	Status                  SubscriptionStatus
	Promocode               pgtype.Text
	PricingBase             int64
	PricingBundleDiscount   int64
	PricingPersonalDiscount int64
	PricingPurchaseDiscount int64
	PricingPromoDiscount    int64
	PricingTotal            int64
	Currency                string
	StartsAt                pgtype.Timestamptz
	ExpiresAt               pgtype.Timestamptz
	CreatedAt               pgtype.Timestamptz
	UpdatedAt               pgtype.Timestamptz
}

// Payment is a gateway payment attempt for a subscription.
type Payment struct {
	ID              pgtype.UUID
	SubscriptionID  pgtype.UUID
	Provider        pgtype.Text
	Channel         pgtype.Text
	Status          PaymentStatus
	Amount          pgtype.Int8
	IntentToken     pgtype.Text
	RedirectUrl     pgtype.Text
	ProviderPayload []byte
	ExpiresAt       pgtype.Timestamptz
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

// PaymentEvent is an append-only status transition record.
type PaymentEvent struct {
	ID        pgtype.UUID
	PaymentID pgtype.UUID
	Status    PaymentStatus
	Payload   []byte
	CreatedAt pgtype.Timestamptz
}

// DomainEvent is a persisted platform event.
type DomainEvent struct {
	ID          pgtype.UUID
	Topic       string
	AggregateID pgtype.UUID
	Payload     []byte
	OccurredAt  pgtype.Timestamptz
}

// WebhookEndpoint is a partner-registered delivery target.
type WebhookEndpoint struct {
	ID        pgtype.UUID
	Url       string
	Secret    string
	Topics    []string
	Active    bool
	CreatedAt pgtype.Timestamptz
	UpdatedAt pgtype.Timestamptz
}

// WebhookDelivery tracks one event delivery to one endpoint.
type WebhookDelivery struct {
	ID             pgtype.UUID
	EndpointID     pgtype.UUID
	EventID        pgtype.UUID
	Status         DeliveryStatus
	Attempt        int32
	MaxAttempt     int32
	NextAttemptAt  pgtype.Timestamptz
	ResponseStatus pgtype.Int4
	ResponseBody   pgtype.Text
	LastError      pgtype.Text
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}

// WebhookDlq is a dead-lettered delivery.
type WebhookDlq struct {
	ID         pgtype.UUID
	DeliveryID pgtype.UUID
	Reason     pgtype.Text
	CreatedAt  pgtype.Timestamptz
}
