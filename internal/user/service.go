package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vexaro/backend-vpn/internal/db"
	"github.com/vexaro/backend-vpn/internal/pricing"
)

// Querier captures the database methods required by the user service.
type Querier interface {
	GetUserByID(ctx context.Context, id pgtype.UUID) (db.User, error)
	GetActivePersonalDiscount(ctx context.Context, userID pgtype.UUID) (db.PersonalDiscount, error)
	UpsertPersonalDiscount(ctx context.Context, arg db.UpsertPersonalDiscountParams) (db.PersonalDiscount, error)
	SetUserPurchaseDiscount(ctx context.Context, arg db.SetUserPurchaseDiscountParams) error
	ClearUserPurchaseDiscount(ctx context.Context, id pgtype.UUID) error
}

// Service reads and mutates user discount state. It is the personal and
// profile source for quote computation.
type Service struct {
	Q   Querier
	Now func() time.Time
}

// ActivePersonalPercent returns the percent of the user's active personal
// discount, or 0 when none is in effect. It satisfies pricing.PersonalSource.
func (s *Service) ActivePersonalPercent(ctx context.Context, userID string) (int64, error) {
	if s == nil || s.Q == nil {
		return 0, errors.New("user service not configured")
	}
	id, err := parseUUID(userID)
	if err != nil {
		return 0, nil
	}
	record, err := s.Q.GetActivePersonalDiscount(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return int64(record.Percent), nil
}

// DiscountProfile reads the discount-related fields from the user row. It
// satisfies pricing.ProfileSource.
func (s *Service) DiscountProfile(ctx context.Context, userID string) (pricing.Profile, error) {
	if s == nil || s.Q == nil {
		return pricing.Profile{}, errors.New("user service not configured")
	}
	id, err := parseUUID(userID)
	if err != nil {
		return pricing.Profile{}, nil
	}
	row, err := s.Q.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.Profile{}, nil
		}
		return pricing.Profile{}, err
	}
	profile := pricing.Profile{
		LegacyPercent:   int64(row.LegacyDiscountPercent),
		PurchasePercent: int64(row.PurchaseDiscountPercent),
	}
	if row.PurchaseDiscountExpiresAt.Valid {
		expires := row.PurchaseDiscountExpiresAt.Time
		profile.PurchaseExpiresAt = &expires
	}
	return profile, nil
}

// GrantPersonalDiscount records or replaces the user's personal discount.
func (s *Service) GrantPersonalDiscount(ctx context.Context, userID string, percent int32, validFrom, validUntil *time.Time) (db.PersonalDiscount, error) {
	if s == nil || s.Q == nil {
		return db.PersonalDiscount{}, errors.New("user service not configured")
	}
	if percent < 0 || percent > 100 {
		return db.PersonalDiscount{}, errors.New("percent must be within 0..100")
	}
	id, err := parseUUID(userID)
	if err != nil {
		return db.PersonalDiscount{}, errors.New("invalid user id")
	}
	params := db.UpsertPersonalDiscountParams{UserID: id, Percent: percent}
	if validFrom != nil {
		params.ValidFrom = pgtype.Timestamptz{Time: *validFrom, Valid: true}
	}
	if validUntil != nil {
		params.ValidUntil = pgtype.Timestamptz{Time: *validUntil, Valid: true}
	}
	return s.Q.UpsertPersonalDiscount(ctx, params)
}

// GrantPurchaseDiscount sets the one-shot purchase discount on the user row.
func (s *Service) GrantPurchaseDiscount(ctx context.Context, userID string, percent int32, expiresAt *time.Time) error {
	if s == nil || s.Q == nil {
		return errors.New("user service not configured")
	}
	if percent < 0 || percent > 100 {
		return errors.New("percent must be within 0..100")
	}
	id, err := parseUUID(userID)
	if err != nil {
		return errors.New("invalid user id")
	}
	params := db.SetUserPurchaseDiscountParams{ID: id, Percent: percent}
	if expiresAt != nil {
		params.ExpiresAt = pgtype.Timestamptz{Time: *expiresAt, Valid: true}
	}
	return s.Q.SetUserPurchaseDiscount(ctx, params)
}

// ConsumePurchaseDiscount clears the one-shot purchase discount after it has
// been applied to a settled payment.
func (s *Service) ConsumePurchaseDiscount(ctx context.Context, userID pgtype.UUID) error {
	if s == nil || s.Q == nil {
		return errors.New("user service not configured")
	}
	if !userID.Valid {
		return nil
	}
	return s.Q.ClearUserPurchaseDiscount(ctx, userID)
}

func parseUUID(value string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}
