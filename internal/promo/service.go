package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vexaro/backend-vpn/internal/db"
)

// Querier captures the database methods required by the promocode service.
type Querier interface {
	GetPromocodeByCode(ctx context.Context, code string) (db.Promocode, error)
	CountPromoRedemptionsByUser(ctx context.Context, arg db.CountPromoRedemptionsByUserParams) (int64, error)
	CountPaidSubscriptionsByUser(ctx context.Context, userID pgtype.UUID) (int64, error)
	GetPromoRedemptionBySubscription(ctx context.Context, arg db.GetPromoRedemptionBySubscriptionParams) (db.PromoRedemption, error)
	InsertPromoRedemption(ctx context.Context, arg db.InsertPromoRedemptionParams) (db.PromoRedemption, error)
	IncreasePromoUsedCount(ctx context.Context, id pgtype.UUID) (bool, error)
}

// PreviewResult describes the outcome of evaluating a promocode without mutating state.
type PreviewResult struct {
	Discount int64  `json:"discount"`
	Code     string `json:"code"`
}

// Service encapsulates promocode evaluation and redemption behaviour.
type Service struct {
	Q                   Querier
	Now                 func() time.Time
	DefaultPerUserLimit int
}

// Preview performs a dry-run evaluation of a code against an order amount.
func (s *Service) Preview(ctx context.Context, code string, userID string, amount int64) (PreviewResult, error) {
	if s == nil || s.Q == nil {
		return PreviewResult{}, errors.New("promo service not configured")
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return PreviewResult{}, fmt.Errorf("code is required: %w", ErrNotEligible)
	}
	promo, err := s.Q.GetPromocodeByCode(ctx, trimmed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PreviewResult{}, ErrNotEligible
		}
		return PreviewResult{}, err
	}
	rule := RuleFromModel(promo)
	rule.DefaultLimit = s.DefaultPerUserLimit

	limit := effectivePerUserLimit(rule)
	if userID != "" {
		userUUID, err := parseUUID(userID)
		if err != nil {
			return PreviewResult{}, fmt.Errorf("invalid user id: %w", err)
		}
		if limit > 0 {
			used, err := s.Q.CountPromoRedemptionsByUser(ctx, db.CountPromoRedemptionsByUserParams{PromoID: promo.ID, UserID: userUUID})
			if err != nil {
				return PreviewResult{}, err
			}
			rule.PerUserUsed = int32(used)
			rule.EffectiveLimit = limit
		}
		if rule.Audience == AudienceNewUsers {
			paid, err := s.Q.CountPaidSubscriptionsByUser(ctx, userUUID)
			if err != nil {
				return PreviewResult{}, err
			}
			rule.FirstPurchase = paid == 0
		}
	} else if limit > 0 {
		rule.EffectiveLimit = limit
	}

	if err := rule.Validate(s.now(), amount); err != nil {
		return PreviewResult{}, err
	}
	discount := Compute(amount, rule)
	if discount <= 0 {
		return PreviewResult{}, ErrNotEligible
	}
	return PreviewResult{Discount: discount, Code: promo.Code}, nil
}

// Redeem records promocode usage once the subscription is paid. Calling it
// again for the same subscription is a no-op.
func (s *Service) Redeem(ctx context.Context, code string, subscriptionID, userID pgtype.UUID, amount int64) error {
	if s == nil || s.Q == nil {
		return errors.New("promo service not configured")
	}
	if strings.TrimSpace(code) == "" || !subscriptionID.Valid {
		return nil
	}
	promo, err := s.Q.GetPromocodeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	if amount < 0 {
		amount = 0
	}
	_, err = s.Q.GetPromoRedemptionBySubscription(ctx, db.GetPromoRedemptionBySubscriptionParams{PromoID: promo.ID, SubscriptionID: subscriptionID})
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if _, err := s.Q.InsertPromoRedemption(ctx, db.InsertPromoRedemptionParams{
		PromoID:        promo.ID,
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Amount:         amount,
	}); err != nil {
		return err
	}
	_, _ = s.Q.IncreasePromoUsedCount(ctx, promo.ID)
	return nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RuleFromModel converts the database row into a Rule used for evaluation.
func RuleFromModel(p db.Promocode) Rule {
	rule := Rule{
		Code:         p.Code,
		Kind:         string(p.Kind),
		Value:        p.Value,
		MinSpend:     p.MinSpend,
		UsedCount:    p.UsedCount,
		PerUserLimit: nullableInt32(p.PerUserLimit),
		PercentBps:   nullableInt32(p.PercentBps),
		Audience:     p.Audience,
		Active:       p.Active,
	}
	if p.ValidFrom.Valid {
		rule.ValidFrom = &p.ValidFrom.Time
	}
	if p.ValidTo.Valid {
		rule.ValidTo = &p.ValidTo.Time
	}
	if p.UsageLimit.Valid {
		limit := p.UsageLimit.Int32
		rule.UsageLimit = &limit
	}
	return rule
}

func effectivePerUserLimit(rule Rule) int32 {
	if rule.PerUserLimit != nil && *rule.PerUserLimit > 0 {
		return *rule.PerUserLimit
	}
	if rule.DefaultLimit > 0 {
		return int32(rule.DefaultLimit)
	}
	return 0
}

func nullableInt32(v pgtype.Int4) *int32 {
	if v.Valid {
		val := v.Int32
		return &val
	}
	return nil
}

func parseUUID(value string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}
