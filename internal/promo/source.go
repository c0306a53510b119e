package promo

import (
	"context"
	"errors"
)

// Source adapts the promocode service to the pricing engine. Eligibility
// failures degrade to a zero discount; only infrastructure errors surface.
type Source struct {
	Svc *Service
}

func (s Source) PromoDiscount(ctx context.Context, code string, amount int64, userID string) (int64, error) {
	if s.Svc == nil {
		return 0, nil
	}
	result, err := s.Svc.Preview(ctx, code, userID, amount)
	if err != nil {
		if isEligibilityError(err) {
			return 0, nil
		}
		return 0, err
	}
	return result.Discount, nil
}

func isEligibilityError(err error) bool {
	for _, known := range []error{
		ErrNotEligible, ErrUsageLimitReached, ErrPerUserLimitReached,
		ErrInactive, ErrExpired, ErrMinimumSpendUnmet, ErrAudienceMismatch,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}
