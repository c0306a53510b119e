package promo

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotEligible is returned when the promocode cannot be applied to the provided context.
	ErrNotEligible = errors.New("promocode not eligible")
	// ErrUsageLimitReached indicates the promocode has exhausted the global usage quota.
	ErrUsageLimitReached = errors.New("promocode usage limit reached")
	// ErrPerUserLimitReached indicates the caller has exceeded the per-user allowance.
	ErrPerUserLimitReached = errors.New("promocode per-user usage limit reached")
	// ErrInactive is returned when attempting to use a promocode outside of its active window.
	ErrInactive = errors.New("promocode not active")
	// ErrExpired is returned when the promocode has already expired.
	ErrExpired = errors.New("promocode expired")
	// ErrMinimumSpendUnmet indicates the order total did not meet the promocode requirement.
	ErrMinimumSpendUnmet = errors.New("promocode minimum spend not met")
	// ErrAudienceMismatch indicates the promocode is restricted to first-time buyers.
	ErrAudienceMismatch = errors.New("promocode restricted to new users")
)

// Audience values accepted on a promocode.
const (
	AudienceAll      = "all"
	AudienceNewUsers = "new_users"
)

// Rule captures the runtime constraints of a promocode.
type Rule struct {
	Code           string
	Kind           string
	Value          int64
	PercentBps     *int32
	MinSpend       int64
	UsageLimit     *int32
	UsedCount      int32
	PerUserLimit   *int32
	Audience       string
	ValidFrom      *time.Time
	ValidTo        *time.Time
	Active         bool
	DefaultLimit   int
	PerUserUsed    int32
	EffectiveLimit int32
	FirstPurchase  bool
}

// Validate ensures the rule can be applied at the provided instant and order total.
func (r Rule) Validate(now time.Time, total int64) error {
	if !r.Active {
		return ErrInactive
	}
	if total < r.MinSpend {
		return ErrMinimumSpendUnmet
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrInactive
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return ErrExpired
	}
	if r.Audience == AudienceNewUsers && !r.FirstPurchase {
		return ErrAudienceMismatch
	}
	if r.UsageLimit != nil && *r.UsageLimit >= 0 && r.UsedCount >= *r.UsageLimit {
		return ErrUsageLimitReached
	}
	if r.EffectiveLimit > 0 && r.PerUserUsed >= r.EffectiveLimit {
		return ErrPerUserLimitReached
	}
	return nil
}

// Compute determines the discount amount the rule grants against the given
// remainder. The result never exceeds the remainder.
func Compute(remainder int64, r Rule) int64 {
	if remainder <= 0 {
		return 0
	}
	discount := r.Value
	if strings.EqualFold(r.Kind, "percent") {
		if r.PercentBps == nil || *r.PercentBps <= 0 {
			return 0
		}
		discount = (remainder * int64(*r.PercentBps)) / 10000
	}
	if discount > remainder {
		discount = remainder
	}
	if discount < 0 {
		return 0
	}
	return discount
}
