package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// ErrPriceNotFound is returned when no unit price exists for the requested
// plan and duration. A quote is never silently computed from a zero base.
var ErrPriceNotFound = errors.New("pricing: plan price not found")

// ErrInvalidQuantity is returned when the requested quantity exceeds
// MaxQuantity or when unit price times quantity does not fit in int64.
var ErrInvalidQuantity = errors.New("pricing: quantity out of range")

// MaxQuantity bounds a single order. It sits well above the largest bundle
// tier while keeping the base-price multiplication far from overflow.
const MaxQuantity = 1000

// DiscountKind identifies the source of an applied discount.
type DiscountKind string

const (
	KindBundle        DiscountKind = "bundle"
	KindPersonal      DiscountKind = "personal"
	KindFirstPurchase DiscountKind = "first_purchase"
	KindPromocode     DiscountKind = "promocode"
)

// AppliedDiscount records a single discount source that contributed to a quote.
type AppliedDiscount struct {
	Kind        DiscountKind `json:"kind"`
	Amount      Money        `json:"amount"`
	Description string       `json:"description"`
}

// Quote is the itemized result of composing all discount sources against the
// base price. It is computed fresh per request and never persisted by the
// engine itself.
type Quote struct {
	BasePrice        Money             `json:"basePrice"`
	BundleDiscount   Money             `json:"bundleDiscount"`
	PersonalDiscount Money             `json:"personalDiscount"`
	PurchaseDiscount Money             `json:"purchaseDiscount"`
	PromoDiscount    Money             `json:"promoDiscount"`
	TotalDiscount    Money             `json:"totalDiscount"`
	FinalPrice       Money             `json:"finalPrice"`
	Currency         string            `json:"currency"`
	Applied          []AppliedDiscount `json:"applied"`
}

// Input identifies the subject of a pricing request.
type Input struct {
	UserID     string
	PlanID     string
	DurationID string
	Quantity   int
	Promocode  *string
	IsRenewal  bool
}

// Profile carries the purchase-discount fields read from the user record.
type Profile struct {
	LegacyPercent     int64
	PurchasePercent   int64
	PurchaseExpiresAt *time.Time
}

// PlanSource resolves the unit price for a plan duration.
type PlanSource interface {
	UnitPrice(ctx context.Context, planID, durationID string) (Money, error)
}

// PersonalSource resolves the active personal-discount percent for a user.
// It returns 0 when no record is active.
type PersonalSource interface {
	ActivePersonalPercent(ctx context.Context, userID string) (int64, error)
}

// ProfileSource reads the discount-related fields from the user profile.
type ProfileSource interface {
	DiscountProfile(ctx context.Context, userID string) (Profile, error)
}

// PromoSource computes the promocode discount against the remaining balance.
// Invalid, expired, or ineligible codes yield a zero discount, never an error.
type PromoSource interface {
	PromoDiscount(ctx context.Context, code string, amount Money, userID string) (Money, error)
}

// Engine composes bundle, personal, first-purchase, and promocode discounts
// into an itemized quote. It is stateless; every call re-reads its sources.
type Engine struct {
	Plans    PlanSource
	Personal PersonalSource
	Profiles ProfileSource
	Promos   PromoSource
	Tiers    []Tier
	Currency string
	Now      func() time.Time
}

func (e *Engine) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) tiers() []Tier {
	if e == nil || len(e.Tiers) == 0 {
		return DefaultBundleTiers
	}
	return e.Tiers
}

// Quote prices the request. Discount stages are applied in a fixed order
// (bundle, personal, first-purchase, promocode), each against the balance
// remaining after the previous stage. The order changes the numeric result
// and is part of the pricing contract.
func (e *Engine) Quote(ctx context.Context, in Input) (Quote, error) {
	if e == nil || e.Plans == nil {
		return Quote{}, errors.New("pricing: engine not configured")
	}
	qty := in.Quantity
	if qty < 1 {
		qty = 1
	}
	if qty > MaxQuantity {
		return Quote{}, ErrInvalidQuantity
	}

	unitPrice, personalPercent, profile, err := e.resolveSources(ctx, in)
	if err != nil {
		return Quote{}, err
	}

	base := unitPrice * Money(qty)
	if unitPrice > 0 && base/Money(qty) != unitPrice {
		return Quote{}, ErrInvalidQuantity
	}
	quote := Quote{BasePrice: base, Currency: e.Currency}

	remaining := base
	if qty > 1 {
		if percent := BundlePercent(e.tiers(), qty); percent > 0 {
			quote.BundleDiscount = base * percent / 100
			remaining -= quote.BundleDiscount
			quote.Applied = append(quote.Applied, AppliedDiscount{
				Kind:        KindBundle,
				Amount:      quote.BundleDiscount,
				Description: fmt.Sprintf("%d%% for %d subscriptions", percent, qty),
			})
		}
	}

	if personalPercent > 0 {
		quote.PersonalDiscount = remaining * personalPercent / 100
		remaining -= quote.PersonalDiscount
		if quote.PersonalDiscount > 0 {
			quote.Applied = append(quote.Applied, AppliedDiscount{
				Kind:        KindPersonal,
				Amount:      quote.PersonalDiscount,
				Description: fmt.Sprintf("personal %d%%", personalPercent),
			})
		}
	}

	if percent := e.purchasePercent(profile, in.IsRenewal); percent > 0 {
		quote.PurchaseDiscount = remaining * percent / 100
		remaining -= quote.PurchaseDiscount
		if quote.PurchaseDiscount > 0 {
			quote.Applied = append(quote.Applied, AppliedDiscount{
				Kind:        KindFirstPurchase,
				Amount:      quote.PurchaseDiscount,
				Description: fmt.Sprintf("first purchase %d%%", percent),
			})
		}
	}

	if e.Promos != nil && in.Promocode != nil {
		code := strings.TrimSpace(*in.Promocode)
		if code != "" && remaining > 0 {
			amount, err := e.Promos.PromoDiscount(ctx, code, remaining, in.UserID)
			if err != nil {
				return Quote{}, fmt.Errorf("pricing: resolve promocode: %w", err)
			}
			if amount > remaining {
				amount = remaining
			}
			if amount > 0 {
				quote.PromoDiscount = amount
				remaining -= amount
				quote.Applied = append(quote.Applied, AppliedDiscount{
					Kind:        KindPromocode,
					Amount:      amount,
					Description: code,
				})
			}
		}
	}

	quote.TotalDiscount = quote.BundleDiscount + quote.PersonalDiscount + quote.PurchaseDiscount + quote.PromoDiscount
	if quote.TotalDiscount > base {
		quote.TotalDiscount = base
	}
	quote.FinalPrice = base - quote.TotalDiscount
	if quote.FinalPrice < 0 {
		quote.FinalPrice = 0
	}
	return quote, nil
}

// resolveSources issues the independent reads concurrently. All three must
// complete before composition starts because each discount stage prices
// against the running remainder, not against resolver completion order.
func (e *Engine) resolveSources(ctx context.Context, in Input) (Money, int64, Profile, error) {
	var (
		wg              sync.WaitGroup
		mu              sync.Mutex
		firstErr        error
		unitPrice       Money
		personalPercent int64
		profile         Profile
	)
	record := func(err error) {
		mu.Lock()
		if firstErr == nil && err != nil {
			firstErr = err
		}
		mu.Unlock()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		price, err := e.Plans.UnitPrice(ctx, in.PlanID, in.DurationID)
		if err != nil {
			record(err)
			return
		}
		unitPrice = price
	}()

	if e.Personal != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			percent, err := e.Personal.ActivePersonalPercent(ctx, in.UserID)
			if err != nil {
				record(err)
				return
			}
			personalPercent = percent
		}()
	}

	if e.Profiles != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := e.Profiles.DiscountProfile(ctx, in.UserID)
			if err != nil {
				record(err)
				return
			}
			profile = p
		}()
	}

	wg.Wait()
	if firstErr != nil {
		return 0, 0, Profile{}, firstErr
	}

	// The active personal record wins only when it carries a positive
	// percent; otherwise the legacy flat field on the profile applies.
	if personalPercent <= 0 {
		personalPercent = profile.LegacyPercent
	}
	if personalPercent < 0 {
		personalPercent = 0
	}
	return unitPrice, personalPercent, profile, nil
}

func (e *Engine) purchasePercent(p Profile, renewal bool) int64 {
	if renewal {
		return 0
	}
	if p.PurchasePercent <= 0 {
		return 0
	}
	if p.PurchaseExpiresAt != nil && p.PurchaseExpiresAt.Before(e.now()) {
		return 0
	}
	return p.PurchasePercent
}
