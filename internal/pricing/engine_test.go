package pricing

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

type stubPlans struct {
	price Money
	err   error
}

func (s stubPlans) UnitPrice(context.Context, string, string) (Money, error) {
	return s.price, s.err
}

type stubPersonal struct{ percent int64 }

func (s stubPersonal) ActivePersonalPercent(context.Context, string) (int64, error) {
	return s.percent, nil
}

type stubProfiles struct{ profile Profile }

func (s stubProfiles) DiscountProfile(context.Context, string) (Profile, error) {
	return s.profile, nil
}

type stubPromos struct {
	discount Money
	calls    int
	lastAmt  Money
}

func (s *stubPromos) PromoDiscount(_ context.Context, _ string, amount Money, _ string) (Money, error) {
	s.calls++
	s.lastAmt = amount
	if s.discount > amount {
		return amount, nil
	}
	return s.discount, nil
}

func newEngine(price Money) *Engine {
	return &Engine{
		Plans:    stubPlans{price: price},
		Personal: stubPersonal{},
		Profiles: stubProfiles{},
		Currency: "RUB",
	}
}

func TestQuoteNoDiscounts(t *testing.T) {
	e := newEngine(10_00)
	q, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.BasePrice != 10_00 || q.FinalPrice != 10_00 {
		t.Fatalf("expected base=final=1000, got base=%d final=%d", q.BasePrice, q.FinalPrice)
	}
	if len(q.Applied) != 0 {
		t.Fatalf("expected no applied discounts, got %d", len(q.Applied))
	}
}

func TestQuoteBundleTier(t *testing.T) {
	e := newEngine(10_00)
	q, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.BasePrice != 30_00 {
		t.Fatalf("expected base 3000, got %d", q.BasePrice)
	}
	if q.BundleDiscount != 3_00 {
		t.Fatalf("expected bundle discount 300, got %d", q.BundleDiscount)
	}
	if q.FinalPrice != 27_00 {
		t.Fatalf("expected final 2700, got %d", q.FinalPrice)
	}
	if len(q.Applied) != 1 || q.Applied[0].Kind != KindBundle {
		t.Fatalf("expected single bundle entry, got %+v", q.Applied)
	}
}

func TestQuotePersonalPercent(t *testing.T) {
	e := newEngine(100_00)
	e.Personal = stubPersonal{percent: 20}
	q, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.PersonalDiscount != 20_00 {
		t.Fatalf("expected personal 2000, got %d", q.PersonalDiscount)
	}
	if q.FinalPrice != 80_00 {
		t.Fatalf("expected final 8000, got %d", q.FinalPrice)
	}
}

// Each stage prices against the remainder of the previous one: 20% of 10000
// then 10% of the remaining 8000 yields 7200, not 7000.
func TestQuoteSequentialComposition(t *testing.T) {
	e := newEngine(100_00)
	e.Personal = stubPersonal{percent: 20}
	e.Profiles = stubProfiles{profile: Profile{PurchasePercent: 10}}
	q, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.PersonalDiscount != 20_00 {
		t.Fatalf("expected personal 2000, got %d", q.PersonalDiscount)
	}
	if q.PurchaseDiscount != 8_00 {
		t.Fatalf("expected purchase 800 computed on remainder, got %d", q.PurchaseDiscount)
	}
	if q.FinalPrice != 72_00 {
		t.Fatalf("expected final 7200, got %d", q.FinalPrice)
	}
}

// The personal stage must run before the promocode stage: a percent promo is
// computed on the post-personal remainder, so the combined discount is
// smaller than it would be in the reverse order.
func TestQuoteOrderingPersonalBeforePromo(t *testing.T) {
	e := newEngine(100_00)
	e.Personal = stubPersonal{percent: 20}
	promos := &stubPromos{discount: 40_00} // 50% of the 8000 remainder
	e.Promos = promos
	code := "HALF"
	q, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: 1, Promocode: &code})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if promos.lastAmt != 80_00 {
		t.Fatalf("promo must see the post-personal remainder 8000, saw %d", promos.lastAmt)
	}
	if q.TotalDiscount != 60_00 || q.FinalPrice != 40_00 {
		t.Fatalf("expected total 6000 final 4000, got total=%d final=%d", q.TotalDiscount, q.FinalPrice)
	}
}

func TestQuoteInvalidPromocodeDegradesToZero(t *testing.T) {
	e := newEngine(100_00)
	e.Promos = &stubPromos{discount: 0}
	code := "EXPIRED"
	q, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: 1, Promocode: &code})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.PromoDiscount != 0 || q.FinalPrice != 100_00 {
		t.Fatalf("expected unaffected quote, got promo=%d final=%d", q.PromoDiscount, q.FinalPrice)
	}
}

func TestQuoteNeverNegative(t *testing.T) {
	e := newEngine(10_00)
	e.Personal = stubPersonal{percent: 100}
	e.Promos = &stubPromos{discount: 999_99}
	code := "BIG"
	q, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: 1, Promocode: &code})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.FinalPrice < 0 {
		t.Fatalf("final price went negative: %d", q.FinalPrice)
	}
	if q.TotalDiscount > q.BasePrice {
		t.Fatalf("total discount %d exceeds base %d", q.TotalDiscount, q.BasePrice)
	}
}

func TestQuotePurchaseDiscountExpiry(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	e := newEngine(100_00)
	e.Profiles = stubProfiles{profile: Profile{PurchasePercent: 10, PurchaseExpiresAt: &past}}
	q, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.PurchaseDiscount != 0 {
		t.Fatalf("expired purchase discount applied: %d", q.PurchaseDiscount)
	}
}

func TestQuoteRenewalSkipsPurchaseDiscount(t *testing.T) {
	e := newEngine(100_00)
	e.Profiles = stubProfiles{profile: Profile{PurchasePercent: 10}}
	q, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: 1, IsRenewal: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.PurchaseDiscount != 0 {
		t.Fatalf("renewal must not receive first-purchase discount, got %d", q.PurchaseDiscount)
	}
}

func TestQuoteLegacyFallback(t *testing.T) {
	e := newEngine(100_00)
	e.Personal = stubPersonal{percent: 0}
	e.Profiles = stubProfiles{profile: Profile{LegacyPercent: 15}}
	q, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.PersonalDiscount != 15_00 {
		t.Fatalf("expected legacy fallback 1500, got %d", q.PersonalDiscount)
	}
}

func TestQuoteMissingPriceIsAnError(t *testing.T) {
	e := newEngine(0)
	e.Plans = stubPlans{err: ErrPriceNotFound}
	_, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: 1})
	if !errors.Is(err, ErrPriceNotFound) {
		t.Fatalf("expected ErrPriceNotFound, got %v", err)
	}
}

func TestQuoteIdempotent(t *testing.T) {
	e := newEngine(100_00)
	e.Personal = stubPersonal{percent: 7}
	in := Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: 5}
	first, err := e.Quote(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.Quote(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.FinalPrice != second.FinalPrice || first.TotalDiscount != second.TotalDiscount {
		t.Fatalf("identical inputs produced different quotes: %+v vs %+v", first, second)
	}
}

// Crossing a tier threshold never raises the effective per-unit price.
func TestQuotePerUnitMonotonic(t *testing.T) {
	e := newEngine(10_00)
	prev := int64(1 << 62)
	for qty := 1; qty <= 12; qty++ {
		q, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: qty})
		if err != nil {
			t.Fatalf("qty %d: %v", qty, err)
		}
		perUnit := q.FinalPrice / int64(qty)
		if perUnit > prev {
			t.Fatalf("per-unit price rose from %d to %d at qty %d", prev, perUnit, qty)
		}
		prev = perUnit
	}
}

// A quantity large enough to overflow the base multiplication must be
// rejected, never priced: the final clamp would otherwise turn the wrapped
// negative base into a zero-price quote.
func TestQuoteRejectsExcessiveQuantity(t *testing.T) {
	e := newEngine(10_00)
	for _, qty := range []int{MaxQuantity + 1, 1 << 60} {
		q, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: qty})
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("qty %d: expected ErrInvalidQuantity, got err=%v quote=%+v", qty, err, q)
		}
	}
}

func TestQuoteRejectsBaseOverflow(t *testing.T) {
	e := newEngine(Money(math.MaxInt64 / 2))
	_, err := e.Quote(context.Background(), Input{UserID: "u", PlanID: "p", DurationID: "d", Quantity: 3})
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}
