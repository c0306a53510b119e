package promo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vexaro/backend-vpn/internal/db"
)

type stubQueries struct {
	promo      db.Promocode
	usageCount int64
	paidSubs   int64
	redeemed   bool
	inserted   []db.InsertPromoRedemptionParams
	bumps      int
}

func (s *stubQueries) GetPromocodeByCode(ctx context.Context, code string) (db.Promocode, error) {
	if s.promo.Code == "" {
		return db.Promocode{}, pgx.ErrNoRows
	}
	return s.promo, nil
}

func (s *stubQueries) CountPromoRedemptionsByUser(ctx context.Context, arg db.CountPromoRedemptionsByUserParams) (int64, error) {
	return s.usageCount, nil
}

func (s *stubQueries) CountPaidSubscriptionsByUser(ctx context.Context, userID pgtype.UUID) (int64, error) {
	return s.paidSubs, nil
}

func (s *stubQueries) GetPromoRedemptionBySubscription(ctx context.Context, arg db.GetPromoRedemptionBySubscriptionParams) (db.PromoRedemption, error) {
	if s.redeemed {
		return db.PromoRedemption{ID: s.promo.ID}, nil
	}
	return db.PromoRedemption{}, pgx.ErrNoRows
}

func (s *stubQueries) InsertPromoRedemption(ctx context.Context, arg db.InsertPromoRedemptionParams) (db.PromoRedemption, error) {
	s.inserted = append(s.inserted, arg)
	return db.PromoRedemption{}, nil
}

func (s *stubQueries) IncreasePromoUsedCount(ctx context.Context, id pgtype.UUID) (bool, error) {
	s.bumps++
	return true, nil
}

func newPromo(value int64, kind db.PromoKind) db.Promocode {
	return db.Promocode{
		ID:        pgtype.UUID{Bytes: uuid.New(), Valid: true},
		Code:      "WELCOME",
		Kind:      kind,
		Value:     value,
		MinSpend:  1_000,
		Audience:  AudienceAll,
		Active:    true,
		ValidFrom: pgtype.Timestamptz{Time: time.Now().Add(-time.Hour), Valid: true},
		ValidTo:   pgtype.Timestamptz{Time: time.Now().Add(time.Hour), Valid: true},
	}
}

func TestPreviewMinSpend(t *testing.T) {
	svc := &Service{Q: &stubQueries{promo: newPromo(500, db.PromoKindFixedAmount)}}
	_, err := svc.Preview(context.Background(), "WELCOME", "", 500)
	if !errors.Is(err, ErrMinimumSpendUnmet) {
		t.Fatalf("expected ErrMinimumSpendUnmet, got %v", err)
	}
}

func TestPreviewUnknownCode(t *testing.T) {
	svc := &Service{Q: &stubQueries{}}
	_, err := svc.Preview(context.Background(), "MISSING", "", 10_000)
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestPreviewPerUserLimit(t *testing.T) {
	p := newPromo(500, db.PromoKindFixedAmount)
	p.PerUserLimit = pgtype.Int4{Int32: 1, Valid: true}
	svc := &Service{Q: &stubQueries{promo: p, usageCount: 1}}
	_, err := svc.Preview(context.Background(), "WELCOME", uuid.New().String(), 10_000)
	if !errors.Is(err, ErrPerUserLimitReached) {
		t.Fatalf("expected ErrPerUserLimitReached, got %v", err)
	}
}

func TestPreviewNewUsersAudience(t *testing.T) {
	p := newPromo(500, db.PromoKindFixedAmount)
	p.Audience = AudienceNewUsers
	q := &stubQueries{promo: p, paidSubs: 2}
	svc := &Service{Q: q}
	_, err := svc.Preview(context.Background(), "WELCOME", uuid.New().String(), 10_000)
	if !errors.Is(err, ErrAudienceMismatch) {
		t.Fatalf("expected ErrAudienceMismatch, got %v", err)
	}

	q.paidSubs = 0
	result, err := svc.Preview(context.Background(), "WELCOME", uuid.New().String(), 10_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Discount != 500 {
		t.Fatalf("expected discount 500, got %d", result.Discount)
	}
}

func TestRedeemIdempotent(t *testing.T) {
	q := &stubQueries{promo: newPromo(500, db.PromoKindFixedAmount), redeemed: true}
	svc := &Service{Q: q}
	subID := pgtype.UUID{Bytes: uuid.New(), Valid: true}
	userID := pgtype.UUID{Bytes: uuid.New(), Valid: true}
	if err := svc.Redeem(context.Background(), "WELCOME", subID, userID, 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.inserted) != 0 || q.bumps != 0 {
		t.Fatalf("expected no writes for an already redeemed subscription")
	}
}

func TestRedeemRecordsUsage(t *testing.T) {
	q := &stubQueries{promo: newPromo(500, db.PromoKindFixedAmount)}
	svc := &Service{Q: q}
	subID := pgtype.UUID{Bytes: uuid.New(), Valid: true}
	userID := pgtype.UUID{Bytes: uuid.New(), Valid: true}
	if err := svc.Redeem(context.Background(), "WELCOME", subID, userID, 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.inserted) != 1 {
		t.Fatalf("expected one redemption insert, got %d", len(q.inserted))
	}
	if q.inserted[0].Amount != 500 {
		t.Fatalf("expected settled amount 500, got %d", q.inserted[0].Amount)
	}
	if q.bumps != 1 {
		t.Fatalf("expected used count bump, got %d", q.bumps)
	}
}

func TestSourceDegradesEligibilityErrors(t *testing.T) {
	svc := &Service{Q: &stubQueries{}}
	src := Source{Svc: svc}
	amount, err := src.PromoDiscount(context.Background(), "MISSING", 10_000, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != 0 {
		t.Fatalf("expected zero discount for unknown code, got %d", amount)
	}
}
