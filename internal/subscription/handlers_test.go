package subscription_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vexaro/backend-vpn/internal/common"
	"github.com/vexaro/backend-vpn/internal/pricing"
	"github.com/vexaro/backend-vpn/internal/subscription"
)

type stubPlans struct {
	price pricing.Money
	err   error
}

func (s stubPlans) UnitPrice(context.Context, string, string) (pricing.Money, error) {
	return s.price, s.err
}

type stubPersonal struct{ percent int64 }

func (s stubPersonal) ActivePersonalPercent(context.Context, string) (int64, error) {
	return s.percent, nil
}

type stubProfiles struct{ profile pricing.Profile }

func (s stubProfiles) DiscountProfile(context.Context, string) (pricing.Profile, error) {
	return s.profile, nil
}

func quoteRequest(t *testing.T, body string, authed bool) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote", strings.NewReader(body))
	if authed {
		req = req.WithContext(common.WithUserID(req.Context(), uuid.New().String()))
	}
	return req
}

func TestQuoteRequiresAuth(t *testing.T) {
	handler := subscription.Handler{Svc: &subscription.Service{Engine: &pricing.Engine{Plans: stubPlans{price: 1000}}}}
	rec := httptest.NewRecorder()
	handler.Quote(rec, quoteRequest(t, `{}`, false))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQuoteReturnsItemizedPricing(t *testing.T) {
	engine := &pricing.Engine{
		Plans:    stubPlans{price: 10_000},
		Personal: stubPersonal{percent: 20},
		Profiles: stubProfiles{},
		Currency: "RUB",
	}
	handler := subscription.Handler{Svc: &subscription.Service{Engine: engine}}

	body := `{"planId":"` + uuid.New().String() + `","durationId":"` + uuid.New().String() + `","quantity":1}`
	rec := httptest.NewRecorder()
	handler.Quote(rec, quoteRequest(t, body, true))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data pricing.Quote `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(10_000), resp.Data.BasePrice)
	require.Equal(t, int64(2_000), resp.Data.PersonalDiscount)
	require.Equal(t, int64(8_000), resp.Data.FinalPrice)
	require.Equal(t, "RUB", resp.Data.Currency)
}

func TestQuoteMissingPrice(t *testing.T) {
	engine := &pricing.Engine{Plans: stubPlans{err: pricing.ErrPriceNotFound}}
	handler := subscription.Handler{Svc: &subscription.Service{Engine: engine}}

	body := `{"planId":"` + uuid.New().String() + `","durationId":"` + uuid.New().String() + `"}`
	rec := httptest.NewRecorder()
	handler.Quote(rec, quoteRequest(t, body, true))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "PRICE_NOT_FOUND", resp.Error.Code)
}

func TestQuoteRejectsExcessiveQuantity(t *testing.T) {
	engine := &pricing.Engine{
		Plans:    stubPlans{price: 10_00},
		Personal: stubPersonal{},
		Profiles: stubProfiles{},
		Currency: "RUB",
	}
	handler := subscription.Handler{Svc: &subscription.Service{Engine: engine}}

	body := `{"planId":"` + uuid.New().String() + `","durationId":"` + uuid.New().String() + `","quantity":1152921504606846976}`
	rec := httptest.NewRecorder()
	handler.Quote(rec, quoteRequest(t, body, true))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "INVALID_QUANTITY", resp.Error.Code)
}
