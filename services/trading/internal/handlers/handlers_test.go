package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/AfshinJalili/stocktrade/libs/httpmiddleware"
	"github.com/AfshinJalili/stocktrade/libs/rate"
	"github.com/AfshinJalili/stocktrade/services/testutil"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/catalog"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/service"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type env struct {
	router *gin.Engine
	store  *storage.MemoryStore
	inst   storage.Instrument
	token  string
}

func setup(t *testing.T, svc TradeService, limiter rate.Limiter) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	store := storage.NewMemoryStore(storage.DefaultBalanceCeiling)
	if err := store.CreateAccount(ctx, testutil.DemoUserID, decimal.RequireFromString("100.00")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	inst, err := store.UpsertInstrument(ctx, storage.Instrument{Symbol: "AAPL", Name: "Apple Inc.", ReferencePrice: decimal.RequireFromString("10.00")})
	if err != nil {
		t.Fatalf("UpsertInstrument: %v", err)
	}
	if _, err := store.UpsertInstrument(ctx, storage.Instrument{Symbol: "MSFT", Name: "Microsoft", ReferencePrice: decimal.RequireFromString("30.00")}); err != nil {
		t.Fatalf("UpsertInstrument: %v", err)
	}

	if svc == nil {
		cat, err := catalog.New(store, catalog.Options{}, nil, nil)
		if err != nil {
			t.Fatalf("catalog.New: %v", err)
		}
		svc = service.NewTradeService(store, cat, nil, nil)
	}

	var limit gin.HandlerFunc
	if limiter != nil {
		limit = rate.Middleware(limiter, UserKey, nil)
	}
	r := gin.New()
	r.Use(httpmiddleware.RequestID())
	New(svc, nil, time.Second).Register(r, testutil.DemoJWTSecret, limit)

	return &env{router: r, store: store, inst: inst, token: testutil.MustJWT(testutil.DemoUserID)}
}

func TestBuyAndSellFlow(t *testing.T) {
	e := setup(t, nil, nil)

	w := testutil.MakeAuthRequest(e.router, http.MethodPost, "/trades/buy", map[string]any{"instrument_id": e.inst.ID.String(), "quantity": 4}, e.token)
	testutil.AssertHTTPStatus(t, w, http.StatusOK)
	buy, err := testutil.DecodeJSON[tradeResponse](w)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buy.Side != "buy" || buy.Symbol != "AAPL" || buy.Amount != "40.00" || buy.Balance != "60.00" || buy.Quantity != 4 {
		t.Fatalf("unexpected buy response %+v", buy)
	}

	w = testutil.MakeAuthRequest(e.router, http.MethodPost, "/trades/sell", map[string]any{"instrument_id": e.inst.ID.String(), "quantity": 1}, e.token)
	testutil.AssertHTTPStatus(t, w, http.StatusOK)
	sell, _ := testutil.DecodeJSON[tradeResponse](w)
	if sell.Amount != "10.00" || sell.Balance != "70.00" {
		t.Fatalf("unexpected sell response %+v", sell)
	}

	w = testutil.MakeAuthRequest(e.router, http.MethodGet, "/account/balance", nil, e.token)
	testutil.AssertHTTPStatus(t, w, http.StatusOK)
	bal, _ := testutil.DecodeJSON[balanceResponse](w)
	if bal.Balance != "70.00" {
		t.Fatalf("expected balance 70.00, got %s", bal.Balance)
	}

	w = testutil.MakeAuthRequest(e.router, http.MethodGet, "/account/holdings", nil, e.token)
	testutil.AssertHTTPStatus(t, w, http.StatusOK)
	holdings, _ := testutil.DecodeJSON[holdingsResponse](w)
	if len(holdings.Holdings) != 1 || holdings.Holdings[0].Quantity != 3 || holdings.Holdings[0].Symbol != "AAPL" {
		t.Fatalf("unexpected holdings %+v", holdings)
	}
}

func TestTradeErrors(t *testing.T) {
	e := setup(t, nil, nil)

	cases := []struct {
		name string
		path string
		body any
		code string
	}{
		{"bad uuid", "/trades/buy", map[string]any{"instrument_id": "nope", "quantity": 1}, testutil.ErrorCodeInvalidInput},
		{"fractional quantity", "/trades/buy", map[string]any{"instrument_id": e.inst.ID.String(), "quantity": 1.5}, testutil.ErrorCodeInvalidInput},
		{"zero quantity", "/trades/buy", map[string]any{"instrument_id": e.inst.ID.String(), "quantity": 0}, testutil.ErrorCodeInvalidInput},
		{"unknown instrument", "/trades/buy", map[string]any{"instrument_id": uuid.NewString(), "quantity": 1}, testutil.ErrorCodeInstrumentNotFound},
		{"too expensive", "/trades/buy", map[string]any{"instrument_id": e.inst.ID.String(), "quantity": 11}, testutil.ErrorCodeInsufficientBalance},
		{"nothing to sell", "/trades/sell", map[string]any{"instrument_id": e.inst.ID.String(), "quantity": 1}, testutil.ErrorCodeInsufficientHolding},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := testutil.MakeAuthRequest(e.router, http.MethodPost, tc.path, tc.body, e.token)
			testutil.AssertErrorCode(t, w, tc.code)
		})
	}
}

func TestUnknownAccount(t *testing.T) {
	e := setup(t, nil, nil)
	token := testutil.MustJWT(testutil.TraderUserID)

	w := testutil.MakeAuthRequest(e.router, http.MethodGet, "/account/balance", nil, token)
	testutil.AssertErrorCode(t, w, testutil.ErrorCodeAccountNotFound)

	w = testutil.MakeAuthRequest(e.router, http.MethodPost, "/trades/buy", map[string]any{"instrument_id": e.inst.ID.String(), "quantity": 1}, token)
	testutil.AssertErrorCode(t, w, testutil.ErrorCodeAccountNotFound)
}

func TestRequiresToken(t *testing.T) {
	e := setup(t, nil, nil)
	for _, path := range []string{"/account/balance", "/account/holdings"} {
		w := testutil.MakeAuthRequest(e.router, http.MethodGet, path, nil, "")
		testutil.AssertErrorCode(t, w, testutil.ErrorCodeUnauthorized)
	}
	w := testutil.MakeAuthRequest(e.router, http.MethodPost, "/trades/buy", map[string]any{}, "garbage")
	testutil.AssertErrorCode(t, w, testutil.ErrorCodeUnauthorized)
}

func TestInstrumentRoutes(t *testing.T) {
	e := setup(t, nil, nil)

	w := testutil.MakePublicRequest(e.router, http.MethodGet, "/instruments")
	testutil.AssertHTTPStatus(t, w, http.StatusOK)
	list, _ := testutil.DecodeJSON[instrumentsResponse](w)
	if len(list.Instruments) != 2 || list.Instruments[0].Symbol != "AAPL" {
		t.Fatalf("unexpected list %+v", list)
	}

	w = testutil.MakePublicRequest(e.router, http.MethodGet, "/instruments/search?symbol=ms")
	testutil.AssertHTTPStatus(t, w, http.StatusOK)
	found, _ := testutil.DecodeJSON[instrumentsResponse](w)
	if len(found.Instruments) != 1 || found.Instruments[0].Symbol != "MSFT" || found.Instruments[0].ReferencePrice != "30.00" {
		t.Fatalf("unexpected search %+v", found)
	}

	w = testutil.MakePublicRequest(e.router, http.MethodGet, "/instruments/search?symbol=zzz")
	testutil.AssertHTTPStatus(t, w, http.StatusOK)
	empty, _ := testutil.DecodeJSON[instrumentsResponse](w)
	if empty.Instruments == nil || len(empty.Instruments) != 0 {
		t.Fatalf("expected empty list, got %+v", empty)
	}

	w = testutil.MakePublicRequest(e.router, http.MethodGet, "/instruments/search")
	testutil.AssertErrorCode(t, w, testutil.ErrorCodeInvalidInput)

	w = testutil.MakePublicRequest(e.router, http.MethodGet, "/instruments/"+e.inst.ID.String())
	testutil.AssertHTTPStatus(t, w, http.StatusOK)
	one, _ := testutil.DecodeJSON[instrumentItem](w)
	if one.ID != e.inst.ID.String() || one.Name != "Apple Inc." {
		t.Fatalf("unexpected instrument %+v", one)
	}

	w = testutil.MakePublicRequest(e.router, http.MethodGet, "/instruments/"+uuid.NewString())
	testutil.AssertErrorCode(t, w, testutil.ErrorCodeInstrumentNotFound)

	w = testutil.MakePublicRequest(e.router, http.MethodGet, "/instruments/not-a-uuid")
	testutil.AssertErrorCode(t, w, testutil.ErrorCodeInvalidInput)
}

func TestTradeRateLimit(t *testing.T) {
	e := setup(t, nil, rate.NewMemory(1, time.Minute))
	body := map[string]any{"instrument_id": e.inst.ID.String(), "quantity": 1}

	w := testutil.MakeAuthRequest(e.router, http.MethodPost, "/trades/buy", body, e.token)
	testutil.AssertHTTPStatus(t, w, http.StatusOK)
	w = testutil.MakeAuthRequest(e.router, http.MethodPost, "/trades/buy", body, e.token)
	testutil.AssertErrorCode(t, w, testutil.ErrorCodeRateLimited)

	// Reads are not limited.
	w = testutil.MakeAuthRequest(e.router, http.MethodGet, "/account/balance", nil, e.token)
	testutil.AssertHTTPStatus(t, w, http.StatusOK)
}

type brokenService struct {
	TradeService
	err error
}

func (b brokenService) Buy(context.Context, service.TradeInput) (*service.TradeReceipt, error) {
	return nil, b.err
}

func TestStorageFailureHidesDetails(t *testing.T) {
	err := errors.Join(service.ErrStorageFailure, errors.New("dial tcp 10.0.0.1:5432: refused"))
	e := setup(t, brokenService{err: err}, nil)

	w := testutil.MakeAuthRequest(e.router, http.MethodPost, "/trades/buy", map[string]any{"instrument_id": uuid.NewString(), "quantity": 1}, e.token)
	testutil.AssertErrorCode(t, w, testutil.ErrorCodeStorageFailure)
	resp, _ := testutil.DecodeJSON[errorResponse](w)
	if resp.Message != "storage unavailable" {
		t.Fatalf("expected generic message, got %q", resp.Message)
	}
}
