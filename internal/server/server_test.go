package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/orderbridge/internal/authorization"
	"github.com/smallbiznis/orderbridge/internal/config"
	"github.com/smallbiznis/orderbridge/internal/failure"
	"github.com/smallbiznis/orderbridge/internal/gateway/adapters"
	"github.com/smallbiznis/orderbridge/internal/gateway/adapters/simulated"
	gatewaydomain "github.com/smallbiznis/orderbridge/internal/gateway/domain"
	gatewayservice "github.com/smallbiznis/orderbridge/internal/gateway/service"
	"github.com/smallbiznis/orderbridge/internal/observability"
	orderdomain "github.com/smallbiznis/orderbridge/internal/order/domain"
	paymentdomain "github.com/smallbiznis/orderbridge/internal/payment/domain"
	"github.com/smallbiznis/orderbridge/internal/payment/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// -- Mocks --

type assemblerMock struct {
	mock.Mock
}

func (m *assemblerMock) Run(ctx context.Context, cart orderdomain.Cart) (orderdomain.Result, error) {
	args := m.Called(ctx, cart)
	return args.Get(0).(orderdomain.Result), args.Error(1)
}

type orchestratorMock struct {
	mock.Mock
}

func (m *orchestratorMock) Initialize(ctx context.Context, req paymentdomain.InitializeRequest) (paymentdomain.InitializeResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(paymentdomain.InitializeResult), args.Error(1)
}

func (m *orchestratorMock) Reconcile(ctx context.Context, trigger paymentdomain.Trigger) (paymentdomain.Outcome, error) {
	args := m.Called(ctx, trigger)
	return args.Get(0).(paymentdomain.Outcome), args.Error(1)
}

func (m *orchestratorMock) Cancel(ctx context.Context, transactionID, method string) (paymentdomain.CancelResult, error) {
	args := m.Called(ctx, transactionID, method)
	return args.Get(0).(paymentdomain.CancelResult), args.Error(1)
}

func (m *orchestratorMock) Refund(ctx context.Context, transactionID string, amount int64) (paymentdomain.RefundResult, error) {
	args := m.Called(ctx, transactionID, amount)
	return args.Get(0).(paymentdomain.RefundResult), args.Error(1)
}

type testServer struct {
	engine   *gin.Engine
	orders   *assemblerMock
	payments *orchestratorMock
}

type authzMock struct {
	mock.Mock
}

func (m *authzMock) Assign(actor string, role string) error {
	return m.Called(actor, role).Error(0)
}

func (m *authzMock) Authorize(ctx context.Context, actor string, object string, action string) error {
	return m.Called(ctx, actor, object, action).Error(0)
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	return newTestServerWithAuthz(t, cfg, nil)
}

func newTestServerWithAuthz(t *testing.T, cfg config.Config, authz authorization.Service) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)

	orders := &assemblerMock{}
	payments := &orchestratorMock{}
	gw := gatewayservice.NewService(gatewayservice.Params{
		Cfg:      config.Config{Gateway: config.GatewayConfig{Simulate: true}},
		Log:      log,
		Catalog:  config.NewStaticCatalogHolder(config.DefaultCatalog()),
		Registry: adapters.NewRegistry(simulated.NewFactory()),
	})

	engine := NewEngine(log, observability.Config{Environment: "test"}, nil)
	NewServer(ServerParams{
		Gin:      engine,
		Cfg:      cfg,
		Log:      log,
		Orders:   orders,
		Payments: payments,
		Webhooks: webhook.NewService(webhook.Params{Log: log, Gateway: gw, Orchestrator: payments}),
		Authz:    authz,
	})
	return &testServer{engine: engine, orders: orders, payments: payments}
}

func (s *testServer) do(method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, config.Config{})
	rec := srv.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateOrder(t *testing.T) {
	srv := newTestServer(t, config.Config{})
	srv.orders.On("Run", mock.Anything, mock.MatchedBy(func(cart orderdomain.Cart) bool {
		return cart.Customer.Email == "a@b.cz" && len(cart.Items) == 1 && cart.Items[0].Quantity == 2
	})).Return(orderdomain.Result{OrderID: "17", InvoiceID: "INV-42", State: orderdomain.StateDone}, nil).Once()

	rec := srv.do(http.MethodPost, "/api/orders", map[string]any{
		"customer": map[string]any{"email": "a@b.cz", "first_name": "Jan", "last_name": "Novak"},
		"items":    []map[string]any{{"product_ref": "vps-basic", "quantity": 2, "unit_price": 29900}},
		"currency": "CZK",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result orderdomain.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "INV-42", result.InvoiceID)
	srv.orders.AssertExpectations(t)
}

func TestCreateOrderErrors(t *testing.T) {
	srv := newTestServer(t, config.Config{})

	rec := srv.do(http.MethodPost, "/api/orders", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)

	srv.orders.On("Run", mock.Anything, mock.Anything).Return(orderdomain.Result{}, &orderdomain.StepError{
		Step:    "map_items",
		Reached: orderdomain.StateClientResolved,
		Err:     orderdomain.ErrNoValidItems,
	}).Once()
	rec = srv.do(http.MethodPost, "/api/orders", map[string]any{"items": []any{}}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "no_valid_items", payload.Code)
	assert.Equal(t, "map_items", payload.Step)
	assert.Equal(t, string(orderdomain.StateClientResolved), payload.Reached)

	srv.orders.On("Run", mock.Anything, mock.Anything).Return(orderdomain.Result{}, &orderdomain.StepError{
		Step: "create_draft",
		Err:  failure.Upstream("billing_unavailable", errors.New("timeout")),
	}).Once()
	rec = srv.do(http.MethodPost, "/api/orders", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	srv := newTestServer(t, config.Config{APIKeys: []string{"k1", "k2"}})
	srv.payments.On("Refund", mock.Anything, "TX1", int64(0)).
		Return(paymentdomain.RefundResult{TransactionID: "TX1", Amount: 100}, nil)

	rec := srv.do(http.MethodPost, "/api/payments/TX1/refund", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(http.MethodPost, "/api/payments/TX1/refund", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(http.MethodPost, "/api/payments/TX1/refund", nil, map[string]string{"Authorization": "Bearer k2"})
	assert.Equal(t, http.StatusOK, rec.Code)

	prod := newTestServer(t, config.Config{Environment: "production"})
	rec = prod.do(http.MethodPost, "/api/payments/TX1/refund", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyRoles(t *testing.T) {
	keys := parseAPIKeys([]string{"storefront:shop-secret", "ops-secret", "weird:x:y"})
	require.Len(t, keys, 3)
	assert.Equal(t, authorization.RoleStorefront, keys[0].role)
	assert.Equal(t, authorization.RoleOperator, keys[1].role)
	assert.Equal(t, authorization.RoleOperator, keys[2].role)
	assert.NotEqual(t, keys[0].actor, keys[1].actor)

	shop := keys[0].actor
	authz := &authzMock{}
	for _, key := range keys {
		authz.On("Assign", key.actor, key.role).Return(nil).Once()
	}
	authz.On("Authorize", mock.Anything, shop, authorization.ObjectPayment, authorization.ActionPaymentRefund).
		Return(authorization.ErrForbidden).Once()

	srv := newTestServerWithAuthz(t, config.Config{APIKeys: []string{"storefront:shop-secret", "ops-secret", "weird:x:y"}}, authz)
	rec := srv.do(http.MethodPost, "/api/payments/TX1/refund", nil, map[string]string{"Authorization": "Bearer shop-secret"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeError(t, rec).Type)
	authz.AssertExpectations(t)
	srv.payments.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitializePayment(t *testing.T) {
	srv := newTestServer(t, config.Config{})
	srv.payments.On("Initialize", mock.Anything, paymentdomain.InitializeRequest{
		OrderID: "17", InvoiceID: "INV-42", Amount: 29900, Currency: "CZK", Method: "card", Email: "a@b.cz",
	}).Return(paymentdomain.InitializeResult{TransactionID: "TX1", RedirectURL: "https://gw/1"}, nil).Once()
	srv.payments.On("Initialize", mock.Anything, mock.Anything).
		Return(paymentdomain.InitializeResult{}, paymentdomain.ErrUnsupportedMethod).Once()

	rec := srv.do(http.MethodPost, "/api/payments", map[string]any{
		"order_id": "17", "invoice_id": "INV-42", "amount": 29900, "currency": "CZK", "method": "card", "email": "a@b.cz",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "https://gw/1")

	rec = srv.do(http.MethodPost, "/api/payments", map[string]any{"method": "bitcoin"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "unsupported_payment_method", decodeError(t, rec).Code)
}

func TestPaymentReturnNeverReportsFalseFailure(t *testing.T) {
	srv := newTestServer(t, config.Config{})
	srv.payments.On("Reconcile", mock.Anything, paymentdomain.Trigger{
		TransactionID: "TX1",
		ReferenceID:   "INV-42",
		OrderID:       "17",
		AmountHint:    29900,
		Source:        paymentdomain.SourceReturn,
	}).Return(paymentdomain.Outcome{}, &failure.Error{Kind: failure.KindUpstream, Code: "capture_failed"}).Once()

	rec := srv.do(http.MethodGet, "/payments/return?id=TX1&invoice_id=INV-42&order_id=17&amount=29900", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var resp paymentStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(paymentdomain.StatusPending), resp.Status)
	assert.Equal(t, "TX1", resp.TransactionID)
	require.Len(t, resp.Issues, 1)
	assert.Equal(t, "capture_failed", resp.Issues[0].Code)
}

func TestPaymentReturnSettled(t *testing.T) {
	srv := newTestServer(t, config.Config{})
	srv.payments.On("Reconcile", mock.Anything, mock.Anything).Return(paymentdomain.Outcome{
		TransactionID: "TX1", Status: paymentdomain.StatusPaid, Deduplicated: true,
	}, nil).Once()

	rec := srv.do(http.MethodGet, "/payments/return?id=TX1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"paid"`)
	assert.Contains(t, rec.Body.String(), `"deduplicated":true`)

	srv.payments.On("Reconcile", mock.Anything, mock.Anything).
		Return(paymentdomain.Outcome{}, paymentdomain.ErrMissingTransactionID).Once()
	rec = srv.do(http.MethodGet, "/payments/return", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPaymentWebhook(t *testing.T) {
	srv := newTestServer(t, config.Config{})
	srv.payments.On("Reconcile", mock.Anything, mock.MatchedBy(func(tr paymentdomain.Trigger) bool {
		return tr.TransactionID == "SIM-1" && tr.Source == paymentdomain.SourceWebhook && tr.StatusHint == gatewaydomain.StatusPaid
	})).Return(paymentdomain.Outcome{TransactionID: "SIM-1", Status: paymentdomain.StatusPaid}, nil).Twice()

	rec := srv.do(http.MethodPost, "/webhooks/simulated", `{"id":"SIM-1","status":"PAID"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"paid"`)

	rec = srv.do(http.MethodGet, "/webhooks/simulated?id=SIM-1&status=PAID", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(http.MethodPost, "/webhooks/simulated", `garbage`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = srv.do(http.MethodPost, "/webhooks/unknown", `{"id":"SIM-1"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	srv.payments.AssertExpectations(t)
}

func TestCancelAndRefundErrors(t *testing.T) {
	srv := newTestServer(t, config.Config{})
	srv.payments.On("Cancel", mock.Anything, "TX1", "card").
		Return(paymentdomain.CancelResult{}, paymentdomain.ErrAlreadySettled).Once()
	srv.payments.On("Refund", mock.Anything, "TX2", int64(500)).
		Return(paymentdomain.RefundResult{}, paymentdomain.ErrNotSettled).Once()

	rec := srv.do(http.MethodPost, "/api/payments/TX1/cancel", map[string]any{"method": "card"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(http.MethodPost, "/api/payments/TX2/refund", map[string]any{"amount": 500}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(http.MethodPost, "/api/payments/TX2/refund", `{"amount":"lots"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	srv.payments.AssertExpectations(t)
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, config.Config{})
	rec := srv.do(http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{failure.New(failure.KindValidation, "x"), http.StatusUnprocessableEntity},
		{failure.New(failure.KindNotFound, "x"), http.StatusNotFound},
		{failure.New(failure.KindConflict, "x"), http.StatusConflict},
		{failure.New(failure.KindRateLimit, "x"), http.StatusTooManyRequests},
		{failure.New(failure.KindUpstream, "x"), http.StatusBadGateway},
		{failure.New(failure.KindIntegrity, "x"), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
		{invalidRequestError(), http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		status, _ := mapError(tc.err)
		assert.Equal(t, tc.want, status, tc.err.Error())
	}
}
