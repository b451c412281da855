package webhook

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/smallbiznis/orderbridge/internal/config"
	"github.com/smallbiznis/orderbridge/internal/gateway/adapters"
	"github.com/smallbiznis/orderbridge/internal/gateway/adapters/simulated"
	gatewaydomain "github.com/smallbiznis/orderbridge/internal/gateway/domain"
	gatewayservice "github.com/smallbiznis/orderbridge/internal/gateway/service"
	paymentdomain "github.com/smallbiznis/orderbridge/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type orchestratorMock struct {
	mock.Mock
}

func (m *orchestratorMock) Initialize(context.Context, paymentdomain.InitializeRequest) (paymentdomain.InitializeResult, error) {
	return paymentdomain.InitializeResult{}, nil
}

func (m *orchestratorMock) Reconcile(ctx context.Context, trigger paymentdomain.Trigger) (paymentdomain.Outcome, error) {
	args := m.Called(ctx, trigger)
	return args.Get(0).(paymentdomain.Outcome), args.Error(1)
}

func (m *orchestratorMock) Cancel(context.Context, string, string) (paymentdomain.CancelResult, error) {
	return paymentdomain.CancelResult{}, nil
}

func (m *orchestratorMock) Refund(context.Context, string, int64) (paymentdomain.RefundResult, error) {
	return paymentdomain.RefundResult{}, nil
}

func newTestService(t *testing.T, orchestrator paymentdomain.Orchestrator) *Service {
	t.Helper()
	log := zaptest.NewLogger(t)
	gw := gatewayservice.NewService(gatewayservice.Params{
		Cfg:      config.Config{Gateway: config.GatewayConfig{Simulate: true}},
		Log:      log,
		Catalog:  config.NewStaticCatalogHolder(config.DefaultCatalog()),
		Registry: adapters.NewRegistry(simulated.NewFactory()),
	})
	return NewService(Params{Log: log, Gateway: gw, Orchestrator: orchestrator})
}

func TestIngestBuildsTriggerFromNotification(t *testing.T) {
	orchestrator := &orchestratorMock{}
	svc := newTestService(t, orchestrator)

	query := url.Values{
		"id":         []string{"SIM-1"},
		"status":     []string{"PAID"},
		"invoice_id": []string{"INV-42"},
		"order_id":   []string{"17"},
		"amount":     []string{"29900"},
		"method":     []string{"card"},
	}
	want := paymentdomain.Trigger{
		TransactionID: "SIM-1",
		ReferenceID:   "INV-42",
		OrderID:       "17",
		Method:        "card",
		Provider:      simulated.Provider,
		AmountHint:    29900,
		StatusHint:    gatewaydomain.StatusPaid,
		Source:        paymentdomain.SourceWebhook,
	}
	orchestrator.On("Reconcile", mock.Anything, want).
		Return(paymentdomain.Outcome{TransactionID: "SIM-1", Status: paymentdomain.StatusPaid}, nil).
		Once()

	out, err := svc.Ingest(context.Background(), "Simulated", nil, http.Header{}, query)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPaid, out.Status)
	orchestrator.AssertExpectations(t)
}

func TestIngestPrefersNotificationReference(t *testing.T) {
	orchestrator := &orchestratorMock{}
	svc := newTestService(t, orchestrator)

	orchestrator.On("Reconcile", mock.Anything, mock.MatchedBy(func(tr paymentdomain.Trigger) bool {
		return tr.TransactionID == "SIM-2" && tr.ReferenceID == "INV-9" && tr.StatusHint == gatewaydomain.StatusUnknown
	})).Return(paymentdomain.Outcome{Status: paymentdomain.StatusPending}, nil).Once()

	_, err := svc.Ingest(context.Background(), simulated.Provider, []byte(`{"id":"SIM-2","reference_id":"INV-9"}`), http.Header{}, url.Values{})
	require.NoError(t, err)
	orchestrator.AssertExpectations(t)
}

func TestIngestRejectsBadInput(t *testing.T) {
	orchestrator := &orchestratorMock{}
	svc := newTestService(t, orchestrator)

	_, err := svc.Ingest(context.Background(), "", nil, http.Header{}, url.Values{})
	assert.ErrorIs(t, err, gatewaydomain.ErrProviderNotFound)

	_, err = svc.Ingest(context.Background(), "stripe", nil, http.Header{}, url.Values{"id": []string{"x"}})
	assert.ErrorIs(t, err, gatewaydomain.ErrProviderNotFound)

	_, err = svc.Ingest(context.Background(), simulated.Provider, []byte("not json"), http.Header{}, url.Values{})
	assert.ErrorIs(t, err, gatewaydomain.ErrInvalidPayload)

	orchestrator.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
}
