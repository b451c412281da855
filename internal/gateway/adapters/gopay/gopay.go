package gopay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/orderbridge/internal/cache"
	"github.com/smallbiznis/orderbridge/internal/failure"
	"github.com/smallbiznis/orderbridge/internal/gateway/domain"
)

const (
	providerName   = "gopay"
	defaultBaseURL = "https://gw.sandbox.gopay.com/api"
	tokenScope     = "payment-all"
)

type Factory struct {
	client *http.Client
	tokens cache.Cache[string, string]
}

// NewFactory shares one HTTP client and token cache across adapters.
func NewFactory(client *http.Client) *Factory {
	if client == nil {
		client = &http.Client{Timeout: 12 * time.Second}
	}
	return &Factory{client: client, tokens: cache.NewTTLCache[string, string]()}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	clientID, _ := domain.ReadString(cfg.Config, "client_id")
	clientSecret, _ := domain.ReadString(cfg.Config, "client_secret")
	goidRaw, _ := domain.ReadString(cfg.Config, "goid")
	if clientID == "" || clientSecret == "" || goidRaw == "" {
		return nil, domain.ErrInvalidConfig
	}
	goid, err := strconv.ParseInt(goidRaw, 10, 64)
	if err != nil || goid <= 0 {
		return nil, domain.ErrInvalidConfig
	}
	baseURL, _ := domain.ReadString(cfg.Config, "base_url")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	webhookSecret, _ := domain.ReadString(cfg.Config, "webhook_secret")

	return &Adapter{
		baseURL:       strings.TrimRight(baseURL, "/"),
		clientID:      clientID,
		clientSecret:  clientSecret,
		goid:          goid,
		webhookSecret: webhookSecret,
		client:        f.client,
		tokens:        f.tokens,
	}, nil
}

type Adapter struct {
	baseURL       string
	clientID      string
	clientSecret  string
	goid          int64
	webhookSecret string
	client        *http.Client
	tokens        cache.Cache[string, string]
}

func (a *Adapter) Provider() string {
	return providerName
}

type gopayParam struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gopayContact struct {
	Email string `json:"email,omitempty"`
}

type gopayPayer struct {
	AllowedInstruments []string     `json:"allowed_payment_instruments,omitempty"`
	DefaultInstrument  string       `json:"default_payment_instrument,omitempty"`
	DefaultSwift       string       `json:"default_swift,omitempty"`
	Contact            gopayContact `json:"contact"`
}

type gopayTarget struct {
	Type string `json:"type"`
	GoID int64  `json:"goid"`
}

type gopayCallback struct {
	ReturnURL       string `json:"return_url"`
	NotificationURL string `json:"notification_url"`
}

type gopayPaymentRequest struct {
	Payer            gopayPayer    `json:"payer"`
	Target           gopayTarget   `json:"target"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	OrderNumber      string        `json:"order_number"`
	OrderDescription string        `json:"order_description,omitempty"`
	Callback         gopayCallback `json:"callback"`
	AdditionalParams []gopayParam  `json:"additional_params,omitempty"`
}

type gopayPayment struct {
	ID               json.Number  `json:"id"`
	OrderNumber      string       `json:"order_number"`
	State            string       `json:"state"`
	Amount           int64        `json:"amount"`
	Currency         string       `json:"currency"`
	GwURL            string       `json:"gw_url"`
	AdditionalParams []gopayParam `json:"additional_params"`
}

type gopayResult struct {
	ID     json.Number `json:"id"`
	Result string      `json:"result"`
}

type gopayErrorResponse struct {
	Errors []struct {
		ErrorCode int    `json:"error_code"`
		ErrorName string `json:"error_name"`
		Message   string `json:"message"`
		Field     string `json:"field"`
	} `json:"errors"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (domain.Payment, error) {
	body := gopayPaymentRequest{
		Payer: gopayPayer{
			DefaultSwift: req.Swift,
			Contact:      gopayContact{Email: req.Email},
		},
		Target:           gopayTarget{Type: "ACCOUNT", GoID: a.goid},
		Amount:           req.Amount,
		Currency:         strings.ToUpper(req.Currency),
		OrderNumber:      req.ReferenceID,
		OrderDescription: req.Description,
		Callback: gopayCallback{
			ReturnURL:       req.ReturnURL,
			NotificationURL: req.NotifyURL,
		},
	}
	if req.Instrument != "" {
		body.Payer.AllowedInstruments = []string{req.Instrument}
		body.Payer.DefaultInstrument = req.Instrument
	}
	for _, key := range sortedKeys(req.Metadata) {
		body.AdditionalParams = append(body.AdditionalParams, gopayParam{Name: key, Value: req.Metadata[key]})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return domain.Payment{}, err
	}

	var out gopayPayment
	if err := a.do(ctx, http.MethodPost, "/payments/payment", "application/json", bytes.NewReader(payload), &out); err != nil {
		return domain.Payment{}, err
	}
	return toPayment(out), nil
}

func (a *Adapter) GetPaymentStatus(ctx context.Context, transactionID string) (domain.Payment, error) {
	var out gopayPayment
	if err := a.do(ctx, http.MethodGet, "/payments/payment/"+url.PathEscape(transactionID), "", nil, &out); err != nil {
		return domain.Payment{}, err
	}
	return toPayment(out), nil
}

func (a *Adapter) CancelPayment(ctx context.Context, transactionID string) (domain.Payment, error) {
	var res gopayResult
	path := "/payments/payment/" + url.PathEscape(transactionID) + "/void-authorization"
	if err := a.do(ctx, http.MethodPost, path, "application/x-www-form-urlencoded", strings.NewReader(""), &res); err != nil {
		return domain.Payment{}, err
	}
	if strings.EqualFold(res.Result, "FAILED") {
		return domain.Payment{}, fmt.Errorf("gopay void-authorization failed for %s", transactionID)
	}
	return a.GetPaymentStatus(ctx, transactionID)
}

func (a *Adapter) RefundPayment(ctx context.Context, transactionID string, amount int64) (domain.Payment, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))

	var res gopayResult
	path := "/payments/payment/" + url.PathEscape(transactionID) + "/refund"
	if err := a.do(ctx, http.MethodPost, path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &res); err != nil {
		return domain.Payment{}, err
	}
	if strings.EqualFold(res.Result, "FAILED") {
		return domain.Payment{}, domain.ErrNotRefundable
	}
	return a.GetPaymentStatus(ctx, transactionID)
}

// Verify checks the X-Signature header. An empty webhook secret disables
// verification.
func (a *Adapter) Verify(_ context.Context, payload []byte, headers http.Header, query url.Values) error {
	if a.webhookSecret == "" {
		return nil
	}
	signature := strings.TrimSpace(headers.Get("X-Signature"))
	if signature == "" {
		return domain.ErrInvalidSignature
	}
	signed := payload
	if len(bytes.TrimSpace(signed)) == 0 {
		signed = []byte(query.Get("id"))
	}
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(signed)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// ParseNotification reads the transaction id from ?id= or a JSON body.
func (a *Adapter) ParseNotification(_ context.Context, payload []byte, query url.Values) (domain.Notification, error) {
	n := domain.Notification{Provider: providerName, StatusHint: domain.StatusUnknown}
	if id := strings.TrimSpace(query.Get("id")); id != "" {
		n.TransactionID = id
		n.ReferenceID = strings.TrimSpace(query.Get("order_number"))
		return n, nil
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return domain.Notification{}, domain.ErrInvalidPayload
	}
	var body gopayPayment
	if err := json.Unmarshal(payload, &body); err != nil {
		return domain.Notification{}, domain.ErrInvalidPayload
	}
	if body.ID.String() == "" {
		return domain.Notification{}, domain.ErrInvalidPayload
	}
	n.TransactionID = body.ID.String()
	n.ReferenceID = body.OrderNumber
	if body.State != "" {
		n.StatusHint = domain.NormalizeStatus(body.State)
	}
	return n, nil
}

func (a *Adapter) token(ctx context.Context) (string, error) {
	if token, ok := a.tokens.Get(a.clientID); ok {
		return token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", tokenScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", failure.Upstream("gateway_unavailable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", failure.Upstream("gateway_auth_failed", &failure.StatusError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)})
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("gopay_token_missing")
	}
	ttl := time.Duration(tok.ExpiresIn)*time.Second - 30*time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	a.tokens.Set(a.clientID, tok.AccessToken, ttl)
	return tok.AccessToken, nil
}

func (a *Adapter) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	token, err := a.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return failure.Upstream("gateway_unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		a.tokens.Delete(a.clientID)
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrPaymentNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return failure.Upstream("gateway_request_failed", &failure.StatusError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gopay_response_invalid: %w", err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	var payload gopayErrorResponse
	if err := json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&payload); err != nil || len(payload.Errors) == 0 {
		return "gopay_request_failed"
	}
	first := payload.Errors[0]
	message := strings.TrimSpace(first.Message)
	if message == "" {
		message = strings.TrimSpace(first.ErrorName)
	}
	if first.Field != "" {
		message = first.Field + ": " + message
	}
	return message
}

func toPayment(p gopayPayment) domain.Payment {
	meta := make(map[string]string, len(p.AdditionalParams))
	for _, param := range p.AdditionalParams {
		meta[param.Name] = param.Value
	}
	return domain.Payment{
		TransactionID: p.ID.String(),
		ReferenceID:   p.OrderNumber,
		Status:        domain.NormalizeStatus(p.State),
		Amount:        p.Amount,
		Currency:      strings.ToUpper(p.Currency),
		RedirectURL:   p.GwURL,
		Metadata:      meta,
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
