package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/chachabrian/mooveit-dispatch/internal/config"
	"github.com/sirupsen/logrus"
)

// WalletCharge describes a mobile wallet payment for one trip
type WalletCharge struct {
	Amount      float64
	SenderPhone string
	PayerName   string
	PayerEmail  string
}

// PaymentResult identifies the charge at the gateway
type PaymentResult struct {
	OrderID       string
	TransactionID string
}

// PaymobClient talks to the Paymob Accept API. Without an API key it runs in
// mock mode and approves every charge.
type PaymobClient struct {
	httpClient *http.Client
	cfg        config.PaymobConfig
	log        *logrus.Logger
}

func NewPaymobClient(cfg config.PaymobConfig, httpClient *http.Client, log *logrus.Logger) *PaymobClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &PaymobClient{httpClient: httpClient, cfg: cfg, log: log}
}

func (p *PaymobClient) mock() bool {
	return p.cfg.APIKey == ""
}

// ChargeWallet runs the four gateway steps: authenticate, register the order,
// obtain a payment key and request the wallet payment.
func (p *PaymobClient) ChargeWallet(ctx context.Context, charge WalletCharge) (PaymentResult, error) {
	amountCents := int64(math.Round(charge.Amount * 100))

	if p.mock() {
		p.log.WithField("phone", charge.SenderPhone).Info("paymob not configured, mocking wallet payment")
		return PaymentResult{OrderID: "mock-order", TransactionID: "mock-transaction"}, nil
	}

	token, err := p.authenticate(ctx)
	if err != nil {
		return PaymentResult{}, err
	}

	orderID, err := p.registerOrder(ctx, token, amountCents)
	if err != nil {
		return PaymentResult{}, err
	}

	paymentKey, err := p.paymentKey(ctx, token, orderID, amountCents, billingData(charge))
	if err != nil {
		return PaymentResult{}, err
	}

	transactionID, err := p.payWithWallet(ctx, paymentKey, charge.SenderPhone)
	if err != nil {
		return PaymentResult{}, err
	}

	return PaymentResult{OrderID: fmt.Sprint(orderID), TransactionID: transactionID}, nil
}

func (p *PaymobClient) authenticate(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := p.post(ctx, "/auth/tokens", map[string]interface{}{"api_key": p.cfg.APIKey}, &resp); err != nil {
		return "", fmt.Errorf("paymob authentication failed: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("paymob authentication failed: empty token")
	}
	return resp.Token, nil
}

func (p *PaymobClient) registerOrder(ctx context.Context, token string, amountCents int64) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	err := p.post(ctx, "/ecommerce/orders", map[string]interface{}{
		"auth_token":      token,
		"delivery_needed": "false",
		"amount_cents":    amountCents,
		"currency":        p.cfg.Currency,
		"items":           []interface{}{},
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("paymob order registration failed: %w", err)
	}
	return resp.ID, nil
}

func (p *PaymobClient) paymentKey(ctx context.Context, token string, orderID, amountCents int64, billing map[string]string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := p.post(ctx, "/acceptance/payment_keys", map[string]interface{}{
		"auth_token":     token,
		"amount_cents":   amountCents,
		"expiration":     3600,
		"order_id":       orderID,
		"billing_data":   billing,
		"currency":       p.cfg.Currency,
		"integration_id": p.cfg.IntegrationID,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("paymob payment key generation failed: %w", err)
	}
	return resp.Token, nil
}

func (p *PaymobClient) payWithWallet(ctx context.Context, paymentKey, phone string) (string, error) {
	var resp struct {
		ID      json.Number `json:"id"`
		Pending bool        `json:"pending"`
		Success bool        `json:"success"`
	}
	err := p.post(ctx, "/acceptance/payments/pay", map[string]interface{}{
		"source": map[string]string{
			"identifier": phone,
			"subtype":    "WALLET",
		},
		"payment_token": paymentKey,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("paymob wallet payment request failed: %w", err)
	}
	if !resp.Success && !resp.Pending {
		return "", fmt.Errorf("paymob wallet payment declined")
	}
	return resp.ID.String(), nil
}

func (p *PaymobClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(p.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.log.WithFields(logrus.Fields{"path": path, "status": resp.StatusCode}).Warn("paymob returned an error status")
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(out)
}

func billingData(charge WalletCharge) map[string]string {
	first, last := "User", "User"
	if parts := strings.Fields(charge.PayerName); len(parts) > 0 {
		first = parts[0]
		if len(parts) > 1 {
			last = parts[1]
		}
	}

	return map[string]string{
		"apartment":       "NA",
		"email":           charge.PayerEmail,
		"floor":           "NA",
		"first_name":      first,
		"street":          "NA",
		"building":        "NA",
		"phone_number":    charge.SenderPhone,
		"shipping_method": "NA",
		"postal_code":     "NA",
		"city":            "NA",
		"country":         "NA",
		"last_name":       last,
		"state":           "NA",
	}
}
