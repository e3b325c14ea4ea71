package payments

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

const yooKassaAPI = "https://api.yookassa.ru/v3"

type YooKassa struct {
	shopID    string
	secretKey string
	returnURL string
	rubRate   float64
	opts      Options
}

func NewYooKassa(shopID, secretKey, returnURL string, rubRate float64, opts Options) *YooKassa {
	if rubRate <= 0 {
		rubRate = 80
	}
	return &YooKassa{shopID: shopID, secretKey: secretKey, returnURL: returnURL, rubRate: rubRate, opts: opts.withDefaults(yooKassaAPI)}
}

func (y *YooKassa) Name() string { return ProviderYooKassa }

type yooKassaPayment struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

func (y *YooKassa) do(ctx context.Context, method, path string, body any, idempotenceKey string, out any) error {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(y.shopID+":"+y.secretKey)))
	if idempotenceKey != "" {
		h.Set("Idempotence-Key", idempotenceKey)
	}
	var r io.Reader
	if body != nil {
		var err error
		if r, err = jsonBody(body); err != nil {
			return err
		}
	}
	return doJSON(ctx, y.opts.HTTPClient, method, y.opts.BaseURL+path, r, h, out)
}

func (y *YooKassa) CreateInvoice(ctx context.Context, amount float64, days int, description string, userID int64) (*Invoice, error) {
	rub := math.Round(amount * y.rubRate)
	confirmation := map[string]string{"type": "redirect"}
	if y.returnURL != "" {
		confirmation["return_url"] = y.returnURL
	}
	body := map[string]any{
		"amount":       map[string]string{"value": fmt.Sprintf("%.2f", rub), "currency": "RUB"},
		"confirmation": confirmation,
		"capture":      true,
		"description":  description,
		"metadata":     map[string]string{"user_id": fmt.Sprint(userID), "days": fmt.Sprint(days)},
	}
	var p yooKassaPayment
	if err := y.do(ctx, http.MethodPost, "/payments", body, uuid.NewString(), &p); err != nil {
		return nil, fmt.Errorf("yookassa create payment: %w", err)
	}
	return &Invoice{
		Provider:  y.Name(),
		PaymentID: p.ID,
		Amount:    rub,
		Currency:  "RUB",
		Days:      days,
		URL:       p.Confirmation.ConfirmationURL,
		ExpiresAt: y.opts.Now().Add(y.opts.InvoiceTTL),
	}, nil
}

func (y *YooKassa) CheckStatus(ctx context.Context, paymentID string) (Status, error) {
	var p yooKassaPayment
	if err := y.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, "", &p); err != nil {
		return StatusPending, fmt.Errorf("yookassa get payment: %w", err)
	}
	switch p.Status {
	case "succeeded":
		return StatusPaid, nil
	case "canceled":
		return StatusExpired, nil
	}
	return StatusPending, nil
}
