package payments

import (
	"context"
	"errors"
	"net/http"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
	StatusError   Status = "error"
)

// имена провайдеров
const (
	ProviderCryptoBot     = "cryptobot"
	ProviderUSDT          = "usdt"
	ProviderYooMoney      = "yoomoney"
	ProviderYooKassa      = "yookassa"
	ProviderTelegramStars = "telegram_stars"
)

var (
	ErrProviderNotConfigured = errors.New("payment provider not configured")
	ErrProviderTransport     = errors.New("payment provider unavailable")
	ErrProviderRejected      = errors.New("payment provider rejected request")
	ErrInvoiceNotFound       = errors.New("invoice not found at provider")
)

// Invoice счёт, выставленный провайдером
type Invoice struct {
	Provider    string
	PaymentID   string
	Amount      float64
	Currency    string
	Days        int
	URL         string
	ExpiresAt   time.Time
	AmountStars int
}

type Provider interface {
	Name() string
	CreateInvoice(ctx context.Context, amount float64, days int, description string, userID int64) (*Invoice, error)
	CheckStatus(ctx context.Context, paymentID string) (Status, error)
}

// Options общие параметры HTTP-провайдеров
type Options struct {
	HTTPClient  *http.Client
	BaseURL     string
	BotUsername string
	InvoiceTTL  time.Duration
	Now         func() time.Time
}

func (o Options) withDefaults(baseURL string) Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.InvoiceTTL <= 0 {
		o.InvoiceTTL = time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
