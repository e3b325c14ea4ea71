package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const cryptoBotAPI = "https://pay.crypt.bot/api"

// CryptoBot Crypto Pay API. Без asset счёт выставляется в долларах (fiat USD),
// с asset - в криптовалюте (провайдер "usdt").
type CryptoBot struct {
	name  string
	token string
	asset string
	opts  Options
}

func NewCryptoBot(token string, opts Options) *CryptoBot {
	return &CryptoBot{name: ProviderCryptoBot, token: token, opts: opts.withDefaults(cryptoBotAPI)}
}

func NewUSDT(token string, opts Options) *CryptoBot {
	return &CryptoBot{name: ProviderUSDT, token: token, asset: "USDT", opts: opts.withDefaults(cryptoBotAPI)}
}

func (c *CryptoBot) Name() string { return c.name }

type cryptoInvoice struct {
	InvoiceID     json.Number `json:"invoice_id"`
	Status        string      `json:"status"`
	PayURL        string      `json:"pay_url"`
	BotInvoiceURL string      `json:"bot_invoice_url"`
}

type cryptoResponse[T any] struct {
	OK     bool `json:"ok"`
	Result T    `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

func (r cryptoResponse[T]) err() error {
	if r.OK {
		return nil
	}
	if r.Error != nil {
		return fmt.Errorf("%w: %s (%d)", ErrProviderRejected, r.Error.Name, r.Error.Code)
	}
	return ErrProviderRejected
}

func (c *CryptoBot) header() http.Header {
	h := http.Header{}
	h.Set("Crypto-Pay-API-Token", c.token)
	h.Set("Content-Type", "application/json")
	return h
}

func (c *CryptoBot) CreateInvoice(ctx context.Context, amount float64, days int, description string, userID int64) (*Invoice, error) {
	payload := map[string]any{
		"amount":          strconv.FormatFloat(amount, 'f', 2, 64),
		"description":     description,
		"payload":         strconv.FormatInt(userID, 10),
		"allow_comments":  false,
		"allow_anonymous": false,
		"expires_in":      int(c.opts.InvoiceTTL.Seconds()),
	}
	currency := "USD"
	if c.asset != "" {
		payload["currency_type"] = "crypto"
		payload["asset"] = c.asset
		currency = c.asset
	} else {
		payload["currency_type"] = "fiat"
		payload["fiat"] = "USD"
	}
	if c.opts.BotUsername != "" {
		payload["paid_btn_name"] = "callback"
		payload["paid_btn_url"] = "https://t.me/" + c.opts.BotUsername
	}
	body, err := jsonBody(payload)
	if err != nil {
		return nil, err
	}

	var resp cryptoResponse[cryptoInvoice]
	if err := doJSON(ctx, c.opts.HTTPClient, http.MethodPost, c.opts.BaseURL+"/createInvoice", body, c.header(), &resp); err != nil {
		return nil, fmt.Errorf("%s createInvoice: %w", c.name, err)
	}
	if err := resp.err(); err != nil {
		return nil, fmt.Errorf("%s createInvoice: %w", c.name, err)
	}
	link := resp.Result.BotInvoiceURL
	if link == "" {
		link = resp.Result.PayURL
	}
	return &Invoice{
		Provider:  c.name,
		PaymentID: resp.Result.InvoiceID.String(),
		Amount:    amount,
		Currency:  currency,
		Days:      days,
		URL:       link,
		ExpiresAt: c.opts.Now().Add(c.opts.InvoiceTTL),
	}, nil
}

func (c *CryptoBot) CheckStatus(ctx context.Context, paymentID string) (Status, error) {
	q := url.Values{"invoice_ids": {paymentID}}
	var resp cryptoResponse[struct {
		Items []cryptoInvoice `json:"items"`
	}]
	if err := doJSON(ctx, c.opts.HTTPClient, http.MethodGet, c.opts.BaseURL+"/getInvoices?"+q.Encode(), nil, c.header(), &resp); err != nil {
		return StatusPending, fmt.Errorf("%s getInvoices: %w", c.name, err)
	}
	if err := resp.err(); err != nil {
		return StatusPending, fmt.Errorf("%s getInvoices: %w", c.name, err)
	}
	for _, inv := range resp.Result.Items {
		if inv.InvoiceID.String() != paymentID {
			continue
		}
		switch inv.Status {
		case "paid":
			return StatusPaid, nil
		case "expired":
			return StatusExpired, nil
		}
		return StatusPending, nil
	}
	return StatusPending, fmt.Errorf("%s invoice %s: %w", c.name, paymentID, ErrInvoiceNotFound)
}
