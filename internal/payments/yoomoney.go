package payments

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const yooMoneyURL = "https://yoomoney.ru"

// YooMoney форма quickpay на кошелёк. Метка платежа генерируется локально.
// Статус проверяется через operation-history, если задан access token, иначе только вручную.
type YooMoney struct {
	receiver    string
	accessToken string
	rubRate     float64
	opts        Options
	newLabel    func() string
}

func NewYooMoney(receiver, accessToken string, rubRate float64, opts Options) *YooMoney {
	if rubRate <= 0 {
		rubRate = 80
	}
	return &YooMoney{
		receiver:    receiver,
		accessToken: accessToken,
		rubRate:     rubRate,
		opts:        opts.withDefaults(yooMoneyURL),
		newLabel:    uuid.NewString,
	}
}

func (y *YooMoney) Name() string { return ProviderYooMoney }

func (y *YooMoney) CreateInvoice(_ context.Context, amount float64, days int, description string, _ int64) (*Invoice, error) {
	label := y.newLabel()
	rub := math.Round(amount * y.rubRate)
	q := url.Values{
		"receiver":      {y.receiver},
		"quickpay-form": {"shop"},
		"targets":       {description},
		"paymentType":   {"SB"},
		"sum":           {strconv.FormatFloat(rub, 'f', 0, 64)},
		"label":         {label},
	}
	return &Invoice{
		Provider:  y.Name(),
		PaymentID: label,
		Amount:    rub,
		Currency:  "RUB",
		Days:      days,
		URL:       y.opts.BaseURL + "/quickpay/confirm.xml?" + q.Encode(),
		ExpiresAt: y.opts.Now().Add(y.opts.InvoiceTTL),
	}, nil
}

type yooMoneyHistory struct {
	Error      string `json:"error"`
	Operations []struct {
		Label     string `json:"label"`
		Status    string `json:"status"`
		Direction string `json:"direction"`
	} `json:"operations"`
}

func (y *YooMoney) CheckStatus(ctx context.Context, paymentID string) (Status, error) {
	if y.accessToken == "" {
		return StatusPending, nil
	}
	form := url.Values{"label": {paymentID}, "type": {"deposition"}, "records": {"10"}}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+y.accessToken)
	h.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp yooMoneyHistory
	err := doJSON(ctx, y.opts.HTTPClient, http.MethodPost, y.opts.BaseURL+"/api/operation-history",
		strings.NewReader(form.Encode()), h, &resp)
	if err != nil {
		return StatusPending, fmt.Errorf("yoomoney operation-history: %w", err)
	}
	if resp.Error != "" {
		return StatusPending, fmt.Errorf("yoomoney operation-history: %w: %s", ErrProviderRejected, resp.Error)
	}
	for _, op := range resp.Operations {
		if op.Label == paymentID && op.Direction == "in" && op.Status == "success" {
			return StatusPaid, nil
		}
	}
	return StatusPending, nil
}
