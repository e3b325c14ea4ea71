package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Проверка HMAC подписи webhook YooKassa (Authorization или Content-Yoomoney-Signature)
func checkYooKassaSignature(secret string, body []byte, authHeader, yoomoneyHeader string) bool {
	if secret == "" {
		return false
	}
	var signatures []string
	if strings.HasPrefix(authHeader, "HMAC ") || strings.HasPrefix(authHeader, "HMAC-SHA256 ") {
		if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 {
			signatures = append(signatures, parts[1])
		}
	}
	if yoomoneyHeader != "" {
		signatures = append(signatures, yoomoneyHeader)
	}
	if len(signatures) == 0 {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	calc := hex.EncodeToString(h.Sum(nil))
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(calc)) {
			return true
		}
	}
	return false
}

// PaymentConfirmer подтверждение оплаты без опроса провайдера (*Reconciler)
type PaymentConfirmer interface {
	Confirm(ctx context.Context, paymentID string) (*CheckResult, error)
}

// WebhookHandler обрабатывает уведомления от YooKassa
type WebhookHandler struct {
	secret    string
	confirmer PaymentConfirmer
	alert     Alerter
	log       *zap.Logger
}

func NewWebhookHandler(secret string, confirmer PaymentConfirmer, alert Alerter, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, confirmer: confirmer, alert: alert, log: log.Named("webhook")}
}

func (h *WebhookHandler) notifyAdmin(msg string) {
	if h.alert != nil {
		h.alert.NotifyAdmin(msg)
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.notifyAdmin("Ошибка чтения тела webhook: " + err.Error())
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !checkYooKassaSignature(h.secret, body, r.Header.Get("Authorization"), r.Header.Get("Content-Yoomoney-Signature")) {
		h.notifyAdmin("Недействительная подпись webhook")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid signature"))
		return
	}
	var event struct {
		Event  string `json:"event"`
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	}
	if err := json.Unmarshal(body, &event); err != nil || event.Object.ID == "" {
		h.notifyAdmin("Ошибка парсинга webhook")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if event.Object.Status != "succeeded" {
		// остальные статусы доберёт плановая проверка
		h.log.Info("webhook ignored", zap.String("payment", event.Object.ID), zap.String("status", event.Object.Status))
		w.WriteHeader(http.StatusOK)
		return
	}

	res, err := h.confirmer.Confirm(r.Context(), event.Object.ID)
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		h.notifyAdmin("Webhook: платёж не найден: " + event.Object.ID)
	case errors.Is(err, ErrAccountSetupFailed):
		h.log.Error("webhook: account setup failed", zap.String("payment", event.Object.ID), zap.Error(err))
	case err != nil:
		// YooKassa повторит уведомление
		h.log.Error("webhook confirm failed", zap.String("payment", event.Object.ID), zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	default:
		h.log.Info("webhook confirmed", zap.String("payment", event.Object.ID), zap.String("status", string(res.Status)), zap.Bool("changed", res.Changed))
	}
	w.WriteHeader(http.StatusOK)
}
