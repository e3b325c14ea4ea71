package services

import (
	"context"

	"VPN-Subscription-bot/internal/db"
)

// Notifier сообщения пользователю о событиях по платежам и подпискам
type Notifier interface {
	PaymentSucceeded(ctx context.Context, p *db.Payment, sub *db.Subscription)
	PaymentExpired(ctx context.Context, p *db.Payment)
	ProvisioningFailed(ctx context.Context, p *db.Payment, err error)
	SubscriptionExpired(ctx context.Context, sub *db.Subscription)
	SubscriptionExpiring(ctx context.Context, sub *db.Subscription) error
}

// Alerter уведомление админа
type Alerter interface {
	NotifyAdmin(msg string)
}

type NopNotifier struct{}

func (NopNotifier) PaymentSucceeded(context.Context, *db.Payment, *db.Subscription) {}
func (NopNotifier) PaymentExpired(context.Context, *db.Payment)                     {}
func (NopNotifier) ProvisioningFailed(context.Context, *db.Payment, error)          {}
func (NopNotifier) SubscriptionExpired(context.Context, *db.Subscription)           {}
func (NopNotifier) SubscriptionExpiring(context.Context, *db.Subscription) error    { return nil }
