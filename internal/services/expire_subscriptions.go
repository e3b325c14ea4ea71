package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/db"
)

// Maintenance плановые задачи по подпискам (запускаются из cron)
type Maintenance struct {
	ledger      db.Ledger
	provisioner *Provisioner
	notifier    Notifier
	alert       Alerter
	log         *zap.Logger
	now         func() time.Time
}

func NewMaintenance(ledger db.Ledger, provisioner *Provisioner, notifier Notifier, alert Alerter, log *zap.Logger) *Maintenance {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Maintenance{
		ledger:      ledger,
		provisioner: provisioner,
		notifier:    notifier,
		alert:       alert,
		log:         log.Named("maintenance"),
		now:         time.Now,
	}
}

func (m *Maintenance) notifyAdmin(msg string) {
	if m.alert != nil {
		m.alert.NotifyAdmin(msg)
	}
}

// DeactivateExpired отключает истёкшие подписки: учётка удаляется со шлюза, пользователь уведомляется
func (m *Maintenance) DeactivateExpired(ctx context.Context) (int, error) {
	subs, err := m.ledger.ListExpiredActive(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("list expired subscriptions: %w", err)
	}
	n := 0
	for i := range subs {
		sub := &subs[i]
		m.provisioner.Deprovision(ctx, sub)
		if err := m.ledger.DeactivateSubscription(ctx, sub.ID); err != nil {
			m.notifyAdmin(fmt.Sprintf("Не удалось отключить подписку %s пользователя %d: %v", sub.ID, sub.UserID, err))
			continue
		}
		m.notifier.SubscriptionExpired(ctx, sub)
		n++
	}
	if n > 0 {
		m.log.Info("expired subscriptions deactivated", zap.Int("count", n))
	}
	return n, nil
}
