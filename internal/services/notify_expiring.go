package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// NotifyExpiring предупреждает об окончании подписки, один раз на подписку
func (m *Maintenance) NotifyExpiring(ctx context.Context, within time.Duration) (int, error) {
	subs, err := m.ledger.ListExpiring(ctx, m.now(), within)
	if err != nil {
		return 0, fmt.Errorf("list expiring subscriptions: %w", err)
	}
	n := 0
	for i := range subs {
		sub := &subs[i]
		if err := m.notifier.SubscriptionExpiring(ctx, sub); err != nil {
			m.notifyAdmin(fmt.Sprintf("Ошибка отправки уведомления пользователю %d: %v", sub.UserID, err))
			continue
		}
		if err := m.ledger.MarkNotifiedExpiring(ctx, sub.ID); err != nil {
			m.log.Warn("mark notified failed", zap.String("subscription", sub.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}
