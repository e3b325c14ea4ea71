package db

import (
	"context"
	"time"
)

// Stats сводка для админа
type Stats struct {
	Users               int64
	ActiveSubscriptions int64
	PendingPayments     int64
	// PaidByCurrency сумма оплаченных платежей по валютам
	PaidByCurrency map[string]float64
}

func (l *GormLedger) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	st := &Stats{PaidByCurrency: map[string]float64{}}
	tx := l.db.WithContext(ctx)
	if err := tx.Model(&User{}).Count(&st.Users).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&Subscription{}).Where("is_active = ? AND expires_at > ?", true, l.now()).Count(&st.ActiveSubscriptions).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&Payment{}).Where("status = ?", StatusPending).Count(&st.PendingPayments).Error; err != nil {
		return nil, err
	}
	var rows []struct {
		Currency string
		Total    float64
	}
	err := tx.Model(&Payment{}).
		Select("currency, SUM(amount) AS total").
		Where("status = ? AND created_at >= ?", StatusPaid, since.UTC()).
		Group("currency").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		st.PaidByCurrency[r.Currency] = r.Total
	}
	return st, nil
}

// ListPaymentsBetween платежи, созданные в [from, to)
func (l *GormLedger) ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]Payment, error) {
	var ps []Payment
	err := l.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("created_at DESC").
		Find(&ps).Error
	return ps, err
}
