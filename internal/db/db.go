package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLedger Ledger поверх gorm: postgres в проде, sqlite для одиночной установки и тестов
type GormLedger struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

var _ Ledger = (*GormLedger)(nil)

func utcNow() time.Time {
	return time.Now().UTC()
}

// dialector postgres://… или строка с host= уходит в postgres, sqlite:путь или просто путь в sqlite
func dialector(dsn string) (gorm.Dialector, bool, error) {
	switch {
	case dsn == "":
		return nil, false, errors.New("DATABASE_URL not set")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return postgres.Open(dsn), false, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), true, nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite:")), true, nil
	}
	return sqlite.Open(dsn), true, nil
}

func Open(dsn string, log *zap.Logger) (*GormLedger, error) {
	d, isSQLite, err := dialector(dsn)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(d, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc:        utcNow,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if isSQLite {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := gdb.AutoMigrate(&User{}, &Subscription{}, &Payment{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormLedger{db: gdb, log: log.Named("ledger"), now: utcNow}, nil
}

func (l *GormLedger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return err
}

// --- пользователи ---

func (l *GormLedger) AddOrUpdateUser(ctx context.Context, info UserInfo) (*User, error) {
	var u User
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&u, "telegram_id = ?", info.TelegramID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			u = User{
				TelegramID: info.TelegramID,
				Username:   info.Username,
				FirstName:  info.FirstName,
				LastName:   info.LastName,
			}
			return tx.Create(&u).Error
		}
		if err != nil {
			return err
		}
		u.Username, u.FirstName, u.LastName = info.Username, info.FirstName, info.LastName
		return tx.Model(&u).Updates(map[string]any{
			"username":   info.Username,
			"first_name": info.FirstName,
			"last_name":  info.LastName,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (l *GormLedger) GetUser(ctx context.Context, telegramID int64) (*User, error) {
	var u User
	err := l.db.WithContext(ctx).
		Preload("Subscriptions", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		First(&u, "telegram_id = ?", telegramID).Error
	if err != nil {
		return nil, notFound(err, "user", telegramID)
	}
	return &u, nil
}

func (l *GormLedger) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := l.db.WithContext(ctx).Order("created_at").Find(&users).Error
	return users, err
}

func (l *GormLedger) SetBanned(ctx context.Context, telegramID int64, banned bool) error {
	res := l.db.WithContext(ctx).Model(&User{}).Where("telegram_id = ?", telegramID).Update("is_banned", banned)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %d: %w", telegramID, ErrNotFound)
	}
	return nil
}

// --- подписки ---

// AddSubscription создаёт подписку на days дней. Для пробной в той же транзакции ставится TrialUsed.
func (l *GormLedger) AddSubscription(ctx context.Context, userID int64, days int, paymentID *string, serverID string, trial bool) (*Subscription, error) {
	if days <= 0 {
		return nil, fmt.Errorf("subscription days must be positive, got %d", days)
	}
	now := l.now()
	sub := Subscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		ServerID:  serverID,
		PaymentID: paymentID,
		CreatedAt: now,
		ExpiresAt: now.AddDate(0, 0, days),
		IsActive:  true,
		IsTrial:   trial,
		LastReset: now,
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u User
		if err := tx.First(&u, "telegram_id = ?", userID).Error; err != nil {
			return notFound(err, "user", userID)
		}
		if trial {
			res := tx.Model(&User{}).Where("telegram_id = ? AND trial_used = ?", userID, false).Update("trial_used", true)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrTrialUsed
			}
		}
		return tx.Create(&sub).Error
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("subscription created", zap.String("id", sub.ID), zap.Int64("user_id", userID), zap.Int("days", days), zap.String("server", serverID), zap.Bool("trial", trial))
	return &sub, nil
}

func (l *GormLedger) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var s Subscription
	if err := l.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "subscription", id)
	}
	return &s, nil
}

func (l *GormLedger) SubscriptionByPayment(ctx context.Context, paymentID string) (*Subscription, error) {
	var s Subscription
	if err := l.db.WithContext(ctx).First(&s, "payment_id = ?", paymentID).Error; err != nil {
		return nil, notFound(err, "subscription for payment", paymentID)
	}
	return &s, nil
}

func (l *GormLedger) ListSubscriptions(ctx context.Context, userID int64) ([]Subscription, error) {
	var subs []Subscription
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&subs).Error
	return subs, err
}

// ListActiveSubscriptions пустой serverID значит все серверы
func (l *GormLedger) ListActiveSubscriptions(ctx context.Context, userID int64, serverID string) ([]Subscription, error) {
	q := l.db.WithContext(ctx).Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, l.now())
	if serverID != "" {
		q = q.Where("server_id = ?", serverID)
	}
	var subs []Subscription
	err := q.Order("created_at").Find(&subs).Error
	return subs, err
}

// ExtendSubscription продлевает от текущего окончания, истёкшая продлевается от now
func (l *GormLedger) ExtendSubscription(ctx context.Context, id string, days int) (*Subscription, error) {
	if days <= 0 {
		return nil, fmt.Errorf("extension days must be positive, got %d", days)
	}
	var s Subscription
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&s, "id = ?", id).Error; err != nil {
			return notFound(err, "subscription", id)
		}
		base := s.ExpiresAt
		if now := l.now(); base.Before(now) {
			base = now
		}
		s.ExpiresAt = base.AddDate(0, 0, days)
		s.IsActive = true
		s.NotifiedExpiring = false
		return tx.Model(&s).Updates(map[string]any{
			"expires_at":        s.ExpiresAt,
			"is_active":         true,
			"notified_expiring": false,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (l *GormLedger) DeactivateSubscription(ctx context.Context, id string) error {
	return l.updateSubscription(ctx, id, map[string]any{"is_active": false})
}

func (l *GormLedger) AttachIdentity(ctx context.Context, id, identityID, label, transport string) error {
	return l.updateSubscription(ctx, id, map[string]any{
		"identity_id": identityID,
		"label":       label,
		"transport":   transport,
	})
}

func (l *GormLedger) updateSubscription(ctx context.Context, id string, fields map[string]any) error {
	res := l.db.WithContext(ctx).Model(&Subscription{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- платежи ---

// RecordPayment идемпотентна: для существующего id возвращает сохранённую запись
func (l *GormLedger) RecordPayment(ctx context.Context, p *Payment) (*Payment, error) {
	if p.ID == "" {
		return nil, errors.New("payment id is empty")
	}
	var out Payment
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&out, "id = ?", p.ID).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		out = *p
		if out.Status == "" {
			out.Status = StatusPending
		}
		return tx.Create(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (l *GormLedger) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	if err := l.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "payment", id)
	}
	return &p, nil
}

// UpdatePaymentStatus монотонно: из терминального статуса менять нельзя, повтор того же статуса не ошибка
func (l *GormLedger) UpdatePaymentStatus(ctx context.Context, id string, status PaymentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Payment
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			return notFound(err, "payment", id)
		}
		if p.Status == status {
			return nil
		}
		if p.Status.Terminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, status)
		}
		return tx.Model(&p).Update("status", status).Error
	})
}

// TransitionPayment compare-and-set статуса. true, если статус был from и стал to.
func (l *GormLedger) TransitionPayment(ctx context.Context, id string, from, to PaymentStatus) (bool, error) {
	if from.Terminal() || !to.Valid() || from == to {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	res := l.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": l.now()})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := l.GetPayment(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SettlePayment в одной транзакции переводит платёж pending -> paid и создаёт подписку по нему.
// Для уже оплаченного платежа возвращает его подписку, создавая её, если её нет.
// changed true, только если статус сменил этот вызов.
func (l *GormLedger) SettlePayment(ctx context.Context, id string) (sub *Subscription, changed bool, err error) {
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.now()
		res := tx.Model(&Payment{}).
			Where("id = ? AND status = ?", id, StatusPending).
			Updates(map[string]any{"status": StatusPaid, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected == 1

		var p Payment
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			return notFound(err, "payment", id)
		}
		if p.Status != StatusPaid {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusPaid)
		}
		if p.SubscriptionDays <= 0 {
			return fmt.Errorf("payment %s: subscription days must be positive, got %d", id, p.SubscriptionDays)
		}

		var existing Subscription
		err := tx.First(&existing, "payment_id = ?", id).Error
		if err == nil {
			sub = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.First(&User{}, "telegram_id = ?", p.UserID).Error; err != nil {
			return notFound(err, "user", p.UserID)
		}
		paymentID := p.ID
		sub = &Subscription{
			ID:        uuid.NewString(),
			UserID:    p.UserID,
			ServerID:  p.ServerID,
			PaymentID: &paymentID,
			CreatedAt: now,
			ExpiresAt: now.AddDate(0, 0, p.SubscriptionDays),
			IsActive:  true,
			LastReset: now,
		}
		return tx.Create(sub).Error
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		l.log.Info("payment settled", zap.String("payment", id), zap.String("subscription", sub.ID), zap.Int64("user_id", sub.UserID))
	}
	return sub, changed, nil
}

func (l *GormLedger) ListPaymentsForUser(ctx context.Context, userID int64) ([]Payment, error) {
	var ps []Payment
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&ps).Error
	return ps, err
}

func (l *GormLedger) ListPendingPayments(ctx context.Context) ([]Payment, error) {
	var ps []Payment
	err := l.db.WithContext(ctx).Where("status = ?", StatusPending).Order("created_at").Find(&ps).Error
	return ps, err
}

// --- трафик ---

func (l *GormLedger) IncrementTraffic(ctx context.Context, id string, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return l.updateSubscription(ctx, id, map[string]any{"traffic_used": gorm.Expr("traffic_used + ?", bytes)})
}

func (l *GormLedger) ResetTraffic(ctx context.Context, id string) error {
	return l.updateSubscription(ctx, id, map[string]any{"traffic_used": 0, "last_reset": l.now()})
}

// --- сроки ---

func (l *GormLedger) ListExpiredActive(ctx context.Context, now time.Time) ([]Subscription, error) {
	var subs []Subscription
	err := l.db.WithContext(ctx).Where("is_active = ? AND expires_at <= ?", true, now.UTC()).Find(&subs).Error
	return subs, err
}

// ListExpiring активные подписки, истекающие в ближайшие within, о которых ещё не предупреждали
func (l *GormLedger) ListExpiring(ctx context.Context, now time.Time, within time.Duration) ([]Subscription, error) {
	var subs []Subscription
	err := l.db.WithContext(ctx).
		Where("is_active = ? AND notified_expiring = ? AND expires_at > ? AND expires_at <= ?", true, false, now.UTC(), now.UTC().Add(within)).
		Find(&subs).Error
	return subs, err
}

func (l *GormLedger) MarkNotifiedExpiring(ctx context.Context, id string) error {
	return l.updateSubscription(ctx, id, map[string]any{"notified_expiring": true})
}
