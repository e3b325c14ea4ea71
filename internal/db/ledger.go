package db

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid payment status transition")
	ErrTrialUsed         = errors.New("trial already used")
)

// Ledger учёт пользователей, подписок и платежей. Каждая мутация атомарна.
type Ledger interface {
	AddOrUpdateUser(ctx context.Context, info UserInfo) (*User, error)
	GetUser(ctx context.Context, telegramID int64) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	SetBanned(ctx context.Context, telegramID int64, banned bool) error

	AddSubscription(ctx context.Context, userID int64, days int, paymentID *string, serverID string, trial bool) (*Subscription, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	SubscriptionByPayment(ctx context.Context, paymentID string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, userID int64) ([]Subscription, error)
	ListActiveSubscriptions(ctx context.Context, userID int64, serverID string) ([]Subscription, error)
	ExtendSubscription(ctx context.Context, id string, days int) (*Subscription, error)
	DeactivateSubscription(ctx context.Context, id string) error
	AttachIdentity(ctx context.Context, id, identityID, label, transport string) error

	RecordPayment(ctx context.Context, p *Payment) (*Payment, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
	UpdatePaymentStatus(ctx context.Context, id string, status PaymentStatus) error
	TransitionPayment(ctx context.Context, id string, from, to PaymentStatus) (bool, error)
	SettlePayment(ctx context.Context, id string) (*Subscription, bool, error)
	ListPaymentsForUser(ctx context.Context, userID int64) ([]Payment, error)
	ListPendingPayments(ctx context.Context) ([]Payment, error)

	IncrementTraffic(ctx context.Context, id string, bytes int64) error
	ResetTraffic(ctx context.Context, id string) error

	ListExpiredActive(ctx context.Context, now time.Time) ([]Subscription, error)
	ListExpiring(ctx context.Context, now time.Time, within time.Duration) ([]Subscription, error)
	MarkNotifiedExpiring(ctx context.Context, id string) error
}
