package services

import (
	"errors"

	"VPN-Subscription-bot/internal/db"
)

var (
	ErrNoServers            = errors.New("no servers configured")
	ErrPlanNotFound         = errors.New("subscription plan not found")
	ErrTrialDisabled        = errors.New("trial is disabled")
	ErrTrialUsed            = db.ErrTrialUsed
	ErrActiveSubscription   = errors.New("user already has an active subscription")
	ErrServerChoiceRequired = errors.New("server choice required")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionInactive = errors.New("subscription is not active")
	ErrUserBanned           = errors.New("user is banned")
	ErrPaymentNotPending    = errors.New("payment is not pending")

	// ErrAccountSetupFailed оплата прошла, но учётку на шлюзе создать не удалось
	ErrAccountSetupFailed = errors.New("payment succeeded, account setup failed")
)
