package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"VPN-Subscription-bot/config"
	"VPN-Subscription-bot/internal/db"
	"VPN-Subscription-bot/internal/metrics"
	"VPN-Subscription-bot/internal/payments"
	"VPN-Subscription-bot/internal/servers"
	"VPN-Subscription-bot/internal/xray"
)

// Selection выбранный тариф и сервер
type Selection struct {
	Plan             config.Plan
	Server           *servers.Server
	NeedServerChoice bool
	Servers          []servers.Summary
}

// TrafficStats трафик подписки. Used накопленный итог из базы.
type TrafficStats struct {
	Uplink   int64
	Downlink int64
	Used     int64
}

type VPNOptions struct {
	Plans []config.Plan
	Trial config.TrialConfig
}

// VPNService операции, которые вызывает бот
type VPNService struct {
	ledger      db.Ledger
	registry    *servers.Registry
	gateway     Gateway
	providers   *payments.Manager
	reconciler  *Reconciler
	provisioner *Provisioner
	opts        VPNOptions
	log         *zap.Logger
	now         func() time.Time
}

func NewVPNService(ledger db.Ledger, registry *servers.Registry, gateway Gateway, providers *payments.Manager, reconciler *Reconciler, provisioner *Provisioner, opts VPNOptions, log *zap.Logger) *VPNService {
	return &VPNService{
		ledger:      ledger,
		registry:    registry,
		gateway:     gateway,
		providers:   providers,
		reconciler:  reconciler,
		provisioner: provisioner,
		opts:        opts,
		log:         log.Named("vpn"),
		now:         time.Now,
	}
}

func (s *VPNService) RegisterUser(ctx context.Context, info db.UserInfo) (*db.User, error) {
	return s.ledger.AddOrUpdateUser(ctx, info)
}

func (s *VPNService) GetUser(ctx context.Context, userID int64) (*db.User, error) {
	return s.ledger.GetUser(ctx, userID)
}

func (s *VPNService) Plans() []config.Plan {
	return s.opts.Plans
}

func (s *VPNService) TrialEnabled() bool {
	return s.opts.Trial.Enabled
}

func (s *VPNService) Server(id string) (*servers.Server, error) {
	return s.registry.Resolve(id)
}

func (s *VPNService) Servers() []servers.Summary {
	return s.registry.ListAvailable()
}

func (s *VPNService) PaymentProviders() []string {
	return s.providers.Names()
}

func (s *VPNService) plan(days int) (config.Plan, bool) {
	for _, p := range s.opts.Plans {
		if p.Days == days {
			return p, true
		}
	}
	return config.Plan{}, false
}

// resolveServer пустой id допустим, только когда сервер один
func (s *VPNService) resolveServer(serverID string) (*servers.Server, bool, error) {
	if s.registry.Len() == 0 {
		return nil, false, ErrNoServers
	}
	if serverID == "" && s.registry.Len() > 1 {
		return nil, true, nil
	}
	srv, err := s.registry.Resolve(serverID)
	return srv, false, err
}

func (s *VPNService) SelectPlanAndServer(days int, serverID string) (*Selection, error) {
	plan, ok := s.plan(days)
	if !ok {
		return nil, fmt.Errorf("%w: %d days", ErrPlanNotFound, days)
	}
	srv, needChoice, err := s.resolveServer(serverID)
	if err != nil {
		return nil, err
	}
	if needChoice {
		return &Selection{Plan: plan, NeedServerChoice: true, Servers: s.registry.ListAvailable()}, nil
	}
	return &Selection{Plan: plan, Server: srv}, nil
}

func (s *VPNService) activeUser(ctx context.Context, userID int64) (*db.User, error) {
	u, err := s.ledger.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.IsBanned {
		return nil, ErrUserBanned
	}
	return u, nil
}

// RequestPayment выставляет счёт, записывает платёж и ставит его на проверку
func (s *VPNService) RequestPayment(ctx context.Context, userID int64, provider string, days int, serverID string) (*payments.Invoice, *db.Payment, error) {
	if _, err := s.activeUser(ctx, userID); err != nil {
		return nil, nil, err
	}
	sel, err := s.SelectPlanAndServer(days, serverID)
	if err != nil {
		return nil, nil, err
	}
	if sel.NeedServerChoice {
		return nil, nil, ErrServerChoiceRequired
	}
	prov, err := s.providers.Get(provider)
	if err != nil {
		return nil, nil, err
	}

	desc := fmt.Sprintf("VPN подписка на %d дней (%s)", days, sel.Server.Name)
	inv, err := prov.CreateInvoice(ctx, sel.Plan.Price, days, desc, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("create invoice: %w", err)
	}
	if prov.Name() == payments.ProviderTelegramStars {
		if sel.Plan.PriceStars > 0 {
			inv.AmountStars = sel.Plan.PriceStars
		}
		inv.Amount = float64(inv.AmountStars)
	}

	p, err := s.ledger.RecordPayment(ctx, &db.Payment{
		ID:               inv.PaymentID,
		UserID:           userID,
		Amount:           inv.Amount,
		Currency:         inv.Currency,
		Provider:         prov.Name(),
		Status:           db.StatusPending,
		SubscriptionDays: days,
		ServerID:         sel.Server.ID,
		URL:              inv.URL,
		ExpiresAt:        inv.ExpiresAt,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("record payment: %w", err)
	}
	metrics.IncPaymentCreated(prov.Name())
	s.reconciler.Start(p.ID)
	s.log.Info("invoice created", zap.Int64("user_id", userID), zap.String("provider", prov.Name()), zap.String("payment", p.ID), zap.Int("days", days), zap.String("server", sel.Server.ID))
	return inv, p, nil
}

func (s *VPNService) ownPayment(ctx context.Context, userID int64, paymentID string) (*db.Payment, error) {
	p, err := s.ledger.GetPayment(ctx, paymentID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && p.UserID != userID) {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	return p, err
}

// ManualCheckPayment проверка по кнопке "Проверить оплату"
func (s *VPNService) ManualCheckPayment(ctx context.Context, userID int64, paymentID string) (*CheckResult, error) {
	if _, err := s.ownPayment(ctx, userID, paymentID); err != nil {
		return nil, err
	}
	return s.reconciler.Check(ctx, paymentID)
}

// ValidatePendingPayment можно ли принять оплату по счёту (pre_checkout в Telegram)
func (s *VPNService) ValidatePendingPayment(ctx context.Context, userID int64, paymentID string) error {
	p, err := s.ownPayment(ctx, userID, paymentID)
	if err != nil {
		return err
	}
	if p.Status != db.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrPaymentNotPending, paymentID, p.Status)
	}
	if !p.ExpiresAt.IsZero() && s.now().After(p.ExpiresAt) {
		return fmt.Errorf("%w: %s expired at %s", ErrPaymentNotPending, paymentID, p.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// ConfirmExternalPayment оплата подтверждена самим Telegram (Stars)
func (s *VPNService) ConfirmExternalPayment(ctx context.Context, userID int64, paymentID string) (*CheckResult, error) {
	if _, err := s.ownPayment(ctx, userID, paymentID); err != nil {
		return nil, err
	}
	return s.reconciler.Confirm(ctx, paymentID)
}

func (s *VPNService) ListPayments(ctx context.Context, userID int64) ([]db.Payment, error) {
	return s.ledger.ListPaymentsForUser(ctx, userID)
}

func (s *VPNService) GetActiveSubscriptions(ctx context.Context, userID int64, serverID string) ([]db.Subscription, error) {
	return s.ledger.ListActiveSubscriptions(ctx, userID, serverID)
}

func (s *VPNService) ownSubscription(ctx context.Context, userID int64, subID string) (*db.Subscription, error) {
	sub, err := s.ledger.GetSubscription(ctx, subID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && sub.UserID != userID) {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subID)
	}
	return sub, err
}

// GetConnectionDescriptor ссылка подключения. Если учётки нет или транспорт другой,
// учётка создаётся заново на сервере подписки.
func (s *VPNService) GetConnectionDescriptor(ctx context.Context, userID int64, subID string, transport xray.Transport) (string, error) {
	sub, err := s.ownSubscription(ctx, userID, subID)
	if err != nil {
		return "", err
	}
	if !sub.Active(s.now()) {
		return "", ErrSubscriptionInactive
	}
	srv, err := s.registry.Resolve(sub.ServerID)
	if err != nil {
		return "", err
	}
	if !sub.HasIdentity() || sub.Transport != string(transport) {
		if _, err := s.provisioner.Provision(ctx, sub, transport); err != nil {
			return "", fmt.Errorf("%w: %v", ErrAccountSetupFailed, err)
		}
	}
	return xray.BuildConnectionDescriptor(sub.IdentityID, sub.Label, transport, srv)
}

// GetTrafficStats снимает счётчики со шлюза, переносит их в базу и обнуляет на шлюзе
func (s *VPNService) GetTrafficStats(ctx context.Context, userID int64, subID string) (*TrafficStats, error) {
	sub, err := s.ownSubscription(ctx, userID, subID)
	if err != nil {
		return nil, err
	}
	stats := &TrafficStats{Used: sub.TrafficUsed}
	if !sub.HasIdentity() {
		return stats, nil
	}
	// снятое со шлюза обнулено там, поэтому в базу идёт всё, даже при частичной ошибке
	tr, err := s.gateway.CollectTraffic(ctx, sub.ServerID, sub.Label)
	if err != nil {
		s.log.Warn("collect traffic failed", zap.String("subscription", sub.ID), zap.Error(err))
	}
	stats.Uplink, stats.Downlink = tr.Uplink, tr.Downlink
	if tr.Total <= 0 {
		return stats, nil
	}
	if err := s.ledger.IncrementTraffic(ctx, sub.ID, tr.Total); err != nil {
		s.log.Error("increment traffic failed", zap.String("subscription", sub.ID), zap.Int64("bytes", tr.Total), zap.Error(err))
		return stats, nil
	}
	stats.Used += tr.Total
	return stats, nil
}

// ActivateTrial пробная подписка. Провайдеры не участвуют.
func (s *VPNService) ActivateTrial(ctx context.Context, userID int64, serverID string) (*db.Subscription, error) {
	if !s.opts.Trial.Enabled {
		return nil, ErrTrialDisabled
	}
	u, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.TrialUsed {
		return nil, ErrTrialUsed
	}
	active, err := s.ledger.ListActiveSubscriptions(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, ErrActiveSubscription
	}
	srv, needChoice, err := s.resolveServer(serverID)
	if err != nil {
		return nil, err
	}
	if needChoice {
		return nil, ErrServerChoiceRequired
	}

	sub, err := s.ledger.AddSubscription(ctx, userID, s.opts.Trial.Days, nil, srv.ID, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.provisioner.Provision(ctx, sub, xray.TransportReality); err != nil {
		metrics.IncProvisioningFailure()
		return sub, fmt.Errorf("%w: %v", ErrAccountSetupFailed, err)
	}
	s.log.Info("trial activated", zap.Int64("user_id", userID), zap.String("subscription", sub.ID), zap.String("server", srv.ID))
	return sub, nil
}
