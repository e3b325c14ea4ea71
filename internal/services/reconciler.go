package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/db"
	"VPN-Subscription-bot/internal/lock"
	"VPN-Subscription-bot/internal/logger"
	"VPN-Subscription-bot/internal/metrics"
	"VPN-Subscription-bot/internal/payments"
	"VPN-Subscription-bot/internal/xray"
)

// ProviderSource выдаёт провайдера по имени (*payments.Manager)
type ProviderSource interface {
	Get(name string) (payments.Provider, error)
}

type ReconcilerConfig struct {
	Interval time.Duration
	FirstMin time.Duration
	FirstMax time.Duration
	// Grace сколько после ExpiresAt ещё ждать подтверждения Stars и ответа недоступного провайдера
	Grace time.Duration
}

// CheckResult итог проверки платежа
type CheckResult struct {
	Payment      *db.Payment
	Status       db.PaymentStatus
	Subscription *db.Subscription
	// Changed статус перешёл в терминальный именно в этом вызове
	Changed bool
}

// Reconciler опрашивает провайдеров по каждому ожидающему платежу и доводит платёж
// до терминального статуса. Подписка создаётся ровно один раз на платёж.
type Reconciler struct {
	ledger      db.Ledger
	providers   ProviderSource
	provisioner *Provisioner
	locker      lock.Locker
	notifier    Notifier
	log         *zap.Logger
	cfg         ReconcilerConfig

	cron   *cron.Cron
	now    func() time.Time
	jitter func(n int64) int64

	mu    sync.Mutex
	tasks map[string]cron.EntryID
}

func NewReconciler(ledger db.Ledger, providers ProviderSource, provisioner *Provisioner, locker lock.Locker, notifier Notifier, cfg ReconcilerConfig, log *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.FirstMin <= 0 {
		cfg.FirstMin = 10 * time.Second
	}
	if cfg.FirstMax < cfg.FirstMin {
		cfg.FirstMax = cfg.FirstMin
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Minute
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	log = log.Named("reconciler")
	cl := logger.Cron(log)
	return &Reconciler{
		ledger:      ledger,
		providers:   providers,
		provisioner: provisioner,
		locker:      locker,
		notifier:    notifier,
		log:         log,
		cfg:         cfg,
		cron:        cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		now:         time.Now,
		jitter:      rand.Int64N,
		tasks:       make(map[string]cron.EntryID),
	}
}

// pollSchedule первый запуск через first, дальше каждые every
type pollSchedule struct {
	first time.Duration
	every time.Duration
	fired atomic.Bool
}

func (s *pollSchedule) Next(t time.Time) time.Time {
	if s.fired.CompareAndSwap(false, true) {
		return t.Add(s.first)
	}
	return t.Add(s.every)
}

// Run запускает планировщик задач
func (r *Reconciler) Run() {
	r.cron.Start()
}

// Stop останавливает планировщик и ждёт выполняющиеся проверки
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

// Start ставит платёж на периодическую проверку. Повторный вызов для того же платежа ничего не делает.
func (r *Reconciler) Start(paymentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[paymentID]; ok {
		return
	}
	first := r.cfg.FirstMin
	if spread := int64(r.cfg.FirstMax - r.cfg.FirstMin); spread > 0 {
		first += time.Duration(r.jitter(spread + 1))
	}
	id := r.cron.Schedule(&pollSchedule{first: first, every: r.cfg.Interval}, cron.FuncJob(func() {
		r.poll(paymentID)
	}))
	r.tasks[paymentID] = id
	metrics.SetReconcileTasks(len(r.tasks))
	r.log.Debug("reconcile task scheduled", zap.String("payment", paymentID), zap.Duration("first", first))
}

func (r *Reconciler) cancel(paymentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.tasks[paymentID]
	if !ok {
		return
	}
	r.cron.Remove(id)
	delete(r.tasks, paymentID)
	metrics.SetReconcileTasks(len(r.tasks))
}

// Tasks число активных задач
func (r *Reconciler) Tasks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Scheduled стоит ли платёж на проверке
func (r *Reconciler) Scheduled(paymentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[paymentID]
	return ok
}

// Resume ставит на проверку все ожидающие платежи (после рестарта)
func (r *Reconciler) Resume(ctx context.Context) (int, error) {
	pending, err := r.ledger.ListPendingPayments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending payments: %w", err)
	}
	for _, p := range pending {
		r.Start(p.ID)
	}
	if len(pending) > 0 {
		r.log.Info("pending payments resumed", zap.Int("count", len(pending)))
	}
	return len(pending), nil
}

func (r *Reconciler) poll(paymentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Interval)
	defer cancel()
	res, err := r.Check(ctx, paymentID)
	switch {
	case errors.Is(err, payments.ErrProviderTransport):
		r.log.Warn("provider unavailable, will retry", zap.String("payment", paymentID), zap.Error(err))
	case err != nil:
		r.log.Error("reconcile failed", zap.String("payment", paymentID), zap.Error(err))
	case res.Changed:
		r.log.Info("payment reconciled", zap.String("payment", paymentID), zap.String("status", string(res.Status)))
	}
}

// Check спрашивает статус у провайдера и применяет его
func (r *Reconciler) Check(ctx context.Context, paymentID string) (*CheckResult, error) {
	return r.locked(ctx, paymentID, false)
}

// Confirm платёж подтверждён извне (webhook, successful_payment), провайдер не опрашивается
func (r *Reconciler) Confirm(ctx context.Context, paymentID string) (*CheckResult, error) {
	return r.locked(ctx, paymentID, true)
}

func (r *Reconciler) locked(ctx context.Context, paymentID string, confirmed bool) (*CheckResult, error) {
	unlock, err := r.locker.Lock(ctx, "payment:"+paymentID)
	if err != nil {
		return nil, fmt.Errorf("lock payment %s: %w", paymentID, err)
	}
	defer unlock()
	return r.reconcile(ctx, paymentID, confirmed)
}

func (r *Reconciler) reconcile(ctx context.Context, paymentID string, confirmed bool) (*CheckResult, error) {
	p, err := r.ledger.GetPayment(ctx, paymentID)
	if errors.Is(err, db.ErrNotFound) {
		r.cancel(paymentID)
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		r.cancel(paymentID)
		return r.settled(ctx, p)
	}

	status := payments.StatusPaid
	if !confirmed {
		prov, err := r.providers.Get(p.Provider)
		if err != nil {
			r.cancel(paymentID)
			return nil, err
		}
		status, err = prov.CheckStatus(ctx, p.ID)
		if err != nil {
			if r.abandoned(p, err) {
				r.log.Warn("provider keeps failing past invoice expiry, expiring payment", zap.String("payment", p.ID), zap.Error(err))
				return r.markExpired(ctx, p)
			}
			return &CheckResult{Payment: p, Status: p.Status}, fmt.Errorf("check payment %s: %w", p.ID, err)
		}
	}

	switch {
	case status == payments.StatusPaid:
		return r.markPaid(ctx, p)
	case status == payments.StatusExpired:
		return r.markExpired(ctx, p)
	case r.overdue(p, 0):
		return r.markExpired(ctx, p)
	}
	return &CheckResult{Payment: p, Status: p.Status}, nil
}

// overdue прошёл ли срок счёта плюс extra. Stars подтверждает Telegram после pre_checkout,
// им всегда добавляется Grace.
func (r *Reconciler) overdue(p *db.Payment, extra time.Duration) bool {
	if p.ExpiresAt.IsZero() {
		return false
	}
	if p.Provider == payments.ProviderTelegramStars && extra < r.cfg.Grace {
		extra = r.cfg.Grace
	}
	return r.now().After(p.ExpiresAt.Add(extra))
}

// abandoned ошибку провайдера больше не ждём: отказ провайдера после срока счёта
// или недоступность дольше Grace после него
func (r *Reconciler) abandoned(p *db.Payment, err error) bool {
	if errors.Is(err, payments.ErrProviderTransport) {
		return r.overdue(p, r.cfg.Grace)
	}
	return r.overdue(p, 0)
}

// settled результат для уже терминального платежа. Для оплаченного платежа без подписки
// подписка создаётся здесь.
func (r *Reconciler) settled(ctx context.Context, p *db.Payment) (*CheckResult, error) {
	res := &CheckResult{Payment: p, Status: p.Status}
	if p.Status != db.StatusPaid {
		return res, nil
	}
	sub, err := r.ledger.SubscriptionByPayment(ctx, p.ID)
	if err == nil {
		res.Subscription = sub
		return res, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return res, err
	}
	r.log.Warn("paid payment has no subscription, creating", zap.String("payment", p.ID))
	sub, _, err = r.ledger.SettlePayment(ctx, p.ID)
	if err != nil {
		return res, fmt.Errorf("create subscription for payment %s: %w", p.ID, err)
	}
	res.Subscription = sub
	return res, r.provision(ctx, p, sub)
}

// lost переход сделал кто-то другой, возвращаем актуальное состояние
func (r *Reconciler) lost(ctx context.Context, p *db.Payment) (*CheckResult, error) {
	r.cancel(p.ID)
	fresh, err := r.ledger.GetPayment(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return r.settled(ctx, fresh)
}

// markPaid статус paid и подписка записываются одной транзакцией, учётка на шлюзе создаётся после
func (r *Reconciler) markPaid(ctx context.Context, p *db.Payment) (*CheckResult, error) {
	sub, changed, err := r.ledger.SettlePayment(ctx, p.ID)
	if errors.Is(err, db.ErrInvalidTransition) {
		return r.lost(ctx, p)
	}
	if err != nil {
		return &CheckResult{Payment: p, Status: p.Status}, fmt.Errorf("settle payment %s: %w", p.ID, err)
	}
	if !changed {
		return r.lost(ctx, p)
	}
	p.Status = db.StatusPaid
	r.cancel(p.ID)
	metrics.IncReconciled(string(db.StatusPaid))
	r.log.Info("payment paid", zap.String("payment", p.ID), zap.Int64("user_id", p.UserID), zap.String("provider", p.Provider))

	res := &CheckResult{Payment: p, Status: db.StatusPaid, Subscription: sub, Changed: true}
	if err := r.provision(ctx, p, sub); err != nil {
		return res, err
	}
	r.notifier.PaymentSucceeded(ctx, p, sub)
	return res, nil
}

// provision создаёт учётку для подписки оплаченного платежа, если её ещё нет
func (r *Reconciler) provision(ctx context.Context, p *db.Payment, sub *db.Subscription) error {
	if sub.HasIdentity() {
		return nil
	}
	if _, err := r.provisioner.Provision(ctx, sub, xray.TransportReality); err != nil {
		metrics.IncProvisioningFailure()
		r.log.Error("account setup failed after payment", zap.String("payment", p.ID), zap.Error(err))
		r.notifier.ProvisioningFailed(ctx, p, err)
		return fmt.Errorf("%w: %v", ErrAccountSetupFailed, err)
	}
	return nil
}

func (r *Reconciler) markExpired(ctx context.Context, p *db.Payment) (*CheckResult, error) {
	swapped, err := r.ledger.TransitionPayment(ctx, p.ID, db.StatusPending, db.StatusExpired)
	if err != nil {
		return nil, fmt.Errorf("mark payment %s expired: %w", p.ID, err)
	}
	if !swapped {
		return r.lost(ctx, p)
	}
	p.Status = db.StatusExpired
	metrics.IncReconciled(string(db.StatusExpired))
	r.log.Info("payment expired", zap.String("payment", p.ID), zap.Int64("user_id", p.UserID))
	r.notifier.PaymentExpired(ctx, p)
	r.cancel(p.ID)
	return &CheckResult{Payment: p, Status: db.StatusExpired, Changed: true}, nil
}
