package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VPN-Subscription-bot/internal/db"
	"VPN-Subscription-bot/internal/payments"
	"VPN-Subscription-bot/internal/servers"
	"VPN-Subscription-bot/internal/xray"
)

func TestSelectPlanAndServer(t *testing.T) {
	e := newEnv(t, withServers("eu1", "us1"))

	_, err := e.svc.SelectPlanAndServer(7, "")
	assert.True(t, errors.Is(err, ErrPlanNotFound))

	sel, err := e.svc.SelectPlanAndServer(30, "")
	require.NoError(t, err)
	assert.True(t, sel.NeedServerChoice)
	assert.Len(t, sel.Servers, 2)
	assert.Nil(t, sel.Server)

	sel, err = e.svc.SelectPlanAndServer(30, "us1")
	require.NoError(t, err)
	assert.False(t, sel.NeedServerChoice)
	assert.Equal(t, "us1", sel.Server.ID)
	assert.Equal(t, 5.0, sel.Plan.Price)

	_, err = e.svc.SelectPlanAndServer(30, "mars")
	assert.True(t, errors.Is(err, servers.ErrServerNotFound))
}

func TestSelectWithoutServers(t *testing.T) {
	e := newEnv(t, withServers())
	_, err := e.svc.SelectPlanAndServer(30, "")
	assert.True(t, errors.Is(err, ErrNoServers))
}

func TestRequestPayment(t *testing.T) {
	e := newEnv(t, withServers("eu1", "us1"))
	ctx := context.Background()
	e.user(1)

	_, _, err := e.svc.RequestPayment(ctx, 1, "fake", 30, "")
	assert.True(t, errors.Is(err, ErrServerChoiceRequired))

	_, _, err = e.svc.RequestPayment(ctx, 1, "paypal", 30, "eu1")
	assert.True(t, errors.Is(err, payments.ErrProviderNotConfigured))

	inv, p, err := e.svc.RequestPayment(ctx, 1, "fake", 30, "eu1")
	require.NoError(t, err)
	assert.Equal(t, inv.PaymentID, p.ID)
	assert.Equal(t, db.StatusPending, p.Status)
	assert.Equal(t, "eu1", p.ServerID)
	assert.Equal(t, 30, p.SubscriptionDays)
	assert.Equal(t, 5.0, p.Amount)
	assert.True(t, e.reconciler.Scheduled(p.ID))

	_, _, err = e.svc.RequestPayment(ctx, 2, "fake", 30, "eu1")
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestRequestPaymentBannedUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(1)
	require.NoError(t, e.ledger.SetBanned(ctx, 1, true))

	_, _, err := e.svc.RequestPayment(ctx, 1, "fake", 30, "")
	assert.True(t, errors.Is(err, ErrUserBanned))
	assert.Equal(t, 0, e.reconciler.Tasks())
}

func TestStarsInvoiceUsesPlanPrice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(1)
	e.svc.providers = payments.NewManagerFrom(e.provider, payments.NewTelegramStars(payments.Options{}))

	inv, p, err := e.svc.RequestPayment(ctx, 1, payments.ProviderTelegramStars, 30, "")
	require.NoError(t, err)
	assert.Equal(t, 50, inv.AmountStars)
	assert.True(t, strings.HasPrefix(inv.URL, payments.StarsURLPrefix))
	assert.Equal(t, payments.ProviderTelegramStars, p.Provider)
	// в учёт идёт сумма в звёздах
	assert.Equal(t, "XTR", p.Currency)
	assert.Equal(t, 50.0, p.Amount)

	require.NoError(t, e.svc.ValidatePendingPayment(ctx, 1, p.ID))
	res, err := e.svc.ConfirmExternalPayment(ctx, 1, p.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusPaid, res.Status)
	assert.True(t, errors.Is(e.svc.ValidatePendingPayment(ctx, 1, p.ID), ErrPaymentNotPending))
}

func TestPreCheckoutRefusedAfterInvoiceExpiry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(1)
	e.svc.providers = payments.NewManagerFrom(e.provider, payments.NewTelegramStars(payments.Options{}))
	_, p, err := e.svc.RequestPayment(ctx, 1, payments.ProviderTelegramStars, 30, "")
	require.NoError(t, err)

	e.svc.now = func() time.Time { return p.ExpiresAt.Add(time.Second) }
	assert.True(t, errors.Is(e.svc.ValidatePendingPayment(ctx, 1, p.ID), ErrPaymentNotPending))
}

func TestPaymentOwnership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(1)
	e.user(2)
	p := e.pay(1, "")

	_, err := e.svc.ManualCheckPayment(ctx, 2, p.ID)
	assert.True(t, errors.Is(err, ErrPaymentNotFound))
	_, err = e.svc.ConfirmExternalPayment(ctx, 2, p.ID)
	assert.True(t, errors.Is(err, ErrPaymentNotFound))
	_, err = e.svc.ManualCheckPayment(ctx, 1, "missing")
	assert.True(t, errors.Is(err, ErrPaymentNotFound))

	stored, err := e.ledger.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusPending, stored.Status)
}

// Scenario C
func TestPaymentProvisionsOnlySelectedServer(t *testing.T) {
	e := newEnv(t, withServers("eu1", "us1"))
	ctx := context.Background()
	e.user(1)

	assert.Len(t, e.svc.Servers(), 2)
	p := e.pay(1, "eu1")
	e.provider.set(p.ID, payments.StatusPaid)
	res, err := e.svc.ManualCheckPayment(ctx, 1, p.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Subscription)

	eu, err := e.gateway.ListUsers(ctx, "eu1")
	require.NoError(t, err)
	require.Len(t, eu, 1)
	assert.Equal(t, res.Subscription.Label, eu[0].Label)

	assert.True(t, e.configExists("eu1"))
	assert.False(t, e.configExists("us1"))
	us, err := e.gateway.ListUsers(ctx, "us1")
	require.NoError(t, err)
	assert.Empty(t, us)

	active, err := e.svc.GetActiveSubscriptions(ctx, 1, "us1")
	require.NoError(t, err)
	assert.Empty(t, active)
	active, err = e.svc.GetActiveSubscriptions(ctx, 1, "eu1")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

// Scenario D
func TestTrialRefusedWhenUsed(t *testing.T) {
	e := newEnv(t, withTrial())
	ctx := context.Background()
	e.user(1)

	sub, err := e.svc.ActivateTrial(ctx, 1, "")
	require.NoError(t, err)
	assert.True(t, sub.IsTrial)
	assert.True(t, sub.HasIdentity())
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 3), sub.ExpiresAt, time.Minute)

	require.NoError(t, e.ledger.DeactivateSubscription(ctx, sub.ID))
	_, err = e.svc.ActivateTrial(ctx, 1, "")
	assert.True(t, errors.Is(err, ErrTrialUsed))

	assert.Equal(t, 0, e.provider.checkCount())
	ps, err := e.ledger.ListPaymentsForUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestTrialRefusals(t *testing.T) {
	ctx := context.Background()

	e := newEnv(t)
	e.user(1)
	_, err := e.svc.ActivateTrial(ctx, 1, "")
	assert.True(t, errors.Is(err, ErrTrialDisabled))

	e = newEnv(t, withTrial(), withServers("eu1", "us1"))
	e.user(1)
	_, err = e.svc.ActivateTrial(ctx, 1, "")
	assert.True(t, errors.Is(err, ErrServerChoiceRequired))
	u, err := e.ledger.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.False(t, u.TrialUsed)

	p := e.pay(1, "us1")
	_, err = e.reconciler.Confirm(ctx, p.ID)
	require.NoError(t, err)
	_, err = e.svc.ActivateTrial(ctx, 1, "us1")
	assert.True(t, errors.Is(err, ErrActiveSubscription))
}

func TestConnectionDescriptor(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(1)
	p := e.pay(1, "")
	res, err := e.reconciler.Confirm(ctx, p.ID)
	require.NoError(t, err)
	sub := res.Subscription

	link, err := e.svc.GetConnectionDescriptor(ctx, 1, sub.ID, xray.TransportReality)
	require.NoError(t, err)
	want := "vless://" + sub.IdentityID + "@eu1.example.com:443?security=reality&encryption=none&flow=xtls-rprx-vision&type=tcp&sni=www.microsoft.com&fp=chrome&pbk=pub-eu1&sid=0123abcd#" + sub.Label
	assert.Equal(t, want, link)

	again, err := e.svc.GetConnectionDescriptor(ctx, 1, sub.ID, xray.TransportReality)
	require.NoError(t, err)
	assert.Equal(t, link, again)

	_, err = e.svc.GetConnectionDescriptor(ctx, 2, sub.ID, xray.TransportReality)
	assert.True(t, errors.Is(err, ErrSubscriptionNotFound))

	ws, err := e.svc.GetConnectionDescriptor(ctx, 1, sub.ID, xray.TransportWS)
	require.NoError(t, err)
	assert.Contains(t, ws, "@eu1.example.com:8443?security=tls")
	assert.Contains(t, ws, "type=ws")

	ids, err := e.gateway.ListUsers(ctx, "eu1")
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, xray.TransportWS, ids[0].Transport)
}

func TestConnectionDescriptorSelfHeals(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(1)
	sub, err := e.ledger.AddSubscription(ctx, 1, 30, nil, "eu1", false)
	require.NoError(t, err)
	assert.False(t, sub.HasIdentity())

	link, err := e.svc.GetConnectionDescriptor(ctx, 1, sub.ID, xray.TransportReality)
	require.NoError(t, err)

	stored, err := e.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.True(t, stored.HasIdentity())
	assert.True(t, strings.HasPrefix(link, "vless://"+stored.IdentityID+"@"))
}

func TestConnectionDescriptorInactive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(1)
	sub, err := e.ledger.AddSubscription(ctx, 1, 30, nil, "eu1", false)
	require.NoError(t, err)
	require.NoError(t, e.ledger.DeactivateSubscription(ctx, sub.ID))

	_, err = e.svc.GetConnectionDescriptor(ctx, 1, sub.ID, xray.TransportReality)
	assert.True(t, errors.Is(err, ErrSubscriptionInactive))
}

func TestTrafficStatsMoveLedgerForward(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(1)
	p := e.pay(1, "")
	res, err := e.reconciler.Confirm(ctx, p.ID)
	require.NoError(t, err)
	sub := res.Subscription

	e.control.setTraffic(sub.Label, 100, 200)
	st, err := e.svc.GetTrafficStats(ctx, 1, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.Uplink)
	assert.Equal(t, int64(200), st.Downlink)
	assert.Equal(t, int64(300), st.Used)

	st, err = e.svc.GetTrafficStats(ctx, 1, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), st.Used)

	e.control.setTraffic(sub.Label, 50, 0)
	st, err = e.svc.GetTrafficStats(ctx, 1, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(350), st.Used)

	stored, err := e.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(350), stored.TrafficUsed)
}

func TestTrafficStatsConcurrentReadsCountOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(1)
	p := e.pay(1, "")
	res, err := e.reconciler.Confirm(ctx, p.ID)
	require.NoError(t, err)
	sub := res.Subscription

	e.control.setTraffic(sub.Label, 400, 600)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.GetTrafficStats(ctx, 1, sub.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// трафик, набежавший после предыдущего чтения, тоже доходит до базы
	e.control.setTraffic(sub.Label, 5, 5)
	st, err := e.svc.GetTrafficStats(ctx, 1, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1010), st.Used)

	stored, err := e.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1010), stored.TrafficUsed)
}

func TestTrafficStatsGatewayDown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(1)
	p := e.pay(1, "")
	res, err := e.reconciler.Confirm(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, e.ledger.IncrementTraffic(ctx, res.Subscription.ID, 42))

	e.control.err = errBoom
	st, err := e.svc.GetTrafficStats(ctx, 1, res.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), st.Used)
	assert.Zero(t, st.Uplink)
}
