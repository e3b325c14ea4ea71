package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDeactivateExpired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(1)
	p := e.pay(1, "")
	res, err := e.reconciler.Confirm(ctx, p.ID)
	require.NoError(t, err)
	sub := res.Subscription

	m := NewMaintenance(e.ledger, e.provisioner, e.notifier, nil, zap.NewNop())
	n, err := m.DeactivateExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	m.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }
	n, err = m.DeactivateExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, e.notifier.count("sub_expired"))

	stored, err := e.ledger.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	ids, err := e.gateway.ListUsers(ctx, "eu1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	n, err = m.DeactivateExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNotifyExpiringOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(1)
	_, err := e.ledger.AddSubscription(ctx, 1, 2, nil, "eu1", false)
	require.NoError(t, err)
	_, err = e.ledger.AddSubscription(ctx, 1, 30, nil, "eu1", false)
	require.NoError(t, err)

	m := NewMaintenance(e.ledger, e.provisioner, e.notifier, nil, zap.NewNop())
	n, err := m.NotifyExpiring(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = m.NotifyExpiring(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, e.notifier.count("sub_expiring"))
}
