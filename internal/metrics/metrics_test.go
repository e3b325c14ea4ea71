package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(paymentsCreated.WithLabelValues("cryptobot"))
	IncPaymentCreated(" CryptoBot ")
	assert.Equal(t, before+1, testutil.ToFloat64(paymentsCreated.WithLabelValues("cryptobot")))

	IncGatewayReload("eu1", false)
	assert.Equal(t, float64(1), testutil.ToFloat64(gatewayReloads.WithLabelValues("eu1", "error")))

	SetReconcileTasks(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(reconcileTasks))
}

func TestNorm(t *testing.T) {
	assert.Equal(t, "unknown", norm("  "))
	assert.Equal(t, "paid", norm("PAID"))
}
