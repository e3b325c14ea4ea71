package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(paymentsCreated, paymentsReconciled, provisioningFailures, reconcileTasks)
}

var (
	paymentsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_created_total",
			Help: "Invoices created, by provider.",
		},
		[]string{"provider"},
	)

	paymentsReconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_reconciled_total",
			Help: "Terminal payment transitions, by outcome (paid/expired).",
		},
		[]string{"outcome"},
	)

	provisioningFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provisioning_failures_total",
			Help: "Paid payments whose account setup failed.",
		},
	)

	reconcileTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconcile_tasks",
			Help: "Active payment polling tasks.",
		},
	)
)

func IncPaymentCreated(provider string) {
	paymentsCreated.WithLabelValues(norm(provider)).Inc()
}

func IncReconciled(outcome string) {
	paymentsReconciled.WithLabelValues(norm(outcome)).Inc()
}

func IncProvisioningFailure() {
	provisioningFailures.Inc()
}

func SetReconcileTasks(n int) {
	reconcileTasks.Set(float64(n))
}
