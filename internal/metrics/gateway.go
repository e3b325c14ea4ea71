package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(gatewayReloads)
}

var gatewayReloads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_reloads_total",
		Help: "xray reloads, by server and result (ok/error).",
	},
	[]string{"server", "result"},
)

func IncGatewayReload(server string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	gatewayReloads.WithLabelValues(norm(server), result).Inc()
}
