package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveClients         = promauto.NewGauge(prometheus.GaugeOpts{Name: "relaygate_active_clients", Help: "Currently connected client transports"})
	OpenTunnels           = promauto.NewGauge(prometheus.GaugeOpts{Name: "relaygate_open_tunnels", Help: "Currently open multiplexed TCP connections"})
	AuthSuccessTotal      = promauto.NewCounter(prometheus.CounterOpts{Name: "relaygate_auth_success_total", Help: "Successful authentications"})
	AuthFailureTotal      = promauto.NewCounter(prometheus.CounterOpts{Name: "relaygate_auth_failure_total", Help: "Rejected authentications"})
	AuthzDeniedTotal      = promauto.NewCounter(prometheus.CounterOpts{Name: "relaygate_authz_denied_total", Help: "Messages rejected by the authorization gate"})
	ProtocolErrorsTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "relaygate_protocol_errors_total", Help: "Malformed or unknown-type frames"})
	TunnelDialErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "relaygate_tunnel_dial_errors_total", Help: "Failed outbound TCP connect attempts"})
	BytesForwardedTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relaygate_bytes_forwarded_total", Help: "Bytes relayed through tunnels by direction"}, []string{"direction"})
	TunnelDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relaygate_tunnel_duration_seconds", Help: "Tunnel lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
