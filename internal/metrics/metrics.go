// Package metrics define las métricas Prometheus del engine y del backend de referencia.
// Viven en un paquete propio para que gateway, cartstate y devserver no se importen entre sí.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	GatewayRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cartsync_gateway_requests_total",
		Help: "Llamadas al cart gateway por operación y resultado (ok|business|transport|auth)",
	}, []string{"op", "outcome"})

	GatewayLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cartsync_gateway_request_duration_seconds",
		Help:    "Latencia de las llamadas al backend",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"op"})

	CartTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cartsync_cart_transitions_total",
		Help: "Transiciones de la cart state machine por estado destino",
	}, []string{"to"})

	StaleResults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cartsync_cart_stale_results_total",
		Help: "Respuestas descartadas porque la identidad cambió mientras estaban en vuelo",
	})

	IdentityTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cartsync_identity_transitions_total",
		Help: "Transiciones Anonymous/Authenticated por destino y causa",
	}, []string{"to", "cause"})

	MergeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cartsync_cart_merge_failures_total",
		Help: "Conversiones guest→user fallidas (warning no fatal)",
	})

	BackendRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cartsync_devserver_requests_total",
		Help: "Requests atendidos por el backend de referencia",
	}, []string{"route", "status"})
)

// Register registra todas las métricas en el registry dado (o el default si es nil).
// Registrar dos veces no es un error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		GatewayRequests,
		GatewayLatency,
		CartTransitions,
		StaleResults,
		IdentityTransitions,
		MergeFailures,
		BackendRequests,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
