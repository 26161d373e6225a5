package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del protocolo. Paquete aparte para evitar ciclos de import entre
// los paquetes de protocolo y el HTTP que las expone.

var (
	ChallengesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cverify_challenges_issued_total",
		Help: "Challenges emitidos",
	})
	ChallengesConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cverify_challenges_consumed_total",
		Help: "Challenges resueltos con firma válida",
	})
	ChallengesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cverify_challenges_rejected_total",
		Help: "Challenges rechazados por causa",
	}, []string{"reason"}) // expired|bad_signature|no_challenge|domain_mismatch

	AttestationsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cverify_attestations_issued_total",
		Help: "Attestations emitidos",
	})
	AttestationsVerified = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cverify_attestations_verified_total",
		Help: "Verificaciones de attestation por resultado",
	}, []string{"signature", "dns"}) // valid|invalid x confirmed|unconfirmed

	DNSLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cverify_dns_lookups_total",
		Help: "Lookups TXT por resultado",
	}, []string{"result"}) // ok|absent|error

	DNSLookupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cverify_dns_lookup_duration_seconds",
		Help:    "Latencia de resolución TXT",
		Buckets: prometheus.DefBuckets,
	})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cverify_deliveries_total",
		Help: "Entregas de documentos por resultado",
	}, []string{"result"}) // ok|unreachable
)

// Register registra las métricas del protocolo en el registry dado (o el
// default si es nil). Tolera re-registro.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cs := []prometheus.Collector{
		ChallengesIssued, ChallengesConsumed, ChallengesRejected,
		AttestationsIssued, AttestationsVerified,
		DNSLookups, DNSLookupLatency, Deliveries,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
