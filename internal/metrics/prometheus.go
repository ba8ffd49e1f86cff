package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_logins_success_total",
		Help: "Total number of successful logins.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_logins_failure_total",
		Help: "Total number of failed logins.",
	})
	TokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_tokens_issued_total",
		Help: "Total number of token pairs issued.",
	})
	TokensRefreshedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_tokens_refreshed_total",
		Help: "Total number of refresh rotations performed.",
	})
	TokenReuseDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_reuse_detected_total",
		Help: "Total number of refresh token reuse detections.",
	})
	FederatedLoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_federated_logins_total",
		Help: "Total number of federated logins by provider and outcome.",
	}, []string{"provider", "outcome"})
	AccountsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_accounts_created_total",
		Help: "Total number of accounts created.",
	})
)

// Register registers the auth core's metrics with the given registry. It
// should be called once at application startup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("prometheus registry is nil, metrics not registered")
		return
	}
	for _, c := range []prometheus.Collector{
		LoginSuccessTotal, LoginFailureTotal, TokensIssuedTotal,
		TokensRefreshedTotal, TokenReuseDetectedTotal, FederatedLoginsTotal,
		AccountsCreatedTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("failed to register metric")
		}
	}
}
