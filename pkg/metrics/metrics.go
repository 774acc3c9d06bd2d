// Package metrics exposes MFA engine counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tendant/simple-mfa/pkg/mfa"
)

const DefaultNamespace = "mfa"

// Collector implements mfa.Metrics.
type Collector struct {
	challengesInitiated *prometheus.CounterVec
	initiateFailures    *prometheus.CounterVec
	stepsValidated      *prometheus.CounterVec
	credentialsIssued   *prometheus.CounterVec
}

// NewCollector registers the counters on reg. Use a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)
	return &Collector{
		challengesInitiated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_initiated_total",
			Help:      "Challenges created, by action.",
		}, []string{"action"}),
		initiateFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_initiate_failures_total",
			Help:      "Method handler initiation failures, by method.",
		}, []string{"method"}),
		stepsValidated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_validations_total",
			Help:      "Step validation attempts, by method and result.",
		}, []string{"method", "result"}),
		credentialsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_issued_total",
			Help:      "Action credentials minted, by action.",
		}, []string{"action"}),
	}
}

func (c *Collector) ChallengeInitiated(action mfa.Action) {
	c.challengesInitiated.WithLabelValues(string(action)).Inc()
}

func (c *Collector) HandlerInitiateFailed(method mfa.MethodID) {
	c.initiateFailures.WithLabelValues(string(method)).Inc()
}

func (c *Collector) StepValidated(method mfa.MethodID, ok bool) {
	result := "rejected"
	if ok {
		result = "accepted"
	}
	c.stepsValidated.WithLabelValues(string(method), result).Inc()
}

func (c *Collector) CredentialIssued(action mfa.Action) {
	c.credentialsIssued.WithLabelValues(string(action)).Inc()
}

var _ mfa.Metrics = (*Collector)(nil)
