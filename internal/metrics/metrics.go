package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records token endpoint events
type Recorder interface {
	RecordTokenIssued(grantType string, duration time.Duration)
	RecordGrantFailure(grantType, errorCode string)
	RecordTokenRevoked(reason string)
	RecordRefreshReuse(revokedTokens int64)
}

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Metrics holds the Prometheus collectors of the token endpoint
type Metrics struct {
	TokensIssuedTotal      *prometheus.CounterVec
	GrantFailuresTotal     *prometheus.CounterVec
	TokensRevokedTotal     *prometheus.CounterVec
	RefreshReuseTotal      prometheus.Counter
	FamilyRevocationsTotal prometheus.Counter
	TokenExchangeDuration  *prometheus.HistogramVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init returns the process-wide Prometheus recorder when enabled, or a
// NoopMetrics otherwise. Collectors are registered only once.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TokensIssuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_tokens_issued_total",
				Help: "Total number of token pairs issued",
			},
			[]string{"grant_type"},
		),
		GrantFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_grant_failures_total",
				Help: "Total number of rejected token requests",
			},
			[]string{"grant_type", "error"},
		),
		TokensRevokedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_tokens_revoked_total",
				Help: "Total number of revoked tokens",
			},
			[]string{"reason"},
		),
		RefreshReuseTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "oauth_refresh_token_reuse_total",
				Help: "Total number of revoked refresh tokens presented again",
			},
		),
		FamilyRevocationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "oauth_token_family_revoked_tokens_total",
				Help: "Total number of tokens revoked because their family was replayed",
			},
		),
		TokenExchangeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oauth_token_exchange_duration_seconds",
				Help:    "Duration of successful token exchanges",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"grant_type"},
		),
	}
}

func (m *Metrics) RecordTokenIssued(grantType string, duration time.Duration) {
	m.TokensIssuedTotal.WithLabelValues(grantType).Inc()
	m.TokenExchangeDuration.WithLabelValues(grantType).Observe(duration.Seconds())
}

func (m *Metrics) RecordGrantFailure(grantType, errorCode string) {
	m.GrantFailuresTotal.WithLabelValues(grantType, errorCode).Inc()
}

func (m *Metrics) RecordTokenRevoked(reason string) {
	m.TokensRevokedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRefreshReuse(revokedTokens int64) {
	m.RefreshReuseTotal.Inc()
	m.FamilyRevocationsTotal.Add(float64(revokedTokens))
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
