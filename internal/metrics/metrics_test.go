package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordTokenIssued("authorization_code", 5*time.Millisecond)
	m.RecordTokenIssued("authorization_code", 7*time.Millisecond)
	m.RecordTokenIssued("refresh_token", time.Millisecond)
	m.RecordGrantFailure("refresh_token", "invalid_grant")
	m.RecordTokenRevoked("rotated")
	m.RecordRefreshReuse(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TokensIssuedTotal.WithLabelValues("authorization_code")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokensIssuedTotal.WithLabelValues("refresh_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GrantFailuresTotal.WithLabelValues("refresh_token", "invalid_grant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokensRevokedTotal.WithLabelValues("rotated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshReuseTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FamilyRevocationsTotal))
}

func TestInitDisabledReturnsNoop(t *testing.T) {
	r := Init(false)
	_, ok := r.(*NoopMetrics)
	assert.True(t, ok)

	// must not panic
	r.RecordTokenIssued("authorization_code", time.Second)
	r.RecordRefreshReuse(1)
}

func TestInitEnabledIsSingleton(t *testing.T) {
	first := Init(true)
	second := Init(true)
	assert.Same(t, first, second)
}
