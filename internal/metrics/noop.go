package metrics

import "time"

// NoopMetrics is a no-operation implementation of Recorder
type NoopMetrics struct{}

var _ Recorder = (*NoopMetrics)(nil)

// NewNoopMetrics creates a new no-operation metrics recorder
func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordTokenIssued(grantType string, duration time.Duration) {}
func (n *NoopMetrics) RecordGrantFailure(grantType, errorCode string)             {}
func (n *NoopMetrics) RecordTokenRevoked(reason string)                           {}
func (n *NoopMetrics) RecordRefreshReuse(revokedTokens int64)                     {}
