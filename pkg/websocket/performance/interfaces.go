package performance

import "time"

// Metrics defines transport metrics collection operations
type Metrics interface {
	IncrementReceived()
	IncrementSent()
	IncrementDropped()
	IncrementTimedOut()
	IncrementConnectionError()
	IncrementReconnection()
	RecordRoundTrip(latency time.Duration)
	GetStats() map[string]interface{}
}

// CircuitBreaker guards dial attempts against a flapping endpoint
type CircuitBreaker interface {
	Execute(fn func() error) error
	GetState() BreakerState
}
