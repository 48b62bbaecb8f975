package performance

import (
	"sync"
	"time"
)

type metrics struct {
	MessagesReceived  int64
	MessagesSent      int64
	MessagesDropped   int64
	RequestsTimedOut  int64
	ConnectionErrors  int64
	ReconnectionCount int64
	LastMessageTime   time.Time
	LastRoundTrip     time.Duration
	mutex             sync.RWMutex
}

func NewMetrics() Metrics {
	return &metrics{}
}

func (m *metrics) IncrementReceived() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.MessagesReceived++
	m.LastMessageTime = time.Now()
}

func (m *metrics) IncrementSent() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.MessagesSent++
}

func (m *metrics) IncrementDropped() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.MessagesDropped++
}

func (m *metrics) IncrementTimedOut() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.RequestsTimedOut++
}

func (m *metrics) IncrementConnectionError() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ConnectionErrors++
}

func (m *metrics) IncrementReconnection() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ReconnectionCount++
}

func (m *metrics) RecordRoundTrip(latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.LastRoundTrip = latency
}

func (m *metrics) GetStats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return map[string]interface{}{
		"messages_received":  m.MessagesReceived,
		"messages_sent":      m.MessagesSent,
		"messages_dropped":   m.MessagesDropped,
		"requests_timed_out": m.RequestsTimedOut,
		"connection_errors":  m.ConnectionErrors,
		"reconnection_count": m.ReconnectionCount,
		"last_message_time":  m.LastMessageTime,
		"round_trip_ms":      m.LastRoundTrip.Milliseconds(),
	}
}
