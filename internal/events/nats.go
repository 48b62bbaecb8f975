package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yetasya/derivatives-bot/pkg/logging"
)

// NATSConfig configures event forwarding to NATS. An empty URL disables it.
type NATSConfig struct {
	URL           string
	ClientName    string
	SubjectPrefix string
	ConnectWait   time.Duration
	ReconnectWait time.Duration
	MaxReconnects int
	BufferSize    int
}

// NATSForwarder republishes every bus event as JSON on
// <prefix>.<EventType>
type NATSForwarder struct {
	config NATSConfig
	bus    *EventBus
	logger logging.ApplicationLogger

	mu   sync.Mutex
	nc   *nats.Conn
	sub  <-chan Event
	done chan struct{}
}

func NewNATSForwarder(config NATSConfig, bus *EventBus, logger logging.ApplicationLogger) *NATSForwarder {
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = "derivbot.events"
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	return &NATSForwarder{config: config, bus: bus, logger: logger}
}

// Enabled reports whether a NATS URL is configured
func (f *NATSForwarder) Enabled() bool {
	return f.config.URL != ""
}

// Subject returns the subject an event type is published on
func (f *NATSForwarder) Subject(eventType EventType) string {
	return f.config.SubjectPrefix + "." + string(eventType)
}

// Start connects to NATS and begins forwarding. No-op when disabled.
func (f *NATSForwarder) Start() error {
	if !f.Enabled() {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.nc != nil {
		return nil
	}

	opts := []nats.Option{
		nats.Name(f.config.ClientName),
		nats.Timeout(f.config.ConnectWait),
		nats.ReconnectWait(f.config.ReconnectWait),
		nats.MaxReconnects(f.config.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			f.logger.Warn("NATS disconnected, attempting reconnect: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			f.logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			f.logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(f.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}

	f.nc = nc
	f.sub = f.bus.SubscribeAll(f.config.BufferSize)
	f.done = make(chan struct{})
	go f.forward(nc, f.sub, f.done)

	f.logger.Info("Forwarding events to NATS at %s under %s.*", f.config.URL, f.config.SubjectPrefix)
	return nil
}

func (f *NATSForwarder) forward(nc *nats.Conn, sub <-chan Event, done chan struct{}) {
	defer close(done)

	for event := range sub {
		data, err := json.Marshal(event)
		if err != nil {
			f.logger.Error("Failed to marshal %s event: %v", event.Type, err)
			continue
		}
		if err := nc.Publish(f.Subject(event.Type), data); err != nil {
			f.logger.Warn("Failed to publish %s event to NATS: %v", event.Type, err)
		}
	}
}

// Stop unsubscribes from the bus and drains the NATS connection
func (f *NATSForwarder) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.nc == nil {
		return nil
	}

	f.bus.Unsubscribe(f.sub)
	<-f.done

	err := f.nc.Drain()
	f.nc = nil
	return err
}
