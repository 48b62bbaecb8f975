// Package subscription tracks the server-push streams opened on the
// current transport.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yetasya/derivatives-bot/pkg/derivapi"
	"github.com/yetasya/derivatives-bot/pkg/logging"
	"github.com/yetasya/derivatives-bot/pkg/websocket/connection"
)

// DefaultStreams are opened after every successful authorization
var DefaultStreams = []string{"balance", "transaction", "proposal_open_contract"}

var (
	ErrNoSubscriptionID = errors.New("subscribe acknowledged without subscription id")
	ErrNotSubscribed    = errors.New("stream is not subscribed")
)

// Sender sends one request and waits for its response. TransportID names
// the transport the next request will travel on.
type Sender interface {
	Send(ctx context.Context, req derivapi.Request) (*derivapi.Envelope, error)
	TransportID() string
}

// RetryPolicy bounds how often a failed subscribe is reissued
type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
	MaxAttempts() int
}

// DefaultRetryPolicy retries a subscribe up to five times with backoff
func DefaultRetryPolicy() RetryPolicy {
	return connection.NewExponentialBackoffStrategy(250*time.Millisecond, 5*time.Second, 5)
}

// Subscription is an acknowledged stream on one transport
type Subscription struct {
	Stream       string    `json:"stream"`
	ID           string    `json:"id"`
	TransportID  string    `json:"transport_id"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

type entry struct {
	sub     Subscription
	pending bool
}

// Registry holds at most one subscription per stream. A stream stays
// reserved while its subscribe is in flight, so concurrent callers never
// issue it twice.
type Registry struct {
	sender Sender
	retry  RetryPolicy
	logger logging.ApplicationLogger

	mu    sync.Mutex
	table map[string]*entry
	// epoch advances whenever the table is cleared; acks from an older
	// epoch are not recorded
	epoch uint64
}

func NewRegistry(sender Sender, retry RetryPolicy, logger logging.ApplicationLogger) *Registry {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	return &Registry{
		sender: sender,
		retry:  retry,
		logger: logger,
		table:  make(map[string]*entry),
	}
}

// SubscribeAll opens every stream not already subscribed or in flight.
// Streams are subscribed concurrently; the returned error joins the
// failures of streams that exhausted their retries.
func (r *Registry) SubscribeAll(ctx context.Context, streams []string) error {
	r.mu.Lock()
	epoch := r.epoch
	var todo []string
	for _, stream := range streams {
		if _, ok := r.table[stream]; ok {
			continue
		}
		r.table[stream] = &entry{sub: Subscription{Stream: stream}, pending: true}
		todo = append(todo, stream)
	}
	r.mu.Unlock()

	if len(todo) == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		errM sync.Mutex
		errs []error
	)
	for _, stream := range todo {
		wg.Add(1)
		go func(stream string) {
			defer wg.Done()
			if err := r.subscribe(ctx, stream, epoch); err != nil {
				errM.Lock()
				errs = append(errs, err)
				errM.Unlock()
			}
		}(stream)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (r *Registry) subscribe(ctx context.Context, stream string, epoch uint64) error {
	for attempt := 1; ; attempt++ {
		transportID := r.sender.TransportID()
		id, err := r.request(ctx, stream)
		if err == nil {
			r.record(ctx, stream, id, transportID, epoch)
			return nil
		}

		if ctx.Err() != nil || !retryable(err) || attempt >= r.retry.MaxAttempts() {
			r.release(stream, epoch)
			r.logger.Warn("Subscribe %s failed after %d attempts: %v", stream, attempt, err)
			return fmt.Errorf("subscribe %s: %w", stream, err)
		}

		delay := r.retry.NextDelay(attempt)
		r.logger.Debug("Retrying subscribe %s in %v: %v", stream, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.release(stream, epoch)
			return fmt.Errorf("subscribe %s: %w", stream, ctx.Err())
		case <-timer.C:
		}
	}
}

func (r *Registry) request(ctx context.Context, stream string) (string, error) {
	env, err := r.sender.Send(ctx, derivapi.Subscribe(stream))
	if err != nil {
		return "", err
	}
	if err := env.Err(); err != nil {
		return "", err
	}
	if env.Subscription == nil || env.Subscription.ID == "" {
		return "", ErrNoSubscriptionID
	}
	return env.Subscription.ID, nil
}

// retryable reports whether a failed subscribe may be reissued. Backend
// rejections are retried only for transient codes; transport failures are
// retried until the caller's context ends.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if apiErr, ok := derivapi.AsAPIError(err); ok {
		return derivapi.IsRetryable(apiErr.Code)
	}
	return !errors.Is(err, ErrNoSubscriptionID)
}

func (r *Registry) record(ctx context.Context, stream, id, transportID string, epoch uint64) {
	r.mu.Lock()
	if epoch != r.epoch {
		r.mu.Unlock()
		// the table was cleared while this subscribe was in flight
		if transportID == r.sender.TransportID() {
			r.forget(ctx, Subscription{Stream: stream, ID: id, TransportID: transportID})
		}
		return
	}
	r.table[stream] = &entry{sub: Subscription{
		Stream:       stream,
		ID:           id,
		TransportID:  transportID,
		SubscribedAt: time.Now().UTC(),
	}}
	r.mu.Unlock()
	r.logger.Debug("Subscribed to %s (%s)", stream, id)
}

func (r *Registry) release(stream string, epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.table[stream]; ok && e.pending && epoch == r.epoch {
		delete(r.table, stream)
	}
}

// UnsubscribeAll forgets every live subscription of the current transport
// and clears the table. Forget failures are logged, never returned.
func (r *Registry) UnsubscribeAll(ctx context.Context) {
	for _, sub := range r.clear() {
		if sub.TransportID != r.sender.TransportID() {
			continue
		}
		r.forget(ctx, sub)
	}
}

// Discard clears the table without any traffic. Used once the transport
// that carried the subscriptions is gone.
func (r *Registry) Discard() {
	if n := len(r.clear()); n > 0 {
		r.logger.Debug("Discarded %d subscriptions", n)
	}
}

func (r *Registry) clear() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	var live []Subscription
	for _, e := range r.table {
		if !e.pending {
			live = append(live, e.sub)
		}
	}
	r.table = make(map[string]*entry)
	r.epoch++
	return live
}

// Forget closes a single stream
func (r *Registry) Forget(ctx context.Context, stream string) error {
	r.mu.Lock()
	e, ok := r.table[stream]
	if !ok || e.pending {
		r.mu.Unlock()
		return ErrNotSubscribed
	}
	delete(r.table, stream)
	r.mu.Unlock()

	if e.sub.TransportID != r.sender.TransportID() {
		return nil
	}
	return r.forget(ctx, e.sub)
}

func (r *Registry) forget(ctx context.Context, sub Subscription) error {
	env, err := r.sender.Send(ctx, derivapi.Forget(sub.ID))
	if err == nil {
		err = env.Err()
	}
	if err != nil {
		r.logger.Warn("Failed to forget %s subscription %s: %v", sub.Stream, sub.ID, err)
		return err
	}
	return nil
}

// Active returns the live subscriptions ordered by stream
func (r *Registry) Active() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Subscription, 0, len(r.table))
	for _, e := range r.table {
		if !e.pending {
			out = append(out, e.sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

func (r *Registry) Len() int {
	return len(r.Active())
}

// Has reports whether stream has a live subscription
func (r *Registry) Has(stream string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.table[stream]
	return ok && !e.pending
}

// StreamOf returns the stream a subscription id belongs to
func (r *Registry) StreamOf(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for stream, e := range r.table {
		if !e.pending && e.sub.ID == id {
			return stream, true
		}
	}
	return "", false
}
