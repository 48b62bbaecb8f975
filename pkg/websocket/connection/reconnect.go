package connection

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/yetasya/derivatives-bot/pkg/logging"
)

type exponentialBackoffStrategy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	maxAttempts  int
	Multiplier   float64
	Jitter       bool
	randSource   *rand.Rand
	mutex        sync.Mutex
}

func NewExponentialBackoffStrategy(initialDelay, maxDelay time.Duration, maxAttempts int) ReconnectionStrategy {
	return &exponentialBackoffStrategy{
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		maxAttempts:  maxAttempts,
		Multiplier:   2.0,
		Jitter:       true,
		randSource:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NextDelay grows InitialDelay by Multiplier per attempt, capped at MaxDelay,
// with +/-10% jitter.
func (ebs *exponentialBackoffStrategy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return ebs.InitialDelay
	}

	delay := float64(ebs.InitialDelay) * math.Pow(ebs.Multiplier, float64(attempt-1))
	if delay > float64(ebs.MaxDelay) {
		delay = float64(ebs.MaxDelay)
	}

	if ebs.Jitter {
		ebs.mutex.Lock()
		jitterFactor := 2*ebs.randSource.Float64() - 1
		ebs.mutex.Unlock()

		delay += delay * 0.1 * jitterFactor
		if delay < 0 {
			delay = float64(ebs.InitialDelay)
		}
	}

	return time.Duration(delay)
}

func (ebs *exponentialBackoffStrategy) MaxAttempts() int {
	return ebs.maxAttempts
}

type reconnectManager struct {
	connect  func(ctx context.Context) error
	strategy ReconnectionStrategy
	logger   logging.ApplicationLogger

	isReconnecting bool
	cancel         context.CancelFunc
	reconnectMutex sync.Mutex
	currentAttempt int

	onReconnectStart   func(attempt int)
	onReconnectFail    func(attempt int, err error)
	onReconnectSuccess func(attempt int)
}

// NewReconnectManager retries connect with the strategy's backoff until it
// succeeds, attempts run out, or the loop is stopped.
func NewReconnectManager(
	connect func(ctx context.Context) error,
	strategy ReconnectionStrategy,
	logger logging.ApplicationLogger,
) ReconnectManager {
	return &reconnectManager{
		connect:  connect,
		strategy: strategy,
		logger:   logger,
	}
}

func (rm *reconnectManager) SetCallbacks(
	onStart func(int),
	onFail func(int, error),
	onSuccess func(int),
) {
	rm.reconnectMutex.Lock()
	defer rm.reconnectMutex.Unlock()
	rm.onReconnectStart = onStart
	rm.onReconnectFail = onFail
	rm.onReconnectSuccess = onSuccess
}

func (rm *reconnectManager) StopReconnection() {
	rm.reconnectMutex.Lock()
	defer rm.reconnectMutex.Unlock()
	if rm.cancel != nil {
		rm.cancel()
		rm.cancel = nil
	}
	rm.isReconnecting = false
}

func (rm *reconnectManager) StartReconnection(ctx context.Context) error {
	rm.reconnectMutex.Lock()
	defer rm.reconnectMutex.Unlock()

	if rm.isReconnecting {
		rm.logger.Debug("Reconnection already in progress")
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	rm.isReconnecting = true
	rm.cancel = cancel
	rm.currentAttempt = 0

	go rm.reconnectLoop(loopCtx)
	return nil
}

func (rm *reconnectManager) reconnectLoop(ctx context.Context) {
	defer func() {
		rm.reconnectMutex.Lock()
		rm.isReconnecting = false
		rm.reconnectMutex.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			rm.logger.Debug("Reconnection cancelled by context")
			return
		}

		rm.reconnectMutex.Lock()
		rm.currentAttempt = attempt
		onStart, onFail, onSuccess := rm.onReconnectStart, rm.onReconnectFail, rm.onReconnectSuccess
		rm.reconnectMutex.Unlock()

		if attempt > rm.strategy.MaxAttempts() {
			rm.logger.Error("Max reconnection attempts reached: %d", attempt-1)
			if onFail != nil {
				onFail(attempt-1, ErrMaxAttemptsReached)
			}
			return
		}

		delay := rm.strategy.NextDelay(attempt)
		rm.logger.Debug("Attempting reconnection %d after %v delay", attempt, delay)

		if onStart != nil {
			onStart(attempt)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err := rm.connect(ctx)
		if err == nil {
			rm.logger.Info("Reconnection successful after %d attempts", attempt)
			if onSuccess != nil {
				onSuccess(attempt)
			}
			return
		}

		rm.logger.Warn("Reconnection attempt %d failed: %v", attempt, err)
		if onFail != nil {
			onFail(attempt, err)
		}
	}
}

func (rm *reconnectManager) IsReconnecting() bool {
	rm.reconnectMutex.Lock()
	defer rm.reconnectMutex.Unlock()
	return rm.isReconnecting
}
