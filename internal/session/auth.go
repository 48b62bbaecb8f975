package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/yetasya/derivatives-bot/internal/events"
	"github.com/yetasya/derivatives-bot/internal/storage"
	"github.com/yetasya/derivatives-bot/pkg/derivapi"
	"github.com/yetasya/derivatives-bot/pkg/logging"
	"github.com/yetasya/derivatives-bot/pkg/websocket/connection"
)

const defaultCurrency = "USD"

var (
	ErrAuthorizeInProgress  = errors.New("authorization already in progress")
	ErrTokenAlreadyConsumed = errors.New("one-time token already used")
	ErrEmptyToken           = errors.New("token is empty")
	ErrNoSessionToken       = errors.New("response carried no session token")
	ErrUnknownAccount       = errors.New("no stored credential for account")
	ErrSessionReset         = errors.New("session reset while authorizing")
)

// Requester sends one request and waits for its response
type Requester interface {
	Send(ctx context.Context, req derivapi.Request) (*derivapi.Envelope, error)
}

// AuthSession owns the authentication state. At most one authorize runs at a
// time; a second caller is rejected rather than queued.
type AuthSession struct {
	requester   Requester
	credentials *storage.Credentials
	loggedState LoggedStateSignal
	publisher   events.Publisher
	logger      logging.ApplicationLogger
	validate    *validator.Validate

	inFlight atomic.Bool

	mu       sync.RWMutex
	session  Session
	consumed map[string]struct{}
	// generation advances on every reset; authorize results from an older
	// generation are dropped
	generation uint64
}

func NewAuthSession(
	requester Requester,
	credentials *storage.Credentials,
	loggedState LoggedStateSignal,
	publisher events.Publisher,
	logger logging.ApplicationLogger,
) *AuthSession {
	if loggedState == nil {
		loggedState = StaticLoggedState(false)
	}
	return &AuthSession{
		requester:   requester,
		credentials: credentials,
		loggedState: loggedState,
		publisher:   publisher,
		logger:      logger,
		validate:    validator.New(),
		session:     Session{State: StateAnonymous, UpdatedAt: time.Now().UTC()},
		consumed:    make(map[string]struct{}),
	}
}

// ActiveCredential returns the durable credential, if any
func (a *AuthSession) ActiveCredential(ctx context.Context) (string, bool, error) {
	return a.credentials.ActiveToken(ctx)
}

// ExchangeOneTimeToken trades a one-time token for a durable credential and
// persists it. Each token value is sent at most once.
func (a *AuthSession) ExchangeOneTimeToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}

	a.mu.Lock()
	if _, used := a.consumed[token]; used {
		a.mu.Unlock()
		return "", ErrTokenAlreadyConsumed
	}
	a.consumed[token] = struct{}{}
	a.mu.Unlock()

	env, err := a.requester.Send(ctx, derivapi.GetSessionToken(token))
	if err != nil {
		return "", fmt.Errorf("failed to exchange one-time token: %w", err)
	}
	if err := env.Err(); err != nil {
		a.logger.Warn("One-time token rejected: %v", err)
		return "", err
	}

	var resp derivapi.SessionTokenResponse
	if err := env.Decode(&resp); err != nil {
		return "", err
	}
	if resp.GetSessionToken == nil || resp.GetSessionToken.Token == "" {
		return "", ErrNoSessionToken
	}

	if err := a.credentials.SetSessionToken(ctx, resp.GetSessionToken.Token); err != nil {
		return "", fmt.Errorf("failed to persist session token: %w", err)
	}
	a.logger.Info("Exchanged one-time token for session token")
	return resp.GetSessionToken.Token, nil
}

// Authorize presents credential to the backend. Transport loss while waiting
// voids the attempt and leaves credentials in place.
func (a *AuthSession) Authorize(ctx context.Context, credential string) (*derivapi.AccountInfo, error) {
	if credential == "" {
		return nil, ErrEmptyToken
	}
	if !a.inFlight.CompareAndSwap(false, true) {
		return nil, ErrAuthorizeInProgress
	}
	defer a.inFlight.Store(false)

	a.mu.Lock()
	generation := a.generation
	a.session = Session{State: StateAuthorizing, IsAuthorizing: true, UpdatedAt: time.Now().UTC()}
	a.mu.Unlock()

	env, err := a.requester.Send(ctx, derivapi.Authorize(credential))
	if err != nil {
		if voided(err) {
			a.logger.Debug("Authorize voided: %v", err)
			a.setIf(generation, Session{State: StateAnonymous})
			return nil, err
		}
		return nil, a.fail(ctx, generation, fmt.Errorf("authorize request failed: %w", err))
	}

	if apiErr, ok := derivapi.AsAPIError(env.Err()); ok {
		if apiErr.Code == derivapi.CodeInvalidToken {
			a.invalidate(ctx, apiErr)
		} else {
			a.logger.Error("Authorization error: %v", apiErr)
		}
		a.setIf(generation, Session{State: StateAuthError})
		return nil, apiErr
	}

	var resp derivapi.AuthorizeResponse
	if err := env.Decode(&resp); err != nil {
		return nil, a.fail(ctx, generation, err)
	}
	if resp.Authorize == nil {
		return nil, a.fail(ctx, generation, errors.New("authorize response carried no account"))
	}
	if err := a.validate.Struct(resp.Authorize); err != nil {
		return nil, a.fail(ctx, generation, fmt.Errorf("invalid authorize payload: %w", err))
	}

	info := resp.Authorize
	current := currentAccount(info)

	a.mu.Lock()
	if generation != a.generation {
		a.mu.Unlock()
		return nil, ErrSessionReset
	}
	a.session = Session{
		State:        StateAuthorized,
		IsAuthorized: true,
		Account:      info,
		Balance:      current.Balance,
		Currency:     current.Currency,
		UpdatedAt:    time.Now().UTC(),
	}
	a.mu.Unlock()

	a.persist(ctx, info, credential, current)

	a.logger.Info("Authorized as %s", info.LoginID)
	a.publish(events.EventAuthorized, events.AuthorizedPayload{
		AccountList:    append([]derivapi.AccountListEntry(nil), info.AccountList...),
		CurrentAccount: current,
	})
	return info, nil
}

func currentAccount(info *derivapi.AccountInfo) events.CurrentAccount {
	current := events.CurrentAccount{
		LoginID:   info.LoginID,
		Currency:  info.Currency,
		IsVirtual: info.IsVirtual,
	}
	if current.Currency == "" {
		current.Currency = defaultCurrency
	}
	if info.Balance.Valid {
		b := info.Balance.Decimal
		current.Balance = &b
	}
	return current
}

func (a *AuthSession) persist(ctx context.Context, info *derivapi.AccountInfo, credential string, current events.CurrentAccount) {
	if err := a.credentials.RecordAccount(ctx, info.LoginID, credential); err != nil {
		a.logger.Warn("Failed to store account credential: %v", err)
	}
	if err := a.credentials.SetActiveLoginID(ctx, info.LoginID); err != nil {
		a.logger.Warn("Failed to store active account: %v", err)
	}
	if err := a.credentials.SetCountry(ctx, info.Country); err != nil {
		a.logger.Warn("Failed to store client country: %v", err)
	}
	if err := a.credentials.SetAccountDetails(ctx, []events.CurrentAccount{current}); err != nil {
		a.logger.Warn("Failed to store account details: %v", err)
	}
}

// voided reports whether err means the transport went away under the
// request rather than the request failing
func voided(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, connection.ErrConnectionClosed)
}

// fail handles an authorize that broke without a backend verdict
func (a *AuthSession) fail(ctx context.Context, generation uint64, err error) error {
	a.logger.Error("Authorization failed: %v", err)
	if clearErr := a.credentials.Clear(ctx); clearErr != nil {
		a.logger.Warn("Failed to clear credentials: %v", clearErr)
	}
	a.setIf(generation, Session{State: StateAuthError})
	a.publish(events.EventError, events.ErrorPayload{Source: "authorize", Message: err.Error()})
	return err
}

// invalidate handles a rejected credential. A user logged in elsewhere gets
// an InvalidToken event; otherwise the stale credentials are dropped.
func (a *AuthSession) invalidate(ctx context.Context, apiErr *derivapi.APIError) {
	if a.loggedState.LoggedIn() {
		a.logger.Warn("Credential rejected while logged in: %v", apiErr)
		a.publish(events.EventInvalidToken, events.InvalidTokenPayload{Code: apiErr.Code, Message: apiErr.Message})
		return
	}
	a.logger.Info("Credential rejected, clearing stored credentials")
	if err := a.credentials.Clear(ctx); err != nil {
		a.logger.Warn("Failed to clear credentials: %v", err)
	}
}

// HandlePush applies unsolicited messages: session-invalidating errors and
// balance updates
func (a *AuthSession) HandlePush(ctx context.Context, env *derivapi.Envelope) {
	if env.Error != nil {
		if derivapi.IsSessionInvalidating(env.Error.Code) {
			a.invalidate(ctx, env.Error)
			a.Reset()
		}
		return
	}
	if env.MsgType == "balance" {
		a.applyBalance(env)
	}
}

func (a *AuthSession) applyBalance(env *derivapi.Envelope) {
	var resp derivapi.BalanceResponse
	if err := env.Decode(&resp); err != nil || resp.Balance == nil {
		a.logger.Debug("Ignoring balance message: %v", err)
		return
	}
	b := resp.Balance

	a.mu.Lock()
	if !a.session.IsAuthorized || (b.LoginID != "" && b.LoginID != a.session.LoginID()) {
		a.mu.Unlock()
		return
	}
	balance := b.Balance
	a.session.Balance = &balance
	if b.Currency != "" {
		a.session.Currency = b.Currency
	}
	a.session.UpdatedAt = time.Now().UTC()
	loginID := a.session.LoginID()
	currency := a.session.Currency
	a.mu.Unlock()

	a.publish(events.EventBalanceUpdated, events.BalancePayload{
		LoginID:  loginID,
		Currency: currency,
		Balance:  balance,
	})
}

// Logout tells the backend (best effort), clears credentials and resets
func (a *AuthSession) Logout(ctx context.Context) error {
	if env, err := a.requester.Send(ctx, derivapi.Logout()); err != nil {
		a.logger.Debug("Logout request failed: %v", err)
	} else if err := env.Err(); err != nil {
		a.logger.Debug("Logout rejected: %v", err)
	}
	a.Reset()
	if err := a.credentials.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// SwitchAccount makes loginID's stored credential the active one and resets
// the session. The caller reconnects to authorize with it.
func (a *AuthSession) SwitchAccount(ctx context.Context, loginID string) error {
	accounts, err := a.credentials.Accounts(ctx)
	if err != nil {
		return err
	}
	credential, ok := accounts[loginID]
	if !ok || credential == "" {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, loginID)
	}
	if err := a.credentials.SetSessionToken(ctx, credential); err != nil {
		return err
	}
	if err := a.credentials.SetActiveLoginID(ctx, loginID); err != nil {
		return err
	}
	a.Reset()
	return nil
}

// Reset returns to Anonymous with an empty session. Stored credentials are
// kept.
func (a *AuthSession) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
	a.session = Session{State: StateAnonymous, UpdatedAt: time.Now().UTC()}
}

// Snapshot returns a copy of the current session
func (a *AuthSession) Snapshot() Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session.clone()
}

func (a *AuthSession) IsAuthorized() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session.IsAuthorized
}

func (a *AuthSession) setIf(generation uint64, s Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if generation != a.generation {
		return
	}
	s.UpdatedAt = time.Now().UTC()
	a.session = s
}

func (a *AuthSession) publish(eventType events.EventType, payload interface{}) {
	if a.publisher != nil {
		a.publisher.Publish(events.NewEvent(eventType, payload))
	}
}
