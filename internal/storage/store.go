package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Persisted keys. Names match what earlier clients wrote so existing stores
// keep working.
const (
	KeySessionToken         = "session_token"
	KeyLegacyAuthToken      = "authToken"
	KeyAccountsList         = "accountsList"
	KeyActiveLoginID        = "active_loginid"
	KeyClientCountry        = "client.country"
	KeyClientAccountDetails = "client_account_details"
)

// authKeys are removed when credentials are cleared
var authKeys = []string{
	KeySessionToken,
	KeyLegacyAuthToken,
	KeyAccountsList,
	KeyActiveLoginID,
	KeyClientCountry,
	KeyClientAccountDetails,
}

var ErrStoreClosed = errors.New("credential store closed")

// CredentialStore is a durable string key/value store
type CredentialStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Credentials gives typed access to the persisted credential keys
type Credentials struct {
	store CredentialStore
	// serialises read-modify-write of the accounts table
	accountsMu sync.Mutex
}

func NewCredentials(store CredentialStore) *Credentials {
	return &Credentials{store: store}
}

// ActiveToken returns the last-known credential, falling back to the legacy
// key when the current one is absent
func (c *Credentials) ActiveToken(ctx context.Context) (string, bool, error) {
	for _, key := range []string{KeySessionToken, KeyLegacyAuthToken} {
		token, ok, err := c.store.Get(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if ok && token != "" {
			return token, true, nil
		}
	}
	return "", false, nil
}

func (c *Credentials) SetSessionToken(ctx context.Context, token string) error {
	return c.store.Set(ctx, KeySessionToken, token)
}

// Accounts returns the loginid -> credential table
func (c *Credentials) Accounts(ctx context.Context) (map[string]string, error) {
	raw, ok, err := c.store.Get(ctx, KeyAccountsList)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", KeyAccountsList, err)
	}
	accounts := make(map[string]string)
	if !ok || raw == "" {
		return accounts, nil
	}
	if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", KeyAccountsList, err)
	}
	return accounts, nil
}

// RecordAccount stores credential under loginid in the accounts table
func (c *Credentials) RecordAccount(ctx context.Context, loginID, credential string) error {
	c.accountsMu.Lock()
	defer c.accountsMu.Unlock()

	accounts, err := c.Accounts(ctx)
	if err != nil {
		// a corrupt table is replaced rather than blocking authorization
		accounts = make(map[string]string)
	}
	accounts[loginID] = credential

	data, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", KeyAccountsList, err)
	}
	return c.store.Set(ctx, KeyAccountsList, string(data))
}

func (c *Credentials) ActiveLoginID(ctx context.Context) (string, bool, error) {
	return c.store.Get(ctx, KeyActiveLoginID)
}

func (c *Credentials) SetActiveLoginID(ctx context.Context, loginID string) error {
	return c.store.Set(ctx, KeyActiveLoginID, loginID)
}

func (c *Credentials) SetCountry(ctx context.Context, country string) error {
	return c.store.Set(ctx, KeyClientCountry, country)
}

// SetAccountDetails stores details as JSON
func (c *Credentials) SetAccountDetails(ctx context.Context, details interface{}) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", KeyClientAccountDetails, err)
	}
	return c.store.Set(ctx, KeyClientAccountDetails, string(data))
}

// Clear removes every persisted credential key
func (c *Credentials) Clear(ctx context.Context) error {
	c.accountsMu.Lock()
	defer c.accountsMu.Unlock()
	return c.store.Delete(ctx, authKeys...)
}
