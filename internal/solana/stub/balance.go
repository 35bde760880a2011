package stub

import (
	"context"
	"errors"
	"sync"

	"agentboard/internal/solana"
)

// ErrNotFound is returned when no balance is registered for an account.
var ErrNotFound = errors.New("not found")

// BalanceClient implements solana.BalanceClient for testing.
type BalanceClient struct {
	mu       sync.Mutex
	Balances map[string]uint64
	calls    int
}

// NewBalanceClient creates a new stub balance client.
func NewBalanceClient() *BalanceClient {
	return &BalanceClient{
		Balances: make(map[string]uint64),
	}
}

// GetBalance retrieves a balance from the stub store.
func (c *BalanceClient) GetBalance(_ context.Context, pubkey string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	b, ok := c.Balances[pubkey]
	if !ok {
		return 0, ErrNotFound
	}
	return b, nil
}

// AddBalance registers a balance.
func (c *BalanceClient) AddBalance(pubkey string, lamports uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Balances[pubkey] = lamports
}

// Calls returns how many times GetBalance was called.
func (c *BalanceClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var _ solana.BalanceClient = (*BalanceClient)(nil)
