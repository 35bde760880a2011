package solana

import "context"

// BalanceClient defines the Solana RPC subset used for wallet enrichment.
type BalanceClient interface {
	// GetBalance retrieves the lamport balance of an account.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
}

// Compile-time interface check.
var _ BalanceClient = (*HTTPClient)(nil)
