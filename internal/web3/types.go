package web3

import (
	"context"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
// Transaction counts follow the JSON-RPC eth_getTransactionCount semantics:
// NonceAt reads the "latest" block, PendingNonceAt reads the "pending" pool.
type Client interface {
	Name() string
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	NonceAt(ctx context.Context, address string) (uint64, error)
	PendingNonceAt(ctx context.Context, address string) (uint64, error)
	BalanceAt(ctx context.Context, address string) (string, error)
	SendRawTransaction(ctx context.Context, rawTx []byte) (string, error)
	Close()
}
