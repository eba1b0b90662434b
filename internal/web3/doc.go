// Package web3 houses blockchain connectivity utilities: the chain client
// abstraction consumed by the nonce manager and the agent capabilities, RPC
// client implementations, and multi-chain configuration helpers. It gives the
// orchestration layer a uniform view over EVM networks such as Ethereum,
// Base, and Arbitrum for transaction-count queries, balance reads, and raw
// transaction broadcast.
package web3
