// Package rbtypes holds the small value types shared by every other package
// in this module, broken out on their own to avoid import cycles between
// internal/chain, internal/txledger, internal/network and internal/stats.
package rbtypes

// NodeID identifies a simulated node (logical process). Miners mine at most
// one block per height, so (NodeID, Height) is a block's local identity.
type NodeID uint32

// SentinelNode is the "no node" value, used as the genesis block's miner and
// parent-miner fields.
const SentinelNode NodeID = ^NodeID(0)

// Height is a block height / chain depth.
type Height uint64

// SimTime is simulated time, in seconds since the start of the run.
type SimTime float64

// TxnID indexes into the global, read-only transaction stream.
type TxnID int
