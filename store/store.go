package store

// Package store provides persistence implementations for the cascade
// coordination core. The CoordinationStore interface is defined in the
// parent cascade package (../store_interface.go) to avoid import cycles
// between the cascade and store packages.
//
// This package contains concrete implementations:
//   - DynamoDBStore: Production-ready AWS DynamoDB backend
//   - RedisStore: Redis backend for low-latency deployments
//   - MemoryStore: In-memory backend for testing and single-node use
//
// Every backend implements the same compare-and-set transition semantics:
// the first write that moves a checkpoint or signal out of its waiting
// status wins, and later writers receive a STALE_TRANSITION error.
