// Package trustledger implements the append-only hash chain that orders every
// registry mutation.
//
// The chain begins with a well-known genesis entry whose Hash equals GenesisHash
// (64 hex zeros). Every subsequent entry records the SHA-256 of its predecessor
// and carries its payload as deterministic CBOR, so the registry state can be
// rebuilt by replaying the chain and any tampering is detectable via Verify.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and single-node development.
//   - PostgresLedger: durable, for production use.
package trustledger
