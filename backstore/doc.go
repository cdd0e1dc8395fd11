// Package backstore provides the pluggable storage layer behind the
// branchfs namespace engine.
//
// Two implementations exist:
//
//   - [Real]: probes the host filesystem, uses the native clone syscall
//     and volume tooling where available, and can provision an ephemeral
//     memory-backed volume for its whole lifetime.
//   - [Mock]: a temp-directory emulation of the same contract for tests
//     and platforms without native copy-on-write support.
//
// Cloning falls back from block sharing to byte copies transparently, so
// callers observe identical semantics on both implementations; only the
// storage cost differs.
package backstore
