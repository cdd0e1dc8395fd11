// Package vfs implements the branchable virtual namespace: writable
// branch trees layered over a shared read-only lower tree, with
// copy-up on write, whiteouts for deletions, snapshots materialized
// through the backing store, and per-process state (branch binding,
// tracked working directory and directory descriptors).
//
// The Engine is driven by the daemon; it never touches the wire.
package vfs
