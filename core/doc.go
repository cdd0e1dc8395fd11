// Package core defines the identifiers and the error taxonomy shared by
// every layer of branchfs: backstores, the namespace engine, the wire
// protocol, and the daemon.
package core
