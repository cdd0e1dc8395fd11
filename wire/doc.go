// Package wire implements the branchfs inter-process protocol: versioned,
// length-prefixed binary messages carrying a closed set of typed
// request/response operations plus the one-shot connection handshake.
//
// Every message is a 4-byte little-endian length prefix followed by that
// many bytes of payload. Payloads are self-describing (a version, a
// one-byte operation tag, then the operation's fields) with no separate
// schema negotiation; the version field is the only compatibility signal.
//
// The protocol is deliberately narrow and operation-specific; it is not a
// general-purpose RPC framework.
package wire
