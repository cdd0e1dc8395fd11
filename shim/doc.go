// Package shim is the client side of the interposition boundary: a
// library that programs link to route filesystem calls through a
// branchfs daemon instead of the kernel. Go offers no supported way to
// interpose libc calls in-process, so the boundary is an explicit
// Client whose methods mirror the os package. Whether calls are
// forwarded is decided once, at Attach, from the BRANCHFS_* environment
// variables and the allow list; after that every call either travels
// the wire or, on transport failure, falls back to the native
// operation. A typed daemon error is a real answer and is returned to
// the caller as-is.
package shim
