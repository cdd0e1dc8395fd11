// Package daemon serves the branchfs protocol over unix sockets. Every
// connection starts with a handshake; no request is answered before one
// is accepted. Opened files travel back to the client as SCM_RIGHTS
// ancillary data where the platform supports it, falling back to
// daemon-held handles elsewhere.
package daemon
