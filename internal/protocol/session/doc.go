// Package session owns the encrypted QUIC session between sender and receiver.
//
// Ownership boundary:
// - client dial with a pluggable trust policy (identity enforcement)
// - server listener for the receive path
// - unidirectional stream open/accept
// - drain: waiting for the peer's close and its verdict code
// - retry/backoff primitives for callers that choose to retry
package session
