// Package trust decides which server certificates a sender accepts.
//
// Policies are replaceable: Pinned trusts exactly one certificate (the demo
// posture, or a fingerprint exchanged out of band), Authority trusts any
// certificate chaining to a CA pool.
//
// A self-signed identity from GenerateSelfSigned that is copied to clients
// gives no protection against impersonation on first contact. Use it only on
// a closed, trusted network.
package trust
