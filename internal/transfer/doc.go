// Package transfer sends one file over one secure session.
//
// The file is read twice: once to compute the digest announced in the
// header, and once to stream the payload behind it. A transfer is complete
// only after the receiver closes the session with an accepted verdict; any
// failure before that aborts the whole attempt, and nothing is resumable.
package transfer
