// Package protocol owns the wire contract shared by sender and receiver.
//
// Ownership boundary:
// - typed transfer failures (kinds + sentinels)
// - header frame codec (subpackage header)
// - secure session transport (subpackage session)
package protocol
