// Package trip implements the core TRIP Location Server protocol
// (RFC 3219).
//
// This includes the FSM (section 4.3), session management, the TLV
// attribute codec, the configured-peer locator, and manager-level
// collision resolution between colliding inbound and outbound sessions.
package trip
