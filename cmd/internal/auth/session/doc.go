// Package session implements the storefront client's session model.
//
// A session is a short-lived access token plus a longer-lived renewal token,
// persisted by a Store so it survives reloads. Role and user id are always
// derived from the access token's claims; the decoder does not verify
// signatures, so claims are advisory (UI and role gating only). The backend
// remains the authority for every authorization decision.
//
// Manager is the token lifecycle manager: it decides whether the access token
// is expired (with a safety buffer) and performs renewal calls, saving the
// renewed credentials atomically. Both the proactive path (RenewIfNeeded) and
// the reactive path used by the request gate funnel into RenewStored, which is
// single-flighted so at most one renewal call is in flight per Manager.
//
// Transport (HTTP/WS) integration lives in the gate and realtime packages.
package session
