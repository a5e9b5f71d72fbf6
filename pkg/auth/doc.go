// Package auth provides the shared status types used to report an Auth
// Coordinator session's state to both a CLI (authctl status) and any
// embedding application's own status surface.
//
// These types mirror the Session state machine (§4.4): one StatusResponse
// aggregates every known context's SessionStatus, including the pending
// AuthChallenge when a session RequiresUserAction.
package auth
