package model

// UserSession is the current authentication state of the client.
//
// An empty UserID means the session is anonymous (local-only mode); no
// remote operations are produced and no intents are queued.
type UserSession struct {
	// UserID is the authenticated user identifier, or "" when signed out.
	UserID string `json:"user_id,omitempty"`

	// Syncing is true while a sign-in reconciliation is in flight.
	// Mutations made while Syncing is set are queued rather than sent
	// live, so they cannot interleave with the reconciler's replace.
	Syncing bool `json:"syncing,omitempty"`
}

// Authenticated reports whether a user is signed in.
func (s UserSession) Authenticated() bool {
	return s.UserID != ""
}
