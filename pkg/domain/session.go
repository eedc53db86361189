package domain

// Session is the shared sign-in state of one client.
// Loading is true until the first bootstrap resolution; a nil CurrentUser means signed out.
type Session struct {
	CurrentUser *UserProfile `json:"currentUser"`
	Loading     bool         `json:"loading"`
}

// Authenticated reports whether a user is signed in.
func (s Session) Authenticated() bool {
	return s.CurrentUser != nil
}

// Clone returns a copy that does not share the profile pointer.
func (s Session) Clone() Session {
	if s.CurrentUser == nil {
		return s
	}
	u := *s.CurrentUser
	return Session{CurrentUser: &u, Loading: s.Loading}
}
