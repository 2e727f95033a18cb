package board

// Session is the signed-in identity the board acts for. The zero value is a
// signed-out session.
type Session struct {
	Email    string
	Name     string
	PhotoURL string
	// Token is sent as a bearer token when set.
	Token string
}

// SignedIn reports whether the session carries an owner email.
func (s Session) SignedIn() bool {
	return s.Email != ""
}
