package auth

import "encoding/json"

// Principal is the identity an authentication callback vouches for. It is
// opaque to the gateway and forwarded to collaborators as-is.
type Principal map[string]any

// Subject returns the "sub" member when present.
func (p Principal) Subject() string {
	s, _ := p["sub"].(string)
	return s
}

// TokenState is the authentication state of a connection.
type TokenState uint8

const (
	TokenUnset TokenState = iota
	TokenRejected
	TokenAuthenticated
)

func (s TokenState) String() string {
	switch s {
	case TokenRejected:
		return "rejected"
	case TokenAuthenticated:
		return "authenticated"
	default:
		return "unset"
	}
}

// Token is the tri-state authentication result held by a connection.
// Unset and Rejected both serialize as false; Authenticated serializes as
// its principal.
type Token struct {
	state     TokenState
	principal Principal
}

func Unset() Token    { return Token{} }
func Rejected() Token { return Token{state: TokenRejected} }

// Authenticated wraps a principal. A nil principal is stored as empty.
func Authenticated(p Principal) Token {
	if p == nil {
		p = Principal{}
	}
	return Token{state: TokenAuthenticated, principal: p}
}

func (t Token) State() TokenState     { return t.state }
func (t Token) Principal() Principal  { return t.principal }
func (t Token) IsAuthenticated() bool { return t.state == TokenAuthenticated }

func (t Token) MarshalJSON() ([]byte, error) {
	if t.state != TokenAuthenticated {
		return []byte("false"), nil
	}
	return json.Marshal(t.principal)
}

// UnmarshalJSON accepts false/null as Rejected/Unset and an object as a
// principal, so events can round-trip through a bus.
func (t *Token) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "null":
		*t = Unset()
		return nil
	case "false":
		*t = Rejected()
		return nil
	}
	var p Principal
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = Authenticated(p)
	return nil
}
