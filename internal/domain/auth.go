package domain

// Profile is the platform user profile returned by an auth check
type Profile struct {
	Nickname string `json:"nickname"`
	Phone    string `json:"phone,omitempty"`
}

// AuthError is a typed auth check failure
type AuthError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// AuthResult is the outcome of an auth check
type AuthResult struct {
	Authenticated bool       `json:"authenticated"`
	Profile       *Profile   `json:"profile,omitempty"`
	Error         *AuthError `json:"error,omitempty"`
}
