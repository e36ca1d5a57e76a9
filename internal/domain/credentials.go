package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Credentials is the caller-supplied platform session. It is treated as an
// immutable value for the lifetime of a job and is never persisted.
type Credentials struct {
	Cookie string `json:"cookie"`
	AppID  string `json:"app_id,omitempty"`
	Host   string `json:"host,omitempty"`
}

// IsZero reports whether no credential field is set
func (c Credentials) IsZero() bool {
	return c.Cookie == "" && c.AppID == "" && c.Host == ""
}

// Validate checks that the credentials carry a usable session cookie
func (c Credentials) Validate() error {
	if c.Cookie == "" {
		return NewError(KindConfigError, "credentials", "session cookie is not configured")
	}
	if !strings.Contains(c.Cookie, "=") || len(c.Cookie) <= 10 {
		return NewError(KindConfigError, "credentials", "session cookie format is invalid")
	}
	if strings.ContainsAny(c.Host, "/ ") {
		return NewError(KindConfigError, "credentials", "api host must be a bare host name")
	}
	return nil
}

// Fingerprint returns a stable digest of the credential triple
func (c Credentials) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.Cookie + "\x00" + c.AppID + "\x00" + c.Host))
	return hex.EncodeToString(sum[:])
}

// Merge returns c with empty fields filled from defaults
func (c Credentials) Merge(defaults Credentials) Credentials {
	if c.Cookie == "" {
		c.Cookie = defaults.Cookie
	}
	if c.AppID == "" {
		c.AppID = defaults.AppID
	}
	if c.Host == "" {
		c.Host = defaults.Host
	}
	return c
}
