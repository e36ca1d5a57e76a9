package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can render them without
// inspecting raw network errors
type ErrorKind string

const (
	KindInvalidURL           ErrorKind = "InvalidUrl"
	KindUnsupportedPlatform  ErrorKind = "UnsupportedPlatform"
	KindAuthRequired         ErrorKind = "AuthRequired"
	KindRateLimited          ErrorKind = "RateLimited"
	KindNotFound             ErrorKind = "NotFound"
	KindMalformedManifest    ErrorKind = "MalformedManifest"
	KindUnsupportedCipher    ErrorKind = "UnsupportedCipher"
	KindSegmentFetchFailed   ErrorKind = "SegmentFetchFailed"
	KindSegmentDecryptFailed ErrorKind = "SegmentDecryptFailed"
	KindJobBelowThreshold    ErrorKind = "JobBelowThreshold"
	KindCancelled            ErrorKind = "Cancelled"
	KindConfigError          ErrorKind = "ConfigError"
	KindPlatformUnreachable  ErrorKind = "PlatformUnreachable"
	KindInternal             ErrorKind = "Internal"
)

// Error is the typed error returned across component boundaries
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// NewError creates a typed error
func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// WrapError creates a typed error around an underlying cause
func WrapError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// PublicMessage returns a message safe to show to callers. Wrapped causes
// are not exposed verbatim.
func (e *Error) PublicMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return describeKind(e.Kind)
}

// KindOf returns the kind of err, mapping context cancellation to Cancelled
// and anything untyped to Internal
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// AsError converts err into a typed *Error
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return WrapError(KindOf(err), "", err)
}

// IsJobFatal reports whether an error kind ends a job before segment fetching
func (k ErrorKind) IsJobFatal() bool {
	switch k {
	case KindSegmentFetchFailed, KindSegmentDecryptFailed:
		return false
	default:
		return true
	}
}

// Description returns a caller-safe description of the kind
func (k ErrorKind) Description() string {
	return describeKind(k)
}

func describeKind(kind ErrorKind) string {
	switch kind {
	case KindInvalidURL:
		return "link is not a valid http(s) url"
	case KindUnsupportedPlatform:
		return "link does not belong to a supported platform"
	case KindAuthRequired:
		return "platform requires valid session credentials"
	case KindRateLimited:
		return "platform is throttling requests"
	case KindNotFound:
		return "content no longer exists"
	case KindMalformedManifest:
		return "stream manifest is malformed"
	case KindUnsupportedCipher:
		return "stream uses an unsupported encryption method"
	case KindSegmentFetchFailed:
		return "segment download failed"
	case KindSegmentDecryptFailed:
		return "segment decryption failed"
	case KindJobBelowThreshold:
		return "too few segments completed"
	case KindCancelled:
		return "job was cancelled"
	case KindConfigError:
		return "credentials or configuration are invalid"
	case KindPlatformUnreachable:
		return "platform is unreachable"
	default:
		return "internal error"
	}
}
