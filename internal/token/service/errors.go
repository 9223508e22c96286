package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidGrant covers bad, unsupported or client-mismatched refresh
	// tokens. Recoverable: the caller should re-authenticate.
	ErrInvalidGrant = errors.New("invalid_grant")

	// ErrInvalidToken covers unknown or expired access and refresh tokens,
	// and tokens whose client is no longer registered. Recoverable: the
	// caller must obtain a fresh token.
	ErrInvalidToken = errors.New("invalid_token")

	// ErrInvalidScope is returned when a refresh requests scope beyond the
	// original grant. Recoverable: the caller must narrow the request.
	ErrInvalidScope = errors.New("invalid_scope")
)

// InvalidScopeError reports a refresh request whose scope exceeds the
// original grant, carrying the original scope for diagnostics.
type InvalidScopeError struct {
	Requested []string
	Original  []string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("invalid_scope: unable to narrow the scope of the grant to [%s], original scope is [%s]",
		strings.Join(e.Requested, " "), strings.Join(e.Original, " "))
}

func (e *InvalidScopeError) Is(target error) bool { return target == ErrInvalidScope }

func (e *InvalidScopeError) Unwrap() error { return ErrInvalidScope }
