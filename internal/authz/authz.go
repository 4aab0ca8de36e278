// Package authz decides whether a session identity may act on a resource.
package authz

import (
	"errors"

	"github.com/jon4hz/feedbackr/internal/session"
)

// ErrUnauthorized is returned when the identity does not own the resource.
// It carries no detail about the resource itself.
var ErrUnauthorized = errors.New("unauthorized")

// Decision is the outcome of an ownership check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Authorize allows only a present identity equal to the resource owner.
func Authorize(identity session.Identity, owner string) Decision {
	if !identity.Present() || owner == "" {
		return Deny
	}
	if identity.Username != owner {
		return Deny
	}
	return Allow
}

// Check is Authorize as an error.
func Check(identity session.Identity, owner string) error {
	if Authorize(identity, owner) != Allow {
		return ErrUnauthorized
	}
	return nil
}
