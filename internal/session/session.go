// Package session binds the logged-in identity to a client's signed session cookie.
package session

import (
	"crypto/subtle"
	"fmt"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	keyUsername = "username"
	keyNonce    = "nonce"
	keyCSRF     = "csrf_token"
)

// Identity is the verified username bound to a session. The zero value is anonymous.
type Identity struct {
	Username string
}

// Anonymous is the identity of a client without a session.
var Anonymous = Identity{}

// Present reports whether the identity belongs to a logged-in user.
func (i Identity) Present() bool {
	return i.Username != ""
}

func (i Identity) String() string {
	if !i.Present() {
		return "anonymous"
	}
	return i.Username
}

// Holder reads and writes the identity of the current client's session.
type Holder struct {
	s sessions.Session
}

// From returns the holder for the request. The sessions middleware must be installed.
func From(c *gin.Context) *Holder {
	return &Holder{s: sessions.Default(c)}
}

// Establish binds the session to username and the account's nonce. Any
// previous session values, including the CSRF token, are dropped first.
func (h *Holder) Establish(username, nonce string) error {
	if username == "" {
		return fmt.Errorf("cannot establish a session without a username")
	}
	h.s.Clear()
	h.s.Set(keyUsername, username)
	h.s.Set(keyNonce, nonce)
	h.s.Set(keyCSRF, newToken())
	if err := h.s.Save(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Current returns the identity stored in the session.
func (h *Holder) Current() Identity {
	if val := h.s.Get(keyUsername); val != nil {
		if username, ok := val.(string); ok {
			return Identity{Username: username}
		}
	}
	return Anonymous
}

// Nonce returns the account nonce stored by Establish.
func (h *Holder) Nonce() string {
	nonce, _ := h.s.Get(keyNonce).(string)
	return nonce
}

// Clear removes the binding and every other session value.
func (h *Holder) Clear() error {
	h.s.Clear()
	if err := h.s.Save(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// CSRFToken returns the session's CSRF token, creating one if needed.
func (h *Holder) CSRFToken() (string, error) {
	if val, ok := h.s.Get(keyCSRF).(string); ok && val != "" {
		return val, nil
	}
	token := newToken()
	h.s.Set(keyCSRF, token)
	if err := h.s.Save(); err != nil {
		return "", fmt.Errorf("failed to save csrf token: %w", err)
	}
	return token, nil
}

// ValidCSRF reports whether token matches the session's CSRF token.
func (h *Holder) ValidCSRF(token string) bool {
	expected, ok := h.s.Get(keyCSRF).(string)
	if !ok || expected == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

// AddFlash queues a message for the next rendered page.
func (h *Holder) AddFlash(msg string) error {
	h.s.AddFlash(msg)
	return h.s.Save()
}

// Flashes pops all queued messages.
func (h *Holder) Flashes() []string {
	raw := h.s.Flashes()
	if len(raw) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(raw))
	for _, f := range raw {
		if msg, ok := f.(string); ok {
			msgs = append(msgs, msg)
		}
	}
	_ = h.s.Save()
	return msgs
}

func newToken() string {
	return uuid.NewString()
}
