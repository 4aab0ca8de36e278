package handler

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/jon4hz/feedbackr/internal/auth"
	"github.com/jon4hz/feedbackr/internal/authz"
	"github.com/jon4hz/feedbackr/internal/database"
	"github.com/jon4hz/feedbackr/internal/service"
	"github.com/jon4hz/feedbackr/internal/session"
)

// LoadIdentity reads the session identity once and stores it on the context.
// Sessions of accounts that no longer exist, or whose nonce changed, are cleared.
func (h *Handler) LoadIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		holder := session.From(c)
		id := holder.Current()
		if id.Present() {
			err := h.auth.Verify(c.Request.Context(), id.Username, holder.Nonce())
			switch {
			case errors.Is(err, auth.ErrAuthFailure):
				log.Info("Dropping session of unknown account", "identity", id)
				if err := holder.Clear(); err != nil {
					log.Warn("Failed to clear session", "error", err)
				}
				id = session.Anonymous
			case err != nil:
				log.Error("Failed to verify session", "identity", id, "error", err)
				id = session.Anonymous
			}
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireCSRF rejects form submissions without the session's CSRF token.
func (h *Handler) RequireCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !session.From(c).ValidCSRF(c.PostForm(csrfField)) {
			log.Warn("Rejected request with invalid csrf token", "path", c.Request.URL.Path, "identity", identity(c))
			h.renderError(c, http.StatusForbidden, msgForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireOwner rejects requests whose identity does not own the :username path parameter.
func (h *Handler) RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authz.Check(identity(c), c.Param("username")); err != nil {
			h.respondError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireFeedbackOwner loads the feedback named by the :id path parameter and
// rejects the request unless the identity owns it. Missing feedback is a 404.
func (h *Handler) RequireFeedbackOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := h.ownedFeedback(c); err != nil {
			h.respondError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ownedFeedback returns the feedback named by :id if the identity owns it.
// The result is kept on the context for the rest of the chain.
func (h *Handler) ownedFeedback(c *gin.Context) (*database.Feedback, error) {
	if val, ok := c.Get(feedbackKey); ok {
		if fb, ok := val.(*database.Feedback); ok {
			return fb, nil
		}
	}
	feedbackID, err := parseUintParam(c.Param("id"))
	if err != nil {
		return nil, service.ErrNotFound
	}
	fb, err := h.svc.Feedback(c.Request.Context(), identity(c), feedbackID)
	if err != nil {
		return nil, err
	}
	c.Set(feedbackKey, fb)
	return fb, nil
}

// identity returns the identity stored by LoadIdentity.
func identity(c *gin.Context) session.Identity {
	if val, ok := c.Get(identityKey); ok {
		if id, ok := val.(session.Identity); ok {
			return id
		}
	}
	return session.Anonymous
}
