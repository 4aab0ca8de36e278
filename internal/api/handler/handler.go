package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/a-h/templ"
	"github.com/ccoveille/go-safecast"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/jon4hz/feedbackr/internal/auth"
	"github.com/jon4hz/feedbackr/internal/authz"
	"github.com/jon4hz/feedbackr/internal/forms"
	"github.com/jon4hz/feedbackr/internal/gravatar"
	"github.com/jon4hz/feedbackr/internal/notify/email"
	"github.com/jon4hz/feedbackr/internal/service"
	"github.com/jon4hz/feedbackr/internal/session"
	"github.com/jon4hz/feedbackr/web/templates/pages"
)

const (
	identityKey = "identity"
	feedbackKey = "feedback"
	csrfField   = "csrf_token"

	msgAuthFailure  = "Invalid username/password."
	msgUsernameUsed = "Username already taken."
	msgUnauthorized = "You are not allowed to access this page."
	msgNotFound     = "The page you are looking for does not exist."
	msgForbidden    = "Your form has expired. Please go back, reload the page and try again."
	msgInternal     = "Something went wrong. Please try again later."
)

type Handler struct {
	auth      *auth.Authenticator
	svc       *service.Service
	mailer    *email.Mailer
	avatars   *gravatar.Resolver
	serverURL string
}

// New creates a new Handler. mailer and avatars may be nil.
func New(a *auth.Authenticator, svc *service.Service, mailer *email.Mailer, avatars *gravatar.Resolver, serverURL string) *Handler {
	return &Handler{
		auth:      a,
		svc:       svc,
		mailer:    mailer,
		avatars:   avatars,
		serverURL: serverURL,
	}
}

// Index sends visitors to the registration page.
func (h *Handler) Index(c *gin.Context) {
	c.Redirect(http.StatusFound, "/register")
}

// Health reports that the server is up.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// NoRoute renders the not found page.
func (h *Handler) NoRoute(c *gin.Context) {
	h.renderError(c, http.StatusNotFound, msgNotFound)
}

func (h *Handler) RegisterForm(c *gin.Context) {
	if redirectLoggedIn(c) {
		return
	}
	h.renderRegister(c, http.StatusOK, forms.RegisterInput{}, nil)
}

func (h *Handler) Register(c *gin.Context) {
	if redirectLoggedIn(c) {
		return
	}

	in, errs := forms.Register(postForm(c))
	if errs.Any() {
		h.renderRegister(c, http.StatusUnprocessableEntity, in, errs)
		return
	}

	user, err := h.auth.Register(c.Request.Context(), in)
	if err != nil {
		var ferrs forms.Errors
		switch {
		case errors.Is(err, auth.ErrDuplicateUsername):
			h.renderRegister(c, http.StatusUnprocessableEntity, in, forms.Errors{"username": {msgUsernameUsed}})
		case errors.As(err, &ferrs):
			h.renderRegister(c, http.StatusUnprocessableEntity, in, ferrs)
		default:
			h.respondError(c, err)
		}
		return
	}

	holder := session.From(c)
	if err := holder.Establish(user.Username, user.SessionNonce); err != nil {
		h.respondError(c, err)
		return
	}
	addFlash(holder, fmt.Sprintf("Welcome, %s!", user.FirstName))
	h.sendWelcome(user.Email, user.Username, user.FirstName)

	c.Redirect(http.StatusFound, userPath(user.Username))
}

func (h *Handler) LoginForm(c *gin.Context) {
	if redirectLoggedIn(c) {
		return
	}
	h.renderLogin(c, http.StatusOK, "", "", nil)
}

func (h *Handler) Login(c *gin.Context) {
	if redirectLoggedIn(c) {
		return
	}

	in, errs := forms.Login(postForm(c))
	if errs.Any() {
		h.renderLogin(c, http.StatusUnprocessableEntity, in.Username, "", errs)
		return
	}

	user, err := h.auth.Authenticate(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, auth.ErrAuthFailure) {
			h.renderLogin(c, http.StatusUnauthorized, in.Username, msgAuthFailure, nil)
			return
		}
		h.respondError(c, err)
		return
	}

	holder := session.From(c)
	if err := holder.Establish(user.Username, user.SessionNonce); err != nil {
		h.respondError(c, err)
		return
	}
	addFlash(holder, fmt.Sprintf("Welcome back, %s!", user.FirstName))

	c.Redirect(http.StatusFound, userPath(user.Username))
}

func (h *Handler) Logout(c *gin.Context) {
	if !identity(c).Present() {
		h.respondError(c, authz.ErrUnauthorized)
		return
	}

	holder := session.From(c)
	if err := holder.Clear(); err != nil {
		h.respondError(c, err)
		return
	}
	addFlash(holder, "You have been logged out.")

	c.Redirect(http.StatusFound, "/login")
}

func (h *Handler) Profile(c *gin.Context) {
	profile, err := h.svc.Profile(c.Request.Context(), identity(c), c.Param("username"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	layout := h.layout(c, profile.User.Username)
	render(c, http.StatusOK, pages.Profile(pages.ProfilePage{
		Layout:    layout,
		Account:   profile.User,
		Feedback:  profile.Feedback,
		AvatarURL: h.avatars.URL(profile.User.Email),
	}))
}

func (h *Handler) DeleteUser(c *gin.Context) {
	username := c.Param("username")
	if err := h.svc.DeleteUser(c.Request.Context(), identity(c), username); err != nil {
		h.respondError(c, err)
		return
	}

	holder := session.From(c)
	if err := holder.Clear(); err != nil {
		h.respondError(c, err)
		return
	}
	addFlash(holder, "Your account has been deleted.")

	c.Redirect(http.StatusFound, "/login")
}

func (h *Handler) NewFeedbackForm(c *gin.Context) {
	username := c.Param("username")
	if err := authz.Check(identity(c), username); err != nil {
		h.respondError(c, err)
		return
	}
	h.renderFeedback(c, http.StatusOK, username, newFeedbackPath(username), false, forms.FeedbackInput{}, nil)
}

func (h *Handler) CreateFeedback(c *gin.Context) {
	username := c.Param("username")
	id := identity(c)
	if err := authz.Check(id, username); err != nil {
		h.respondError(c, err)
		return
	}

	in, errs := forms.Feedback(postForm(c))
	if errs.Any() {
		h.renderFeedback(c, http.StatusUnprocessableEntity, username, newFeedbackPath(username), false, in, errs)
		return
	}

	if _, err := h.svc.CreateFeedback(c.Request.Context(), id, username, in); err != nil {
		h.respondError(c, err)
		return
	}
	addFlash(session.From(c), "Feedback added.")

	c.Redirect(http.StatusFound, userPath(username))
}

func (h *Handler) EditFeedbackForm(c *gin.Context) {
	feedback, err := h.ownedFeedback(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	in := forms.FeedbackInput{Title: feedback.Title, Content: feedback.Content}
	h.renderFeedback(c, http.StatusOK, feedback.Username, updateFeedbackPath(feedback.ID), true, in, nil)
}

func (h *Handler) UpdateFeedback(c *gin.Context) {
	// ownership is checked before the form is validated
	current, err := h.ownedFeedback(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	in, errs := forms.Feedback(postForm(c))
	if errs.Any() {
		h.renderFeedback(c, http.StatusUnprocessableEntity, current.Username, updateFeedbackPath(current.ID), true, in, errs)
		return
	}

	updated, err := h.svc.UpdateFeedback(c.Request.Context(), identity(c), current.ID, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	addFlash(session.From(c), "Feedback updated.")

	c.Redirect(http.StatusFound, userPath(updated.Username))
}

func (h *Handler) DeleteFeedback(c *gin.Context) {
	current, err := h.ownedFeedback(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.svc.DeleteFeedback(c.Request.Context(), identity(c), current.ID); err != nil {
		h.respondError(c, err)
		return
	}
	addFlash(session.From(c), "Feedback deleted.")

	c.Redirect(http.StatusFound, userPath(current.Username))
}

// respondError maps an operation error to a rejection page.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, authz.ErrUnauthorized):
		h.renderError(c, http.StatusUnauthorized, msgUnauthorized)
	case errors.Is(err, service.ErrNotFound):
		h.renderError(c, http.StatusNotFound, msgNotFound)
	default:
		log.Error("Request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
		h.renderError(c, http.StatusInternalServerError, msgInternal)
	}
}

func (h *Handler) renderError(c *gin.Context, status int, msg string) {
	render(c, status, pages.Error(pages.ErrorPage{
		Layout:  h.layout(c, http.StatusText(status)),
		Status:  status,
		Message: msg,
	}))
}

func (h *Handler) renderRegister(c *gin.Context, status int, in forms.RegisterInput, errs forms.Errors) {
	render(c, status, pages.Register(pages.RegisterPage{
		Layout: h.layout(c, "Register"),
		Form:   in,
		Errors: errs,
	}))
}

func (h *Handler) renderLogin(c *gin.Context, status int, username, msg string, errs forms.Errors) {
	render(c, status, pages.Login(pages.LoginPage{
		Layout:   h.layout(c, "Log in"),
		Username: username,
		Error:    msg,
		Errors:   errs,
	}))
}

func (h *Handler) renderFeedback(c *gin.Context, status int, owner, action string, editing bool, in forms.FeedbackInput, errs forms.Errors) {
	title := "New feedback"
	if editing {
		title = "Edit feedback"
	}
	render(c, status, pages.Feedback(pages.FeedbackPage{
		Layout:  h.layout(c, title),
		Action:  action,
		Owner:   owner,
		Editing: editing,
		Form:    in,
		Errors:  errs,
	}))
}

// layout collects the per-request page data. It may write the session
// cookie, so it has to run before anything is rendered.
func (h *Handler) layout(c *gin.Context, title string) pages.Layout {
	holder := session.From(c)
	token, err := holder.CSRFToken()
	if err != nil {
		log.Error("Failed to get csrf token", "error", err)
	}
	return pages.Layout{
		Title:     title,
		User:      holder.Current().Username,
		CSRFToken: token,
		Flashes:   holder.Flashes(),
	}
}

func (h *Handler) sendWelcome(to, username, firstName string) {
	if !h.mailer.Enabled() {
		return
	}
	welcome := email.Welcome{
		Email:      to,
		Username:   username,
		FirstName:  firstName,
		ProfileURL: h.serverURL + userPath(username),
	}
	go func() {
		if err := h.mailer.SendWelcome(welcome); err != nil {
			log.Error("Failed to send welcome email", "username", username, "error", err)
		}
	}()
}

func render(c *gin.Context, status int, component templ.Component) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(status)
	if err := component.Render(c.Request.Context(), c.Writer); err != nil {
		log.Error("Failed to render page", "path", c.Request.URL.Path, "error", err)
	}
}

func redirectLoggedIn(c *gin.Context) bool {
	id := identity(c)
	if !id.Present() {
		return false
	}
	c.Redirect(http.StatusFound, userPath(id.Username))
	return true
}

func addFlash(holder *session.Holder, msg string) {
	if err := holder.AddFlash(msg); err != nil {
		log.Warn("Failed to save flash message", "error", err)
	}
}

func postForm(c *gin.Context) url.Values {
	if err := c.Request.ParseForm(); err != nil {
		log.Debug("Failed to parse form", "error", err)
	}
	return c.Request.PostForm
}

func parseUintParam(param string) (uint, error) {
	id, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		return 0, err
	}
	return safecast.Convert[uint](id)
}

func userPath(username string) string {
	return "/users/" + username
}

func newFeedbackPath(username string) string {
	return userPath(username) + "/feedback/new"
}

func updateFeedbackPath(id uint) string {
	return fmt.Sprintf("/feedback/%d/update", id)
}
