// Package api serves the feedbackr web interface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/jon4hz/feedbackr/internal/api/handler"
	"github.com/jon4hz/feedbackr/internal/auth"
	"github.com/jon4hz/feedbackr/internal/config"
	"github.com/jon4hz/feedbackr/internal/gravatar"
	"github.com/jon4hz/feedbackr/internal/notify/email"
	"github.com/jon4hz/feedbackr/internal/service"
	"github.com/jon4hz/feedbackr/internal/static"
)

const sessionName = "feedbackr_session"

// Route is a single row of the route table.
type Route struct {
	Method     string
	Path       string
	Handler    gin.HandlerFunc
	Middleware []gin.HandlerFunc
}

type Server struct {
	cfg        *config.Config
	ginEngine  *gin.Engine
	handler    *handler.Handler
	httpServer *http.Server
}

// New creates the server and registers all routes.
func New(cfg *config.Config, a *auth.Authenticator, svc *service.Service, mailer *email.Mailer, avatars *gravatar.Resolver) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if a == nil || svc == nil {
		return nil, fmt.Errorf("authenticator and service are required")
	}

	s := &Server{
		cfg:       cfg,
		ginEngine: gin.New(),
		handler:   handler.New(a, svc, mailer, avatars, cfg.ServerURL),
	}
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) setupSession() {
	store := cookie.NewStore([]byte(s.cfg.SessionKey))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   s.cfg.SessionMaxAge,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	s.ginEngine.Use(sessions.Sessions(sessionName, store))
}

func (s *Server) setupRoutes() error {
	if gin.Mode() == gin.DebugMode {
		s.ginEngine.Use(gin.Logger())
	}
	s.ginEngine.Use(gin.Recovery())
	s.ginEngine.Use(gzip.Gzip(gzip.DefaultCompression))
	s.setupSession()
	s.ginEngine.Use(s.handler.LoadIdentity())

	staticFS, err := static.FS()
	if err != nil {
		return err
	}

	for _, r := range s.routes(http.FS(staticFS)) {
		handlers := append(append([]gin.HandlerFunc{}, r.Middleware...), r.Handler)
		s.ginEngine.Handle(r.Method, r.Path, handlers...)
	}
	s.ginEngine.NoRoute(s.handler.NoRoute)
	return nil
}

func (s *Server) routes(staticFS http.FileSystem) []Route {
	h := s.handler
	csrf := []gin.HandlerFunc{h.RequireCSRF()}
	// identity and ownership are checked before the CSRF token
	owner := []gin.HandlerFunc{h.RequireOwner(), h.RequireCSRF()}
	feedbackOwner := []gin.HandlerFunc{h.RequireFeedbackOwner(), h.RequireCSRF()}
	assets := gin.WrapH(http.StripPrefix("/static", http.FileServer(staticFS)))

	return []Route{
		{Method: http.MethodGet, Path: "/", Handler: h.Index},
		{Method: http.MethodGet, Path: "/register", Handler: h.RegisterForm},
		{Method: http.MethodPost, Path: "/register", Handler: h.Register, Middleware: csrf},
		{Method: http.MethodGet, Path: "/login", Handler: h.LoginForm},
		{Method: http.MethodPost, Path: "/login", Handler: h.Login, Middleware: csrf},
		{Method: http.MethodGet, Path: "/logout", Handler: h.Logout},
		{Method: http.MethodGet, Path: "/users/:username", Handler: h.Profile},
		{Method: http.MethodPost, Path: "/users/:username/delete", Handler: h.DeleteUser, Middleware: owner},
		{Method: http.MethodGet, Path: "/users/:username/feedback/new", Handler: h.NewFeedbackForm},
		{Method: http.MethodPost, Path: "/users/:username/feedback/new", Handler: h.CreateFeedback, Middleware: owner},
		{Method: http.MethodGet, Path: "/feedback/:id/update", Handler: h.EditFeedbackForm},
		{Method: http.MethodPost, Path: "/feedback/:id/update", Handler: h.UpdateFeedback, Middleware: feedbackOwner},
		{Method: http.MethodPost, Path: "/feedback/:id/delete", Handler: h.DeleteFeedback, Middleware: feedbackOwner},
		{Method: http.MethodGet, Path: "/static/*filepath", Handler: assets},
		{Method: http.MethodGet, Path: "/healthz", Handler: h.Health},
	}
}

// Handler returns the http.Handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.ginEngine
}

// Run listens on the configured address until Shutdown is called.
func (s *Server) Run() error {
	log.Info("Starting server", "listen", s.cfg.Listen)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Shutting down server")
	return s.httpServer.Shutdown(ctx)
}
