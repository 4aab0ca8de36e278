package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jon4hz/feedbackr/internal/auth"
	"github.com/jon4hz/feedbackr/internal/cache"
	"github.com/jon4hz/feedbackr/internal/config"
	"github.com/jon4hz/feedbackr/internal/database"
	"github.com/jon4hz/feedbackr/internal/service"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

var csrfPattern = regexp.MustCompile(`<meta name="csrf-token" content="([^"]*)">`)

type browser struct {
	s      *APITestSuite
	client *http.Client
}

func (b *browser) do(req *http.Request) (*http.Response, string) {
	resp, err := b.client.Do(req)
	b.s.Require().NoError(err)
	defer resp.Body.Close() //nolint: errcheck
	body, err := io.ReadAll(resp.Body)
	b.s.Require().NoError(err)
	return resp, string(body)
}

func (b *browser) get(path string) (*http.Response, string) {
	req, err := http.NewRequest(http.MethodGet, b.s.server.URL+path, nil)
	b.s.Require().NoError(err)
	return b.do(req)
}

// postRaw submits values as they are, without adding a csrf token.
func (b *browser) postRaw(path string, values url.Values) (*http.Response, string) {
	req, err := http.NewRequest(http.MethodPost, b.s.server.URL+path, strings.NewReader(values.Encode()))
	b.s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

// post submits values together with the session's current csrf token.
func (b *browser) post(path string, values url.Values) (*http.Response, string) {
	if values == nil {
		values = url.Values{}
	}
	values.Set("csrf_token", b.csrfToken())
	return b.postRaw(path, values)
}

func (b *browser) csrfToken() string {
	_, body := b.get("/__csrf")
	m := csrfPattern.FindStringSubmatch(body)
	b.s.Require().Len(m, 2, "no csrf token in page")
	b.s.Require().NotEmpty(m[1])
	return m[1]
}

func (b *browser) register(username, password string) *http.Response {
	resp, _ := b.post("/register", url.Values{
		"username":   {username},
		"password":   {password},
		"email":      {username + "@example.com"},
		"first_name": {strings.ToUpper(username[:1]) + username[1:]},
		"last_name":  {"Tester"},
	})
	return resp
}

func (b *browser) login(username, password string) (*http.Response, string) {
	return b.post("/login", url.Values{
		"username": {username},
		"password": {password},
	})
}

type APITestSuite struct {
	suite.Suite
	db     *database.Client
	server *httptest.Server
}

func (s *APITestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	db, err := database.New(filepath.Join(s.T().TempDir(), "feedbackr.db"))
	s.Require().NoError(err)
	s.db = db

	authenticator, err := auth.New(db, bcrypt.MinCost, auth.NewThrottle(5, time.Minute))
	s.Require().NoError(err)

	store, err := cache.New(nil)
	s.Require().NoError(err)
	svc := service.New(db, cache.NewPrefixedCache[service.Profile](store, service.ProfileCachePrefix, 0))

	cfg := &config.Config{
		Listen:        "127.0.0.1:0",
		ServerURL:     "http://localhost:3003",
		SessionKey:    "0123456789abcdef0123456789abcdef",
		SessionMaxAge: 3600,
	}
	srv, err := New(cfg, authenticator, svc, nil, nil)
	s.Require().NoError(err)

	s.server = httptest.NewServer(srv.Handler())
}

func (s *APITestSuite) TearDownTest() {
	s.server.Close()
	s.Require().NoError(s.db.Close())
}

func (s *APITestSuite) newBrowser() *browser {
	jar, err := cookiejar.New(nil)
	s.Require().NoError(err)
	return &browser{
		s: s,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (s *APITestSuite) feedbackIDs(username string) []uint {
	list, err := s.db.ListFeedbackByUsername(context.Background(), username)
	s.Require().NoError(err)
	ids := make([]uint, 0, len(list))
	for _, fb := range list {
		ids = append(ids, fb.ID)
	}
	return ids
}

func (s *APITestSuite) TestIndexRedirects() {
	resp, _ := s.newBrowser().get("/")
	s.Equal(http.StatusFound, resp.StatusCode)
	s.Equal("/register", resp.Header.Get("Location"))
}

func (s *APITestSuite) TestHealth() {
	resp, body := s.newBrowser().get("/healthz")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.JSONEq(`{"status":"ok"}`, body)
}

func (s *APITestSuite) TestStatic() {
	resp, body := s.newBrowser().get("/static/style.css")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(body, ".flash")
}

func (s *APITestSuite) TestNotFoundPage() {
	resp, body := s.newBrowser().get("/nope")
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Contains(body, "does not exist")
}

func (s *APITestSuite) TestRegisterAndProfile() {
	alice := s.newBrowser()

	resp, body := alice.get("/register")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(body, `name="csrf_token"`)

	resp = alice.register("alice", "pw1")
	s.Equal(http.StatusFound, resp.StatusCode)
	s.Equal("/users/alice", resp.Header.Get("Location"))

	resp, body = alice.get("/users/alice")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(body, "Welcome, Alice!")
	s.Contains(body, "alice@example.com")
	s.Contains(body, "No feedback yet.")

	// logged in users skip the forms
	resp, _ = alice.get("/register")
	s.Equal(http.StatusFound, resp.StatusCode)
	s.Equal("/users/alice", resp.Header.Get("Location"))
	resp, _ = alice.get("/login")
	s.Equal(http.StatusFound, resp.StatusCode)
	s.Equal("/users/alice", resp.Header.Get("Location"))
}

func (s *APITestSuite) TestRegisterDuplicate() {
	s.Equal(http.StatusFound, s.newBrowser().register("alice", "pw1").StatusCode)

	other := s.newBrowser()
	resp, body := other.post("/register", url.Values{
		"username":   {"alice"},
		"password":   {"pw2"},
		"email":      {"other@example.com"},
		"first_name": {"Other"},
		"last_name":  {"Alice"},
	})
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	s.Contains(body, "Username already taken.")
	s.Contains(body, `value="other@example.com"`)
	s.NotContains(body, "pw2")

	// the original account is untouched
	resp, _ = other.login("alice", "pw1")
	s.Equal(http.StatusFound, resp.StatusCode)
}

func (s *APITestSuite) TestRegisterValidation() {
	b := s.newBrowser()
	resp, body := b.post("/register", url.Values{
		"username": {"this-username-is-far-too-long"},
		"email":    {"not-an-email"},
	})
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	s.Contains(body, "This field is required.")
	s.Contains(body, "Must be at most 20 characters.")
	s.Contains(body, "Invalid email address.")

	stats, err := s.db.GetStats(context.Background())
	s.Require().NoError(err)
	s.Zero(stats.Users)
}

func (s *APITestSuite) TestLogin() {
	s.Equal(http.StatusFound, s.newBrowser().register("alice", "pw1").StatusCode)

	b := s.newBrowser()
	resp, body := b.login("alice", "wrongpw")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Contains(body, "Invalid username/password.")

	// session stays anonymous
	resp, _ = b.get("/users/alice")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, unknownBody := b.login("nobody", "wrongpw")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Contains(unknownBody, "Invalid username/password.")
	s.Equal(
		strings.Replace(body, `value="alice"`, "", 1),
		strings.Replace(unknownBody, `value="nobody"`, "", 1),
		"unknown user and wrong password must render the same page",
	)

	resp, _ = b.login("alice", "pw1")
	s.Equal(http.StatusFound, resp.StatusCode)
	s.Equal("/users/alice", resp.Header.Get("Location"))

	resp, body = b.get("/users/alice")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(body, "Welcome back, Alice!")
}

func (s *APITestSuite) TestLoginValidation() {
	resp, body := s.newBrowser().post("/login", url.Values{"username": {"alice"}})
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	s.Contains(body, "This field is required.")
}

func (s *APITestSuite) TestLogout() {
	alice := s.newBrowser()
	s.Equal(http.StatusFound, alice.register("alice", "pw1").StatusCode)

	resp, _ := alice.get("/logout")
	s.Equal(http.StatusFound, resp.StatusCode)
	s.Equal("/login", resp.Header.Get("Location"))

	resp, body := alice.get("/login")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(body, "You have been logged out.")

	resp, _ = alice.get("/users/alice")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, _ = alice.get("/logout")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *APITestSuite) TestProfileOfOtherUser() {
	alice := s.newBrowser()
	bob := s.newBrowser()
	s.Equal(http.StatusFound, alice.register("alice", "pw1").StatusCode)
	s.Equal(http.StatusFound, bob.register("bob", "pw2").StatusCode)
	// consume the welcome flash
	resp, _ := bob.get("/users/bob")
	s.Equal(http.StatusOK, resp.StatusCode)

	resp, body := bob.get("/users/alice")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.NotContains(body, "alice@example.com")

	// a missing user is indistinguishable from someone else's page
	resp, missingBody := bob.get("/users/nobody")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Equal(body, missingBody)

	resp, _ = s.newBrowser().get("/users/alice")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *APITestSuite) TestFeedbackLifecycle() {
	alice := s.newBrowser()
	s.Equal(http.StatusFound, alice.register("alice", "pw1").StatusCode)

	resp, body := alice.get("/users/alice/feedback/new")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(body, "New feedback")

	resp, _ = alice.post("/users/alice/feedback/new", url.Values{"title": {"Great app"}, "content": {"Really."}})
	s.Equal(http.StatusFound, resp.StatusCode)
	s.Equal("/users/alice", resp.Header.Get("Location"))

	resp, body = alice.get("/users/alice")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(body, "Great app")
	s.Contains(body, "Feedback added.")

	ids := s.feedbackIDs("alice")
	s.Require().Len(ids, 1)
	id := ids[0]

	resp, body = alice.get(fmt.Sprintf("/feedback/%d/update", id))
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(body, `value="Great app"`)

	resp, _ = alice.post(fmt.Sprintf("/feedback/%d/update", id), url.Values{"title": {"Even better"}, "content": {"Edited."}})
	s.Equal(http.StatusFound, resp.StatusCode)

	_, body = alice.get("/users/alice")
	s.Contains(body, "Even better")
	s.NotContains(body, "Great app")

	resp, body = alice.post(fmt.Sprintf("/feedback/%d/update", id), url.Values{"title": {""}, "content": {"x"}})
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	s.Contains(body, "This field is required.")

	resp, _ = alice.post(fmt.Sprintf("/feedback/%d/delete", id), nil)
	s.Equal(http.StatusFound, resp.StatusCode)
	s.Equal("/users/alice", resp.Header.Get("Location"))
	s.Empty(s.feedbackIDs("alice"))
}

func (s *APITestSuite) TestFeedbackValidation() {
	alice := s.newBrowser()
	s.Equal(http.StatusFound, alice.register("alice", "pw1").StatusCode)

	resp, body := alice.post("/users/alice/feedback/new", url.Values{"title": {strings.Repeat("t", 101)}})
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	s.Contains(body, "Must be at most 100 characters.")
	s.Contains(body, "This field is required.")
	s.Empty(s.feedbackIDs("alice"))
}

func (s *APITestSuite) TestFeedbackOfOtherUser() {
	alice := s.newBrowser()
	bob := s.newBrowser()
	s.Equal(http.StatusFound, alice.register("alice", "pw1").StatusCode)
	s.Equal(http.StatusFound, bob.register("bob", "pw2").StatusCode)

	resp, _ := bob.post("/users/bob/feedback/new", url.Values{"title": {"Bobs"}, "content": {"mine"}})
	s.Require().Equal(http.StatusFound, resp.StatusCode)
	ids := s.feedbackIDs("bob")
	s.Require().Len(ids, 1)
	id := ids[0]

	resp, _ = alice.get(fmt.Sprintf("/feedback/%d/update", id))
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, body := alice.post(fmt.Sprintf("/feedback/%d/update", id), url.Values{"title": {"hacked"}, "content": {"x"}})
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.NotContains(body, "Bobs")

	resp, _ = alice.post(fmt.Sprintf("/feedback/%d/delete", id), nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, _ = alice.post("/users/bob/feedback/new", url.Values{"title": {"spam"}, "content": {"x"}})
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, _ = alice.get("/users/bob/feedback/new")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, _ = alice.post("/users/bob/delete", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	fb, err := s.db.GetFeedbackByID(context.Background(), id)
	s.Require().NoError(err)
	s.Equal("Bobs", fb.Title)
	_, err = s.db.GetUserByUsername(context.Background(), "bob")
	s.NoError(err)
}

func (s *APITestSuite) TestFeedbackNotFound() {
	alice := s.newBrowser()
	s.Equal(http.StatusFound, alice.register("alice", "pw1").StatusCode)

	resp, _ := alice.get("/feedback/999/update")
	s.Equal(http.StatusNotFound, resp.StatusCode)

	resp, _ = alice.post("/feedback/999/update", url.Values{"title": {"t"}, "content": {"c"}})
	s.Equal(http.StatusNotFound, resp.StatusCode)

	resp, _ = alice.post("/feedback/999/delete", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)

	resp, _ = alice.get("/feedback/abc/update")
	s.Equal(http.StatusNotFound, resp.StatusCode)

	// lookup comes before the session check
	resp, _ = s.newBrowser().get("/feedback/999/update")
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *APITestSuite) TestDeleteUserCascades() {
	alice := s.newBrowser()
	bob := s.newBrowser()
	s.Equal(http.StatusFound, alice.register("alice", "pw1").StatusCode)
	s.Equal(http.StatusFound, bob.register("bob", "pw2").StatusCode)

	for _, title := range []string{"one", "two"} {
		resp, _ := alice.post("/users/alice/feedback/new", url.Values{"title": {title}, "content": {"c"}})
		s.Require().Equal(http.StatusFound, resp.StatusCode)
	}
	resp, _ := bob.post("/users/bob/feedback/new", url.Values{"title": {"bobs"}, "content": {"c"}})
	s.Require().Equal(http.StatusFound, resp.StatusCode)
	aliceIDs := s.feedbackIDs("alice")
	s.Require().Len(aliceIDs, 2)

	resp, _ = alice.post("/users/alice/delete", nil)
	s.Equal(http.StatusFound, resp.StatusCode)
	s.Equal("/login", resp.Header.Get("Location"))

	// session is anonymous again
	resp, body := alice.get("/login")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(body, "Your account has been deleted.")
	resp, _ = alice.get("/users/alice")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	for _, id := range aliceIDs {
		_, err := s.db.GetFeedbackByID(context.Background(), id)
		s.ErrorIs(err, database.ErrNotFound)
	}
	s.Len(s.feedbackIDs("bob"), 1)

	resp, _ = alice.login("alice", "pw1")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *APITestSuite) TestDeletedAccountSessionsDoNotCarryOver() {
	laptop := s.newBrowser()
	phone := s.newBrowser()
	s.Equal(http.StatusFound, laptop.register("alice", "pw1").StatusCode)
	resp, _ := phone.login("alice", "pw1")
	s.Require().Equal(http.StatusFound, resp.StatusCode)

	resp, _ = laptop.post("/users/alice/delete", nil)
	s.Require().Equal(http.StatusFound, resp.StatusCode)

	newcomer := s.newBrowser()
	s.Equal(http.StatusFound, newcomer.register("alice", "pw2").StatusCode)
	resp, _ = newcomer.post("/users/alice/feedback/new", url.Values{"title": {"private"}, "content": {"c"}})
	s.Require().Equal(http.StatusFound, resp.StatusCode)

	resp, body := phone.get("/users/alice")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.NotContains(body, "private")

	// the stale session was dropped
	resp, _ = phone.get("/login")
	s.Equal(http.StatusOK, resp.StatusCode)

	resp, _ = newcomer.get("/users/alice")
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *APITestSuite) TestMutationsRequireOwnerBeforeCSRF() {
	alice := s.newBrowser()
	s.Equal(http.StatusFound, alice.register("alice", "pw1").StatusCode)
	resp, _ := alice.post("/users/alice/feedback/new", url.Values{"title": {"mine"}, "content": {"c"}})
	s.Require().Equal(http.StatusFound, resp.StatusCode)
	ids := s.feedbackIDs("alice")
	s.Require().Len(ids, 1)
	id := ids[0]

	bob := s.newBrowser()
	s.Equal(http.StatusFound, bob.register("bob", "pw2").StatusCode)

	paths := []string{
		"/users/alice/delete",
		"/users/alice/feedback/new",
		fmt.Sprintf("/feedback/%d/update", id),
		fmt.Sprintf("/feedback/%d/delete", id),
	}
	for _, path := range paths {
		resp, body := s.newBrowser().postRaw(path, url.Values{"title": {"t"}, "content": {"c"}})
		s.Equal(http.StatusUnauthorized, resp.StatusCode, "anonymous %s", path)
		s.NotContains(body, "Your form has expired.")

		resp, _ = bob.postRaw(path, url.Values{"title": {"t"}, "content": {"c"}})
		s.Equal(http.StatusUnauthorized, resp.StatusCode, "non-owner %s", path)
	}

	// a missing feedback is still reported first
	resp, _ = s.newBrowser().postRaw("/feedback/999/delete", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)

	fb, err := s.db.GetFeedbackByID(context.Background(), id)
	s.Require().NoError(err)
	s.Equal("mine", fb.Title)
	_, err = s.db.GetUserByUsername(context.Background(), "alice")
	s.NoError(err)
}

func (s *APITestSuite) TestCSRF() {
	alice := s.newBrowser()
	s.Equal(http.StatusFound, alice.register("alice", "pw1").StatusCode)

	resp, body := alice.postRaw("/users/alice/feedback/new", url.Values{"title": {"t"}, "content": {"c"}})
	s.Equal(http.StatusForbidden, resp.StatusCode)
	s.Contains(body, "Your form has expired.")

	resp, _ = alice.postRaw("/users/alice/delete", url.Values{"csrf_token": {"forged"}})
	s.Equal(http.StatusForbidden, resp.StatusCode)

	_, err := s.db.GetUserByUsername(context.Background(), "alice")
	s.NoError(err)
	s.Empty(s.feedbackIDs("alice"))

	// a token from another session is useless
	mallory := s.newBrowser()
	resp, _ = alice.postRaw("/users/alice/delete", url.Values{"csrf_token": {mallory.csrfToken()}})
	s.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}
