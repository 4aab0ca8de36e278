// Package auth registers accounts and verifies credentials.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jon4hz/feedbackr/internal/database"
	"github.com/jon4hz/feedbackr/internal/forms"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrDuplicateUsername is returned by Register when the username is taken.
	ErrDuplicateUsername = errors.New("username already taken")
	// ErrAuthFailure is returned by Authenticate for any credential mismatch.
	// It never tells whether the username exists.
	ErrAuthFailure = errors.New("invalid username/password")
)

// Authenticator creates users and checks their passwords.
type Authenticator struct {
	db       database.DB
	cost     int
	throttle *Throttle
	// dummyHash is compared against when the user does not exist,
	// so unknown usernames cost the same as wrong passwords.
	dummyHash []byte
}

// New creates an Authenticator hashing with the given bcrypt cost.
// throttle may be nil.
func New(db database.DB, cost int, throttle *Throttle) (*Authenticator, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate dummy secret: %w", err)
	}
	dummyHash, err := bcrypt.GenerateFromPassword(secret, cost)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dummy hash: %w", err)
	}

	return &Authenticator{
		db:        db,
		cost:      cost,
		throttle:  throttle,
		dummyHash: dummyHash,
	}, nil
}

// Throttle returns the failed login throttle, which may be nil.
func (a *Authenticator) Throttle() *Throttle {
	return a.throttle
}

// Register hashes the password and stores a new user.
func (a *Authenticator) Register(ctx context.Context, in forms.RegisterInput) (*database.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), a.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, forms.Errors{"password": {"Must be at most 72 bytes."}}
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &database.User{
		Username:     in.Username,
		Password:     string(hash),
		SessionNonce: uuid.NewString(),
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
	}
	if err := a.db.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrUsernameTaken) {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Info("Registered user", "username", user.Username)
	return user, nil
}

// Authenticate returns the user if the password matches the stored hash.
func (a *Authenticator) Authenticate(ctx context.Context, in forms.LoginInput) (*database.User, error) {
	if !a.throttle.Allowed(in.Username) {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(in.Password))
		log.Warn("Login throttled", "username", in.Username)
		return nil, ErrAuthFailure
	}

	user, err := a.db.GetUserByUsername(ctx, in.Username)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(in.Password))
		a.throttle.Fail(in.Username)
		log.Debug("Login failed", "username", in.Username)
		return nil, ErrAuthFailure
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(in.Password)); err != nil {
		a.throttle.Fail(in.Username)
		log.Debug("Login failed", "username", in.Username)
		return nil, ErrAuthFailure
	}

	a.throttle.Reset(in.Username)
	log.Info("User logged in", "username", user.Username)
	return user, nil
}

// Verify returns ErrAuthFailure unless username exists and was issued nonce.
func (a *Authenticator) Verify(ctx context.Context, username, nonce string) error {
	user, err := a.db.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrAuthFailure
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user.SessionNonce != nonce {
		return ErrAuthFailure
	}
	return nil
}
