// Package service implements the profile and feedback operations.
// Every operation takes the caller's session identity explicitly.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/feedbackr/internal/authz"
	"github.com/jon4hz/feedbackr/internal/cache"
	"github.com/jon4hz/feedbackr/internal/database"
	"github.com/jon4hz/feedbackr/internal/forms"
	"github.com/jon4hz/feedbackr/internal/session"
)

// ErrNotFound is returned when a referenced user or feedback does not exist.
var ErrNotFound = errors.New("not found")

// ProfileCachePrefix is the cache key prefix for profiles.
const ProfileCachePrefix = "profile-"

// Profile is a user's private page: the account and its feedback, newest first.
type Profile struct {
	User     database.User       `json:"user"`
	Feedback []database.Feedback `json:"feedback"`
}

// Service wires the credential store to the ownership checks.
type Service struct {
	db       database.DB
	profiles *cache.PrefixedCache[Profile]

	// generations counts invalidations per username. A profile read while
	// the count changed is not written back to the cache.
	mu          sync.Mutex
	generations map[string]uint64
}

// New creates a new Service. profiles may be nil to disable caching.
func New(db database.DB, profiles *cache.PrefixedCache[Profile]) *Service {
	return &Service{
		db:          db,
		profiles:    profiles,
		generations: make(map[string]uint64),
	}
}

// Profile returns the profile of username if the identity owns it.
func (s *Service) Profile(ctx context.Context, identity session.Identity, username string) (*Profile, error) {
	if err := authz.Check(identity, username); err != nil {
		return nil, err
	}

	if s.profiles != nil {
		cached, err := s.profiles.Get(ctx, username)
		if err == nil && cached.User.Username == username {
			return &cached, nil
		}
		if err != nil {
			log.Debug("Profile cache miss", "username", username, "error", err)
		}
	}
	generation := s.generation(username)

	user, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, mapErr(err)
	}
	feedback, err := s.db.ListFeedbackByUsername(ctx, username)
	if err != nil {
		return nil, mapErr(err)
	}

	profile := Profile{
		User:     *user,
		Feedback: feedback,
	}
	// the cache never holds credentials
	profile.User.Password = ""
	profile.User.SessionNonce = ""
	profile.User.Feedback = nil

	s.store(ctx, username, generation, profile)
	return &profile, nil
}

// CreateFeedback adds feedback owned by username.
func (s *Service) CreateFeedback(ctx context.Context, identity session.Identity, username string, in forms.FeedbackInput) (*database.Feedback, error) {
	if err := authz.Check(identity, username); err != nil {
		return nil, err
	}

	feedback := &database.Feedback{
		Title:    in.Title,
		Content:  in.Content,
		Username: username,
	}
	if err := s.db.CreateFeedback(ctx, feedback); err != nil {
		return nil, mapErr(err)
	}
	s.invalidate(ctx, username)

	log.Info("Created feedback", "id", feedback.ID, "username", username)
	return feedback, nil
}

// Feedback returns the feedback with id if the identity owns it.
// A missing feedback is reported before ownership is checked.
func (s *Service) Feedback(ctx context.Context, identity session.Identity, id uint) (*database.Feedback, error) {
	feedback, err := s.db.GetFeedbackByID(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := authz.Check(identity, feedback.Username); err != nil {
		log.Debug("Denied feedback access", "id", id, "identity", identity)
		return nil, err
	}
	return feedback, nil
}

// UpdateFeedback replaces title and content of the feedback with id.
func (s *Service) UpdateFeedback(ctx context.Context, identity session.Identity, id uint, in forms.FeedbackInput) (*database.Feedback, error) {
	current, err := s.Feedback(ctx, identity, id)
	if err != nil {
		return nil, err
	}

	updated, err := s.db.UpdateFeedback(ctx, id, in.Title, in.Content)
	if err != nil {
		return nil, mapErr(err)
	}
	s.invalidate(ctx, current.Username)

	log.Info("Updated feedback", "id", id, "username", current.Username)
	return updated, nil
}

// DeleteFeedback removes the feedback with id.
func (s *Service) DeleteFeedback(ctx context.Context, identity session.Identity, id uint) error {
	current, err := s.Feedback(ctx, identity, id)
	if err != nil {
		return err
	}

	if err := s.db.DeleteFeedback(ctx, id); err != nil {
		return mapErr(err)
	}
	s.invalidate(ctx, current.Username)

	log.Info("Deleted feedback", "id", id, "username", current.Username)
	return nil
}

// DeleteUser removes username and all of its feedback.
// The caller is responsible for clearing the session afterwards.
func (s *Service) DeleteUser(ctx context.Context, identity session.Identity, username string) error {
	if err := authz.Check(identity, username); err != nil {
		return err
	}

	if err := s.db.DeleteUser(ctx, username); err != nil {
		return mapErr(err)
	}
	s.invalidate(ctx, username)

	log.Info("Deleted user", "username", username)
	return nil
}

// Stats returns counts of users and feedback.
func (s *Service) Stats(ctx context.Context) (*database.Stats, error) {
	return s.db.GetStats(ctx)
}

func (s *Service) generation(username string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[username]
}

// store caches profile unless username was invalidated after generation was read.
func (s *Service) store(ctx context.Context, username string, generation uint64, profile Profile) {
	if s.profiles == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[username] != generation {
		log.Debug("Skipped caching outdated profile", "username", username)
		return
	}
	if err := s.profiles.Set(ctx, username, profile); err != nil {
		log.Warn("Failed to cache profile", "username", username, "error", err)
	}
}

func (s *Service) invalidate(ctx context.Context, username string) {
	if s.profiles == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[username]++
	if err := s.profiles.Delete(ctx, username); err != nil {
		log.Debug("Failed to invalidate profile cache", "username", username, "error", err)
	}
}

func mapErr(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("database error: %w", err)
}
