package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jon4hz/feedbackr/internal/database"
)

var _ database.DB = (*MockDB)(nil)

// MockDB is an in-memory implementation of database.DB for testing.
type MockDB struct {
	mu sync.RWMutex

	users          map[string]*database.User
	feedback       map[uint]*database.Feedback
	nextFeedbackID uint

	// Error simulation
	CreateUserError        error
	GetUserByUsernameError error
	DeleteUserError        error
	CreateFeedbackError    error
	GetFeedbackByIDError   error
	ListFeedbackError      error
	UpdateFeedbackError    error
	DeleteFeedbackError    error
	GetStatsError          error

	// Call counters
	ListFeedbackCalls int

	// AfterListFeedback runs once the feedback list has been read, outside the lock.
	AfterListFeedback func()
}

// NewMockDB creates a new MockDB instance.
func NewMockDB() *MockDB {
	return &MockDB{
		users:          make(map[string]*database.User),
		feedback:       make(map[uint]*database.Feedback),
		nextFeedbackID: 1,
	}
}

// Reset clears all data and errors from the mock database.
func (m *MockDB) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users = make(map[string]*database.User)
	m.feedback = make(map[uint]*database.Feedback)
	m.nextFeedbackID = 1

	m.CreateUserError = nil
	m.GetUserByUsernameError = nil
	m.DeleteUserError = nil
	m.CreateFeedbackError = nil
	m.GetFeedbackByIDError = nil
	m.ListFeedbackError = nil
	m.UpdateFeedbackError = nil
	m.DeleteFeedbackError = nil
	m.GetStatsError = nil
	m.ListFeedbackCalls = 0
	m.AfterListFeedback = nil
}

// User operations

func (m *MockDB) CreateUser(_ context.Context, user *database.User) error {
	if m.CreateUserError != nil {
		return m.CreateUserError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.Username]; ok {
		return database.ErrUsernameTaken
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	stored := *user
	m.users[user.Username] = &stored
	return nil
}

func (m *MockDB) GetUserByUsername(_ context.Context, username string) (*database.User, error) {
	if m.GetUserByUsernameError != nil {
		return nil, m.GetUserByUsernameError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[username]
	if !ok {
		return nil, database.ErrNotFound
	}
	found := *user
	return &found, nil
}

func (m *MockDB) DeleteUser(_ context.Context, username string) error {
	if m.DeleteUserError != nil {
		return m.DeleteUserError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; !ok {
		return database.ErrNotFound
	}
	for id, fb := range m.feedback {
		if fb.Username == username {
			delete(m.feedback, id)
		}
	}
	delete(m.users, username)
	return nil
}

// Feedback operations

func (m *MockDB) CreateFeedback(_ context.Context, feedback *database.Feedback) error {
	if m.CreateFeedbackError != nil {
		return m.CreateFeedbackError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[feedback.Username]; !ok {
		return database.ErrNotFound
	}
	now := time.Now()
	feedback.ID = m.nextFeedbackID
	feedback.CreatedAt = now
	feedback.UpdatedAt = now
	m.nextFeedbackID++
	stored := *feedback
	m.feedback[feedback.ID] = &stored
	return nil
}

func (m *MockDB) GetFeedbackByID(_ context.Context, id uint) (*database.Feedback, error) {
	if m.GetFeedbackByIDError != nil {
		return nil, m.GetFeedbackByIDError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	fb, ok := m.feedback[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	found := *fb
	return &found, nil
}

func (m *MockDB) ListFeedbackByUsername(_ context.Context, username string) ([]database.Feedback, error) {
	m.mu.Lock()
	m.ListFeedbackCalls++
	m.mu.Unlock()

	if m.ListFeedbackError != nil {
		return nil, m.ListFeedbackError
	}

	m.mu.RLock()
	var list []database.Feedback
	for _, fb := range m.feedback {
		if fb.Username == username {
			list = append(list, *fb)
		}
	}
	hook := m.AfterListFeedback
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	if hook != nil {
		hook()
	}
	return list, nil
}

func (m *MockDB) UpdateFeedback(_ context.Context, id uint, title, content string) (*database.Feedback, error) {
	if m.UpdateFeedbackError != nil {
		return nil, m.UpdateFeedbackError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fb, ok := m.feedback[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	fb.Title = title
	fb.Content = content
	fb.UpdatedAt = time.Now()
	updated := *fb
	return &updated, nil
}

func (m *MockDB) DeleteFeedback(_ context.Context, id uint) error {
	if m.DeleteFeedbackError != nil {
		return m.DeleteFeedbackError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.feedback[id]; !ok {
		return database.ErrNotFound
	}
	delete(m.feedback, id)
	return nil
}

func (m *MockDB) GetStats(_ context.Context) (*database.Stats, error) {
	if m.GetStatsError != nil {
		return nil, m.GetStatsError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &database.Stats{
		Users:    int64(len(m.users)),
		Feedback: int64(len(m.feedback)),
	}
	for _, fb := range m.feedback {
		if stats.LatestFeedback == nil || fb.CreatedAt.After(*stats.LatestFeedback) {
			created := fb.CreatedAt
			stats.LatestFeedback = &created
		}
	}
	return stats, nil
}

func (m *MockDB) Close() error {
	return nil
}
