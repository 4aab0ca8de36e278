package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a referenced user or feedback does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrUsernameTaken is returned when a user is created with an existing username.
	ErrUsernameTaken = errors.New("username already taken")
)

// DB is the persistence layer for users and their feedback.
// Every mutation is applied atomically.
type DB interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	DeleteUser(ctx context.Context, username string) error

	CreateFeedback(ctx context.Context, feedback *Feedback) error
	GetFeedbackByID(ctx context.Context, id uint) (*Feedback, error)
	ListFeedbackByUsername(ctx context.Context, username string) ([]Feedback, error)
	UpdateFeedback(ctx context.Context, id uint, title, content string) (*Feedback, error)
	DeleteFeedback(ctx context.Context, id uint) error

	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

var _ DB = (*Client)(nil) // Ensure Client implements DB

// Client wraps the gorm.DB instance.
type Client struct {
	db *gorm.DB
}

// New opens the sqlite database at dbpath and performs migrations.
func New(dbpath string) (*Client, error) {
	if dir := filepath.Dir(dbpath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := dbpath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger: logger.New(log.Default().WithPrefix("gorm"), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := db.AutoMigrate(
		&User{},
		&Feedback{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Stats holds row counts for reporting.
type Stats struct {
	Users          int64
	Feedback       int64
	LatestFeedback *time.Time
}

func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	db := c.db.WithContext(ctx)

	if err := db.Model(&User{}).Count(&stats.Users).Error; err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if err := db.Model(&Feedback{}).Count(&stats.Feedback).Error; err != nil {
		return nil, fmt.Errorf("failed to count feedback: %w", err)
	}

	if stats.Feedback > 0 {
		var latest Feedback
		if err := db.Order("created_at DESC").First(&latest).Error; err != nil {
			return nil, fmt.Errorf("failed to get latest feedback: %w", err)
		}
		stats.LatestFeedback = &latest.CreatedAt
	}

	return &stats, nil
}

// translate maps gorm errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrUsernameTaken
	default:
		return err
	}
}
