package database

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
)

// Feedback is a note owned by exactly one user.
type Feedback struct {
	ID        uint   `gorm:"primaryKey"`
	Title     string `gorm:"size:100;not null"`
	Content   string `gorm:"type:text;not null"`
	Username  string `gorm:"size:20;not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateFeedback stores new feedback. The owner has to exist.
func (c *Client) CreateFeedback(ctx context.Context, feedback *Feedback) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner User
		if err := tx.Select("username").Where("username = ?", feedback.Username).First(&owner).Error; err != nil {
			return err
		}
		return tx.Create(feedback).Error
	})
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error("failed to create feedback", "username", feedback.Username, "error", err)
		}
		return translate(err)
	}
	return nil
}

func (c *Client) GetFeedbackByID(ctx context.Context, id uint) (*Feedback, error) {
	var feedback Feedback
	if err := c.db.WithContext(ctx).First(&feedback, id).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error("failed to get feedback by ID", "id", id, "error", err)
		}
		return nil, translate(err)
	}
	return &feedback, nil
}

// ListFeedbackByUsername returns the user's feedback, newest first.
func (c *Client) ListFeedbackByUsername(ctx context.Context, username string) ([]Feedback, error) {
	var feedback []Feedback
	if err := c.db.WithContext(ctx).
		Where("username = ?", username).
		Order("created_at DESC").Order("id DESC").
		Find(&feedback).Error; err != nil {
		log.Error("failed to list feedback", "username", username, "error", err)
		return nil, err
	}
	return feedback, nil
}

func (c *Client) UpdateFeedback(ctx context.Context, id uint, title, content string) (*Feedback, error) {
	var feedback Feedback
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&feedback, id).Error; err != nil {
			return err
		}
		feedback.Title = title
		feedback.Content = content
		return tx.Model(&feedback).Select("title", "content", "updated_at").Updates(&feedback).Error
	})
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error("failed to update feedback", "id", id, "error", err)
		}
		return nil, translate(err)
	}
	return &feedback, nil
}

func (c *Client) DeleteFeedback(ctx context.Context, id uint) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&Feedback{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error("failed to delete feedback", "id", id, "error", err)
		}
		return translate(err)
	}
	return nil
}
