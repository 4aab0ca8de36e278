package database

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
)

// User is a registered account. The username is the primary key and never changes.
// Password holds the bcrypt hash, never the plaintext. SessionNonce is bound into
// every session of the account, so sessions of a deleted account never match a
// later account with the same username.
type User struct {
	Username     string `gorm:"primaryKey;size:20"`
	Password     string `gorm:"not null"`
	SessionNonce string `gorm:"size:36;not null;default:''"`
	Email     string `gorm:"size:50;not null"`
	FirstName string `gorm:"size:30;not null"`
	LastName  string `gorm:"size:30;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Feedback []Feedback `gorm:"foreignKey:Username;references:Username;constraint:OnDelete:CASCADE;"`
}

// FullName returns the first and last name joined by a space.
func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

func (c *Client) CreateUser(ctx context.Context, user *User) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("username = ?", user.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUsernameTaken
		}
		return tx.Create(user).Error
	})
	if err != nil {
		err = translate(err)
		if !errors.Is(err, ErrUsernameTaken) {
			log.Error("failed to create user", "username", user.Username, "error", err)
		}
		return err
	}
	return nil
}

func (c *Client) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	if err := c.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error("failed to get user by username", "error", err)
		}
		return nil, translate(err)
	}
	return &user, nil
}

// DeleteUser removes the user and all feedback they own in one transaction.
func (c *Client) DeleteUser(ctx context.Context, username string) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user User
		if err := tx.Where("username = ?", username).First(&user).Error; err != nil {
			return err
		}
		if err := tx.Where("username = ?", username).Delete(&Feedback{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error("failed to delete user", "username", username, "error", err)
		}
		return translate(err)
	}
	return nil
}
