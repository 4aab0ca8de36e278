// Package gravatar builds avatar URLs for the profile page.
package gravatar

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jon4hz/feedbackr/internal/config"
	"github.com/samber/lo"
)

const baseURL = "https://www.gravatar.com/avatar/"

var (
	defaultImages = []string{"404", "mp", "identicon", "monsterid", "wavatar", "retro", "robohash", "blank"}
	ratings       = []string{"g", "pg", "r", "x"}
)

// Resolver turns e-mail addresses into Gravatar URLs.
// A nil or disabled Resolver resolves every address to "".
type Resolver struct {
	query string
}

// New validates cfg and returns a Resolver, or nil when Gravatar is disabled.
func New(cfg *config.GravatarConfig) (*Resolver, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	params := url.Values{}
	if cfg.DefaultImage != "" {
		params.Set("d", cfg.DefaultImage)
	}
	if cfg.Rating != "" {
		params.Set("r", cfg.Rating)
	}
	if cfg.Size > 0 {
		params.Set("s", strconv.Itoa(cfg.Size))
	}
	return &Resolver{query: params.Encode()}, nil
}

// URL returns the avatar URL for email.
func (r *Resolver) URL(email string) string {
	if r == nil {
		return ""
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	u := baseURL + hex.EncodeToString(sum[:])
	if r.query != "" {
		u += "?" + r.query
	}
	return u
}

// Validate checks the optional image, rating and size settings.
func Validate(cfg *config.GravatarConfig) error {
	if cfg.DefaultImage != "" && !lo.Contains(defaultImages, cfg.DefaultImage) {
		return fmt.Errorf("invalid gravatar default image: %q", cfg.DefaultImage)
	}
	if cfg.Rating != "" && !lo.Contains(ratings, cfg.Rating) {
		return fmt.Errorf("invalid gravatar rating: %q", cfg.Rating)
	}
	if cfg.Size < 0 || cfg.Size > 2048 {
		return fmt.Errorf("gravatar size must be between 1 and 2048, got %d", cfg.Size)
	}
	return nil
}
