package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const maxSiteNameLen = 255

// Site is a physical location whose devices are addressed together.
type Site struct {
	ID        string    `json:"id"         db:"id"`
	Name      string    `json:"name"       db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks the site identity fields.
func (s *Site) Validate() error {
	s.ID = strings.TrimSpace(s.ID)
	s.Name = strings.TrimSpace(s.Name)
	if s.ID == "" {
		return errors.New("site id is required")
	}
	if s.Name == "" {
		return errors.New("site name is required")
	}
	if utf8.RuneCountInString(s.Name) > maxSiteNameLen {
		return errors.New("site name must be 255 characters or fewer")
	}
	return nil
}
