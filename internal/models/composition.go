package models

import (
	"strings"
	"time"

	"edcomposer/internal/pkg/errors"
)

// Composition describes a renderable video composition and the props it
// accepts.
type Composition struct {
	ID               string         `json:"id"`
	Description      string         `json:"description,omitempty"`
	Width            int            `json:"width"`
	Height           int            `json:"height"`
	FPS              int            `json:"fps"`
	DurationInFrames int            `json:"durationInFrames"`
	DefaultProps     map[string]any `json:"defaultProps,omitempty"`
	RequiredProps    []string       `json:"requiredProps,omitempty"`
	CreatedAt        time.Time      `json:"createdAt,omitempty"`
	DeletedAt        *time.Time     `json:"deletedAt,omitempty"`
}

// DurationSeconds is the playback length at the composition frame rate.
func (c Composition) DurationSeconds() float64 {
	if c.FPS <= 0 {
		return 0
	}
	return float64(c.DurationInFrames) / float64(c.FPS)
}

// Validate checks the fields a render needs. It trims ID in place.
func (c *Composition) Validate() error {
	c.ID = strings.TrimSpace(c.ID)
	switch {
	case c.ID == "":
		return errors.ValidationField("id", "composition id is required")
	case c.Width <= 0 || c.Height <= 0:
		return errors.ValidationField("width", "width and height must be positive")
	case c.FPS <= 0:
		return errors.ValidationField("fps", "fps must be positive")
	case c.DurationInFrames <= 0:
		return errors.ValidationField("durationInFrames", "duration must be at least one frame")
	}
	for _, key := range c.RequiredProps {
		if strings.TrimSpace(key) == "" {
			return errors.ValidationField("requiredProps", "required prop names must not be blank")
		}
	}
	return nil
}
