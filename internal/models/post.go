package models

import (
	"time"

	"github.com/google/uuid"
)

// Post is an electable position, e.g. "President".
type Post struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
