package models

import (
	"time"

	"github.com/google/uuid"
)

// Contestant is a candidate running for exactly one post.
// Votes is a denormalized counter; the votes table is the ledger.
type Contestant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	PostID    uuid.UUID `json:"post_id"`
	Image     string    `json:"image,omitempty"`
	ImageKey  string    `json:"-"`
	Bio       string    `json:"bio,omitempty"`
	Votes     int64     `json:"votes"`
	CreatedAt time.Time `json:"created_at"`
}
