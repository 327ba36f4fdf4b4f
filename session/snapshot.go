package session

import (
	"time"

	"github.com/GCYYfun/MengLong-sub001/core"
)

// Snapshot is a point-in-time copy of a Session.
type Snapshot struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Turns     int            `json:"turns"`
	Messages  []core.Message `json:"messages"`
}
