package domain

import "time"

// Message is one entry of a session transcript.
type Message struct {
	ID        int64     `json:"-"`
	UUID      string    `json:"uuid"`
	SessionID int64     `json:"-"`
	IsHuman   bool      `json:"is_human"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
