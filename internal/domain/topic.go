package domain

import "time"

const (
	// MaxProficiency marks a topic as mastered.
	MaxProficiency = 100
	// MinProficiency is the lowest stored proficiency.
	MinProficiency = 0
)

// Topic is a named area of knowledge the learner persona has picked up in a session.
type Topic struct {
	ID          int64     `json:"id"`
	SessionID   int64     `json:"session_id"`
	Name        string    `json:"topic_name"`
	Proficiency int       `json:"proficiency"`
	CreatedAt   time.Time `json:"created_at"`
}

// Mastered reports whether the topic reached full proficiency.
func (t Topic) Mastered() bool {
	return t.Proficiency >= MaxProficiency
}

// PublicTopic is the client-facing projection of a Topic without internal identifiers.
type PublicTopic struct {
	Name        string    `json:"topic_name"`
	Proficiency int       `json:"proficiency"`
	CreatedAt   time.Time `json:"created_at"`
}

// Public strips internal identifiers.
func (t Topic) Public() PublicTopic {
	return PublicTopic{Name: t.Name, Proficiency: t.Proficiency, CreatedAt: t.CreatedAt}
}

// ClampProficiency bounds p to the stored range.
func ClampProficiency(p int) int {
	if p < MinProficiency {
		return MinProficiency
	}
	if p > MaxProficiency {
		return MaxProficiency
	}
	return p
}
