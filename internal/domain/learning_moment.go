package domain

import "time"

// LearningMoment records a knowledge gain acknowledged during an AI turn.
type LearningMoment struct {
	ID           int64     `json:"id"`
	SessionID    int64     `json:"session_id"`
	TopicID      int64     `json:"topic_id"`
	WisdomPoints int       `json:"wisdom_points"`
	Title        string    `json:"title"`
	Details      string    `json:"details"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublicLearningMoment is the client-facing projection of a LearningMoment.
type PublicLearningMoment struct {
	WisdomPoints int       `json:"wisdom_points"`
	Title        string    `json:"title"`
	Details      string    `json:"details"`
	CreatedAt    time.Time `json:"created_at"`
}

// Public strips internal identifiers.
func (m LearningMoment) Public() PublicLearningMoment {
	return PublicLearningMoment{
		WisdomPoints: m.WisdomPoints,
		Title:        m.Title,
		Details:      m.Details,
		CreatedAt:    m.CreatedAt,
	}
}
