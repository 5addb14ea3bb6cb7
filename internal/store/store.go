// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/gemini-learner/internal/domain"
)

// ErrNotFound is returned by mutations that target a row that does not exist.
// Lookups report absence as a nil result instead.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting sessions and their transcripts,
// topics and learning moments.
type Repository interface {
	// ResolveSession returns the session matching both token and origin address,
	// or nil if there is none.
	ResolveSession(ctx context.Context, token, originAddress string) (*domain.Session, error)

	// GetSession retrieves a session by its row ID, or nil if there is none.
	GetSession(ctx context.Context, sessionID int64) (*domain.Session, error)

	// CreateSession allocates a fresh session for an origin address.
	CreateSession(ctx context.Context, originAddress string) (*domain.Session, error)

	// RateCounts counts human messages created at or after since, for the session
	// and for every session sharing its origin address.
	RateCounts(ctx context.Context, session *domain.Session, since time.Time) (domain.RateCounts, error)

	// SetBusy flips the busy flag. Updating a missing session is a no-op.
	SetBusy(ctx context.Context, sessionID int64, busy bool) error

	// AddReward increments the wisdom points of a session, never below zero.
	AddReward(ctx context.Context, sessionID int64, delta int) error

	// UpdateSessionAge sets the learner age used for prompt construction.
	UpdateSessionAge(ctx context.Context, sessionID int64, age int) error

	// ClearStaleBusy clears busy flags raised before the given time.
	ClearStaleBusy(ctx context.Context, before time.Time) (int64, error)

	// AddMessage appends a message to a session transcript.
	AddMessage(ctx context.Context, sessionID int64, isHuman bool, text string) (*domain.Message, error)

	// ListMessages returns the newest limit messages in ascending creation order.
	ListMessages(ctx context.Context, sessionID int64, limit int) ([]domain.Message, error)

	// ListTeachableTopics returns topics below full proficiency, highest first.
	ListTeachableTopics(ctx context.Context, sessionID int64, limit int) ([]domain.Topic, error)

	// GetTopicByName returns the oldest topic with an exact name match, or nil.
	GetTopicByName(ctx context.Context, sessionID int64, name string) (*domain.Topic, error)

	// AddTopic creates a topic and returns its ID. Duplicate names are allowed.
	AddTopic(ctx context.Context, sessionID int64, name string, proficiency int) (int64, error)

	// UpdateTopicProficiency sets the proficiency of a topic.
	UpdateTopicProficiency(ctx context.Context, topicID int64, proficiency int) error

	// AddLearningMoment records a learning moment and returns its ID.
	AddLearningMoment(ctx context.Context, moment *domain.LearningMoment) (int64, error)

	// ListLearningMoments returns the newest limit learning moments, newest first.
	ListLearningMoments(ctx context.Context, sessionID int64, limit int) ([]domain.LearningMoment, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
