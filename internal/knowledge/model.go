// Package knowledge maintains the per-session topic proficiency model.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/gemini-learner/internal/domain"
	"github.com/ashureev/gemini-learner/internal/store"
)

const (
	// TeachableLimit caps the topics returned by ListTeachable.
	TeachableLimit = 100
	// PlaceholderTopicName names the target used when a session has no teachable topics.
	PlaceholderTopicName = "General Knowledge"
)

// Model reads and mutates session topics.
type Model struct {
	repo store.Repository
}

// New creates a knowledge model backed by repo.
func New(repo store.Repository) *Model {
	return &Model{repo: repo}
}

// ListTeachable returns topics below mastery, highest proficiency first.
func (m *Model) ListTeachable(ctx context.Context, sessionID int64) ([]domain.Topic, error) {
	topics, err := m.repo.ListTeachableTopics(ctx, sessionID, TeachableLimit)
	if err != nil {
		return nil, fmt.Errorf("list teachable topics: %w", err)
	}
	return topics, nil
}

// SelectTarget picks the teachable topic with the lowest proficiency. Ties go to
// the first one in the given order. Without teachable topics a placeholder
// "General Knowledge" topic at 0 is returned.
func SelectTarget(topics []domain.Topic) domain.Topic {
	var (
		target domain.Topic
		found  bool
	)
	for _, t := range topics {
		if t.Mastered() {
			continue
		}
		if !found || t.Proficiency < target.Proficiency {
			target = t
			found = true
		}
	}
	if !found {
		return domain.Topic{Name: PlaceholderTopicName, Proficiency: 0}
	}
	return target
}

// AddTopic creates a topic. Duplicate names are not rejected.
func (m *Model) AddTopic(ctx context.Context, sessionID int64, name string, initial int) (int64, error) {
	id, err := m.repo.AddTopic(ctx, sessionID, name, domain.ClampProficiency(initial))
	if err != nil {
		return 0, fmt.Errorf("add topic: %w", err)
	}
	return id, nil
}

// UpdateTopic sets the proficiency of the first topic named exactly name.
// It returns the previous topic state, or nil when nothing matched.
func (m *Model) UpdateTopic(ctx context.Context, sessionID int64, name string, proficiency int) (*domain.Topic, error) {
	topic, err := m.repo.GetTopicByName(ctx, sessionID, name)
	if err != nil {
		return nil, fmt.Errorf("find topic: %w", err)
	}
	if topic == nil {
		slog.Debug("UpdateTopic matched no topic", "session_id", sessionID, "topic", name)
		return nil, nil
	}

	err = m.repo.UpdateTopicProficiency(ctx, topic.ID, domain.ClampProficiency(proficiency))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update topic: %w", err)
	}
	return topic, nil
}
