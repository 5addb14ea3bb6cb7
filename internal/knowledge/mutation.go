package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/gemini-learner/internal/domain"
)

// MutationKind identifies how a topic changed.
type MutationKind string

const (
	// MutationAdded marks a newly learned topic.
	MutationAdded MutationKind = "added"
	// MutationUpdated marks a proficiency change of an existing topic.
	MutationUpdated MutationKind = "updated"
)

// Mutation describes a change applied to the knowledge model during a turn.
type Mutation struct {
	Kind        MutationKind
	TopicID     int64
	Name        string
	Proficiency int
	Previous    int
	Reward      int
}

// Learn adds a new topic and credits its initial proficiency as reward.
func (m *Model) Learn(ctx context.Context, sessionID int64, name string, initial int) (*Mutation, error) {
	initial = domain.ClampProficiency(initial)
	id, err := m.AddTopic(ctx, sessionID, name, initial)
	if err != nil {
		return nil, err
	}

	mut := &Mutation{
		Kind:        MutationAdded,
		TopicID:     id,
		Name:        name,
		Proficiency: initial,
		Reward:      initial,
	}
	m.recordGain(ctx, sessionID, mut, fmt.Sprintf("Learned about %s", name))
	return mut, nil
}

// Improve raises the proficiency of an existing topic and credits the gain.
// It returns nil when no topic with that name exists.
func (m *Model) Improve(ctx context.Context, sessionID int64, name string, proficiency int) (*Mutation, error) {
	proficiency = domain.ClampProficiency(proficiency)
	prev, err := m.UpdateTopic(ctx, sessionID, name, proficiency)
	if err != nil || prev == nil {
		return nil, err
	}

	mut := &Mutation{
		Kind:        MutationUpdated,
		TopicID:     prev.ID,
		Name:        name,
		Proficiency: proficiency,
		Previous:    prev.Proficiency,
		Reward:      max(0, proficiency-prev.Proficiency),
	}
	m.recordGain(ctx, sessionID, mut, fmt.Sprintf("Got better at %s", name))
	return mut, nil
}

// recordGain writes the audit trail for a mutation. Failures are logged only:
// the topic change already happened and is the source of truth.
func (m *Model) recordGain(ctx context.Context, sessionID int64, mut *Mutation, title string) {
	if mut.Reward <= 0 {
		return
	}

	details := fmt.Sprintf("%s: %d%% -> %d%%", mut.Name, mut.Previous, mut.Proficiency)
	if _, err := m.repo.AddLearningMoment(ctx, &domain.LearningMoment{
		SessionID:    sessionID,
		TopicID:      mut.TopicID,
		WisdomPoints: mut.Reward,
		Title:        title,
		Details:      details,
	}); err != nil {
		slog.Warn("Failed to record learning moment", "session_id", sessionID, "topic", mut.Name, "error", err)
	}

	if err := m.repo.AddReward(ctx, sessionID, mut.Reward); err != nil {
		slog.Warn("Failed to add reward", "session_id", sessionID, "delta", mut.Reward, "error", err)
	}
}
