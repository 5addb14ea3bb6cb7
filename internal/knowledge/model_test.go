package knowledge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ashureev/gemini-learner/internal/domain"
	"github.com/ashureev/gemini-learner/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T) (*Model, store.Repository, *domain.Session) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	sess, err := repo.CreateSession(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	return New(repo), repo, sess
}

func TestSelectTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		topics []domain.Topic
		want   domain.Topic
	}{
		{
			name:   "lowest wins and first tie is kept",
			topics: []domain.Topic{{Name: "a", Proficiency: 80}, {Name: "b", Proficiency: 30}, {Name: "c", Proficiency: 30}},
			want:   domain.Topic{Name: "b", Proficiency: 30},
		},
		{
			name:   "placeholder when empty",
			topics: nil,
			want:   domain.Topic{Name: PlaceholderTopicName, Proficiency: 0},
		},
		{
			name:   "mastered topics are skipped",
			topics: []domain.Topic{{Name: "done", Proficiency: 100}, {Name: "open", Proficiency: 99}},
			want:   domain.Topic{Name: "open", Proficiency: 99},
		},
		{
			name:   "only mastered falls back to placeholder",
			topics: []domain.Topic{{Name: "done", Proficiency: 100}},
			want:   domain.Topic{Name: PlaceholderTopicName, Proficiency: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SelectTarget(tt.topics)
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, tt.want.Proficiency, got.Proficiency)
		})
	}
}

func TestLearnCreditsInitialProficiency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, repo, sess := newTestModel(t)

	mut, err := m.Learn(ctx, sess.ID, "Photosynthesis", 8)
	require.NoError(t, err)
	require.NotNil(t, mut)
	assert.Equal(t, MutationAdded, mut.Kind)
	assert.Equal(t, 8, mut.Reward)
	assert.NotZero(t, mut.TopicID)

	topics, err := m.ListTeachable(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "Photosynthesis", topics[0].Name)
	assert.Equal(t, 8, topics[0].Proficiency)

	got, err := repo.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.WisdomPoints)

	moments, err := repo.ListLearningMoments(ctx, sess.ID, 10)
	require.NoError(t, err)
	require.Len(t, moments, 1)
	assert.Equal(t, mut.TopicID, moments[0].TopicID)
	assert.Equal(t, 8, moments[0].WisdomPoints)
}

func TestLearnClampsProficiency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _, sess := newTestModel(t)

	mut, err := m.Learn(ctx, sess.ID, "Oceans", 250)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxProficiency, mut.Proficiency)
}

func TestImproveCreditsGainOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, repo, sess := newTestModel(t)

	_, err := m.Learn(ctx, sess.ID, "Volcanoes", 30)
	require.NoError(t, err)

	mut, err := m.Improve(ctx, sess.ID, "Volcanoes", 45)
	require.NoError(t, err)
	require.NotNil(t, mut)
	assert.Equal(t, MutationUpdated, mut.Kind)
	assert.Equal(t, 30, mut.Previous)
	assert.Equal(t, 15, mut.Reward)

	// A decrease is applied but earns nothing.
	mut, err = m.Improve(ctx, sess.ID, "Volcanoes", 40)
	require.NoError(t, err)
	require.NotNil(t, mut)
	assert.Zero(t, mut.Reward)

	got, err := repo.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 45, got.WisdomPoints)

	moments, err := repo.ListLearningMoments(ctx, sess.ID, 10)
	require.NoError(t, err)
	assert.Len(t, moments, 2)
}

func TestImproveUnknownTopicIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, repo, sess := newTestModel(t)

	mut, err := m.Improve(ctx, sess.ID, "Unknown", 50)
	require.NoError(t, err)
	assert.Nil(t, mut)

	topics, err := repo.ListTeachableTopics(ctx, sess.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, topics)
}

func TestUpdateTopicTouchesFirstMatchOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, repo, sess := newTestModel(t)

	firstID, err := m.AddTopic(ctx, sess.ID, "Stars", 10)
	require.NoError(t, err)
	_, err = m.AddTopic(ctx, sess.ID, "Stars", 20)
	require.NoError(t, err)

	prev, err := m.UpdateTopic(ctx, sess.ID, "Stars", 70)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, firstID, prev.ID)

	topics, err := repo.ListTeachableTopics(ctx, sess.ID, 10)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, 70, topics[0].Proficiency)
	assert.Equal(t, 20, topics[1].Proficiency)
}
