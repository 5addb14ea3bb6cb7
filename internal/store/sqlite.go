package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/gemini-learner/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	return newSQLiteStore(dbPath)
}

func newSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS session (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		ip_address TEXT NOT NULL,
		age INTEGER NOT NULL DEFAULT 0,
		is_busy INTEGER NOT NULL DEFAULT 0,
		busy_since INTEGER,
		wisdom_points INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_ip ON session(ip_address);
	CREATE INDEX IF NOT EXISTS idx_session_busy ON session(busy_since) WHERE is_busy = 1;

	CREATE TABLE IF NOT EXISTS message (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		uuid TEXT NOT NULL,
		is_human INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_message_session_created ON message(session_id, created_at);

	CREATE TABLE IF NOT EXISTS session_topic (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		topic_name TEXT NOT NULL,
		proficiency INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_topic_session ON session_topic(session_id, topic_name);

	CREATE TABLE IF NOT EXISTS session_learning_moment (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		topic_id INTEGER NOT NULL,
		wisdom_points INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL,
		details TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_moment_session ON session_learning_moment(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const sessionColumns = `id, uuid, ip_address, age, is_busy, busy_since, wisdom_points, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var busySince sql.NullInt64
	var createdAt int64

	if err := row.Scan(
		&session.ID, &session.Token, &session.OriginAddress, &session.Age,
		&session.Busy, &busySince, &session.WisdomPoints, &createdAt,
	); err != nil {
		return nil, err
	}

	session.CreatedAt = time.UnixMilli(createdAt)
	if busySince.Valid {
		ts := time.UnixMilli(busySince.Int64)
		session.BusySince = &ts
	}
	return &session, nil
}

// ResolveSession returns the session only if both token and origin match.
func (s *SQLiteStore) ResolveSession(ctx context.Context, token, originAddress string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM session WHERE uuid = ? AND ip_address = ? LIMIT 1`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, token, originAddress))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by row ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID int64) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM session WHERE id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// CreateSession allocates a new session token for an origin address.
func (s *SQLiteStore) CreateSession(ctx context.Context, originAddress string) (*domain.Session, error) {
	now := s.now()
	session := &domain.Session{
		Token:         uuid.NewString(),
		OriginAddress: originAddress,
		CreatedAt:     time.UnixMilli(now.UnixMilli()),
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO session (uuid, ip_address, created_at) VALUES (?, ?, ?)`,
		session.Token, session.OriginAddress, now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	if session.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("session insert id: %w", err)
	}
	return session, nil
}

// RateCounts counts human messages since the given time.
func (s *SQLiteStore) RateCounts(ctx context.Context, session *domain.Session, since time.Time) (domain.RateCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM message m
			  WHERE m.session_id = ? AND m.is_human = 1 AND m.created_at >= ?),
			(SELECT COUNT(*) FROM message m
			  JOIN session s ON s.id = m.session_id
			  WHERE s.ip_address = ? AND m.is_human = 1 AND m.created_at >= ?)`

	var counts domain.RateCounts
	cutoff := since.UnixMilli()
	err := s.db.QueryRowContext(ctx, query, session.ID, cutoff, session.OriginAddress, cutoff).
		Scan(&counts.PerSession, &counts.PerOrigin)
	if err != nil {
		return domain.RateCounts{}, fmt.Errorf("count messages: %w", err)
	}
	return counts, nil
}

// SetBusy flips the busy flag and tracks when it was raised.
func (s *SQLiteStore) SetBusy(ctx context.Context, sessionID int64, busy bool) error {
	var busySince any
	if busy {
		busySince = s.now().UnixMilli()
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE session SET is_busy = ?, busy_since = ? WHERE id = ?`,
		busy, busySince, sessionID,
	)
	if err != nil {
		return fmt.Errorf("update busy: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("SetBusy affected 0 rows", "session_id", sessionID, "busy", busy)
	}
	return nil
}

// AddReward increments wisdom points, clamping the total at zero.
func (s *SQLiteStore) AddReward(ctx context.Context, sessionID int64, delta int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE session SET wisdom_points = MAX(0, wisdom_points + ?) WHERE id = ?`,
		delta, sessionID,
	)
	if err != nil {
		return fmt.Errorf("add reward: %w", err)
	}
	return nil
}

// UpdateSessionAge sets the learner age.
func (s *SQLiteStore) UpdateSessionAge(ctx context.Context, sessionID int64, age int) error {
	result, err := s.db.ExecContext(ctx, `UPDATE session SET age = ? WHERE id = ?`, age, sessionID)
	if err != nil {
		return fmt.Errorf("update age: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearStaleBusy clears busy flags raised before the cutoff.
func (s *SQLiteStore) ClearStaleBusy(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE session SET is_busy = 0, busy_since = NULL WHERE is_busy = 1 AND (busy_since IS NULL OR busy_since < ?)`,
		before.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("clear stale busy: %w", err)
	}
	return result.RowsAffected()
}

// AddMessage appends a message to a session transcript.
func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID int64, isHuman bool, text string) (*domain.Message, error) {
	now := s.now()
	msg := &domain.Message{
		UUID:      uuid.NewString(),
		SessionID: sessionID,
		IsHuman:   isHuman,
		Text:      text,
		CreatedAt: time.UnixMilli(now.UnixMilli()),
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO message (session_id, uuid, is_human, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, msg.UUID, isHuman, text, now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if msg.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("message insert id: %w", err)
	}
	return msg, nil
}

// ListMessages returns the newest messages of a session in ascending order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID int64, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, session_id, uuid, is_human, text, created_at FROM (
			SELECT id, session_id, uuid, is_human, text, created_at
			FROM message WHERE session_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	messages := make([]domain.Message, 0, limit)
	for rows.Next() {
		var msg domain.Message
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.UUID, &msg.IsHuman, &msg.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// ListTeachableTopics returns topics below mastery ordered by proficiency descending.
func (s *SQLiteStore) ListTeachableTopics(ctx context.Context, sessionID int64, limit int) ([]domain.Topic, error) {
	query := `
		SELECT id, session_id, topic_name, proficiency, created_at
		FROM session_topic
		WHERE session_id = ? AND proficiency < ?
		ORDER BY proficiency DESC, id ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, domain.MaxProficiency, limit)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close topic rows", "error", closeErr)
		}
	}()

	topics := make([]domain.Topic, 0)
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic row: %w", err)
		}
		topics = append(topics, *topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}

func scanTopic(row rowScanner) (*domain.Topic, error) {
	var topic domain.Topic
	var createdAt int64
	if err := row.Scan(&topic.ID, &topic.SessionID, &topic.Name, &topic.Proficiency, &createdAt); err != nil {
		return nil, err
	}
	topic.CreatedAt = time.UnixMilli(createdAt)
	return &topic, nil
}

// GetTopicByName returns the oldest topic in the session with the given name.
func (s *SQLiteStore) GetTopicByName(ctx context.Context, sessionID int64, name string) (*domain.Topic, error) {
	query := `
		SELECT id, session_id, topic_name, proficiency, created_at
		FROM session_topic WHERE session_id = ? AND topic_name = ?
		ORDER BY id ASC LIMIT 1`

	topic, err := scanTopic(s.db.QueryRowContext(ctx, query, sessionID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan topic row: %w", err)
	}
	return topic, nil
}

// AddTopic inserts a new topic.
func (s *SQLiteStore) AddTopic(ctx context.Context, sessionID int64, name string, proficiency int) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO session_topic (session_id, topic_name, proficiency, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, name, proficiency, s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert topic: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("topic insert id: %w", err)
	}
	return id, nil
}

// UpdateTopicProficiency sets a topic's proficiency.
func (s *SQLiteStore) UpdateTopicProficiency(ctx context.Context, topicID int64, proficiency int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE session_topic SET proficiency = ? WHERE id = ?`, proficiency, topicID,
	)
	if err != nil {
		return fmt.Errorf("update topic: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AddLearningMoment records a learning moment.
func (s *SQLiteStore) AddLearningMoment(ctx context.Context, moment *domain.LearningMoment) (int64, error) {
	createdAt := moment.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO session_learning_moment (session_id, topic_id, wisdom_points, title, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		moment.SessionID, moment.TopicID, moment.WisdomPoints, moment.Title, moment.Details, createdAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert learning moment: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("learning moment insert id: %w", err)
	}
	return id, nil
}

// ListLearningMoments returns learning moments newest first.
func (s *SQLiteStore) ListLearningMoments(ctx context.Context, sessionID int64, limit int) ([]domain.LearningMoment, error) {
	query := `
		SELECT id, session_id, topic_id, wisdom_points, title, details, created_at
		FROM session_learning_moment WHERE session_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query learning moments: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close learning moment rows", "error", closeErr)
		}
	}()

	moments := make([]domain.LearningMoment, 0)
	for rows.Next() {
		var m domain.LearningMoment
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.TopicID, &m.WisdomPoints, &m.Title, &m.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan learning moment row: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		moments = append(moments, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate learning moments: %w", err)
	}
	return moments, nil
}
