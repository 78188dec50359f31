package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes session and message writes to avoid SQLITE_BUSY
	retry   shared.Retry
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets readers proceed while a write is in flight.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetry}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS learners (
		learner_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		learner_id TEXT NOT NULL,
		scenario_id TEXT NOT NULL,
		discipline TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		progress_json TEXT NOT NULL,
		missions_json TEXT NOT NULL,
		evaluation_json TEXT,
		evaluated_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_learner ON sessions(learner_id, last_activity_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_idle ON sessions(status, last_activity_at);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tags_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
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

// GetLearner retrieves a learner by ID.
func (s *SQLiteStore) GetLearner(ctx context.Context, learnerID string) (*domain.Learner, error) {
	query := `
		SELECT learner_id, display_name, last_seen_at, created_at, updated_at
		FROM learners WHERE learner_id = ?`

	var learner domain.Learner
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, learnerID).Scan(
		&learner.LearnerID, &learner.DisplayName, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan learner row: %w", err)
	}

	learner.LastSeenAt = fromMillis(lastSeen)
	learner.CreatedAt = fromMillis(createdAt)
	learner.UpdatedAt = fromMillis(updatedAt)
	return &learner, nil
}

// UpsertLearner creates or updates a learner record.
func (s *SQLiteStore) UpsertLearner(ctx context.Context, learner *domain.Learner) error {
	query := `
	INSERT INTO learners (learner_id, display_name, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(learner_id) DO UPDATE SET
		display_name = excluded.display_name,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, s.retry, "upsert learner", func() error {
		_, err := s.db.ExecContext(ctx, query,
			learner.LearnerID, learner.DisplayName,
			learner.LastSeenAt.UnixMilli(), learner.CreatedAt.UnixMilli(), learner.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert learner: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a learner.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, learnerID string, lastSeen time.Time) error {
	query := `UPDATE learners SET last_seen_at = ?, updated_at = ? WHERE learner_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.UnixMilli(), time.Now().UnixMilli(), learnerID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "learner_id", learnerID)
	}
	return nil
}

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	progressJSON, missionsJSON, err := encodeSessionState(session)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO sessions (
		session_id, learner_id, scenario_id, discipline, status,
		started_at, last_activity_at, progress_json, missions_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, s.retry, "create session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.ID, session.LearnerID, session.ScenarioID, session.Discipline, string(session.Status),
			session.StartedAt.UnixMilli(), session.LastActivityAt.UnixMilli(), progressJSON, missionsJSON,
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

const sessionColumns = `session_id, learner_id, scenario_id, discipline, status,
	started_at, last_activity_at, progress_json, missions_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		session                 domain.Session
		status                  string
		startedAt, lastActivity int64
		progressJSON            string
		missionsJSON            string
	)
	if err := row.Scan(
		&session.ID, &session.LearnerID, &session.ScenarioID, &session.Discipline, &status,
		&startedAt, &lastActivity, &progressJSON, &missionsJSON,
	); err != nil {
		return nil, err
	}

	session.Status = domain.SessionStatus(status)
	session.StartedAt = fromMillis(startedAt)
	session.LastActivityAt = fromMillis(lastActivity)
	if err := json.Unmarshal([]byte(progressJSON), &session.Progress); err != nil {
		return nil, fmt.Errorf("decode progress for %s: %w", session.ID, err)
	}
	if err := json.Unmarshal([]byte(missionsJSON), &session.MissionStatus); err != nil {
		return nil, fmt.Errorf("decode missions for %s: %w", session.ID, err)
	}
	if session.MissionStatus == nil {
		session.MissionStatus = []domain.MissionStatus{}
	}
	return &session, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// UpdateSession overwrites status, activity time, progress and missions.
func (s *SQLiteStore) UpdateSession(ctx context.Context, session *domain.Session) error {
	progressJSON, missionsJSON, err := encodeSessionState(session)
	if err != nil {
		return err
	}

	query := `
	UPDATE sessions SET
		status = ?, last_activity_at = ?, progress_json = ?, missions_json = ?
	WHERE session_id = ?`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, s.retry, "update session", func() error {
		result, err := s.db.ExecContext(ctx, query,
			string(session.Status), session.LastActivityAt.UnixMilli(), progressJSON, missionsJSON, session.ID,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return requireRow(result, session.ID)
	})
}

// ListSessions returns a learner's sessions, most recently active first.
func (s *SQLiteStore) ListSessions(ctx context.Context, learnerID string) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE learner_id = ? ORDER BY last_activity_at DESC, session_id`

	rows, err := s.db.QueryContext(ctx, query, learnerID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]*domain.Session, error) {
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	sessions := []*domain.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// AppendMessage stores a message unless one with the same ID exists.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) (bool, error) {
	var tagsJSON any
	if len(msg.Tags) > 0 {
		data, err := json.Marshal(msg.Tags)
		if err != nil {
			return false, fmt.Errorf("encode tags: %w", err)
		}
		tagsJSON = string(data)
	}

	query := `
	INSERT INTO messages (message_id, session_id, role, content, tags_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(message_id) DO NOTHING`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var inserted bool
	err := shared.RetryOnConflict(ctx, s.retry, "append message", func() error {
		result, err := s.db.ExecContext(ctx, query,
			msg.ID, msg.SessionID, string(msg.Role), msg.Content, tagsJSON, msg.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// ListMessages returns a session's messages in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	query := `
		SELECT message_id, session_id, role, content, tags_json, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			msg       domain.Message
			role      string
			tagsJSON  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &tagsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = fromMillis(createdAt)
		if tagsJSON.Valid && tagsJSON.String != "" {
			if err := json.Unmarshal([]byte(tagsJSON.String), &msg.Tags); err != nil {
				return nil, fmt.Errorf("decode tags for %s: %w", msg.ID, err)
			}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// SaveEvaluation stores the evaluation and marks the session evaluated.
func (s *SQLiteStore) SaveEvaluation(ctx context.Context, eval *domain.Evaluation, at time.Time) error {
	data, err := json.Marshal(eval)
	if err != nil {
		return fmt.Errorf("encode evaluation: %w", err)
	}

	query := `
	UPDATE sessions SET
		status = ?, evaluation_json = ?, evaluated_at = ?, last_activity_at = ?
	WHERE session_id = ?`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, s.retry, "save evaluation", func() error {
		result, err := s.db.ExecContext(ctx, query,
			string(domain.StatusEvaluated), string(data), at.UnixMilli(), at.UnixMilli(), eval.SessionID,
		)
		if err != nil {
			return fmt.Errorf("save evaluation: %w", err)
		}
		return requireRow(result, eval.SessionID)
	})
}

// GetEvaluation retrieves a session's evaluation.
func (s *SQLiteStore) GetEvaluation(ctx context.Context, sessionID string) (*domain.Evaluation, error) {
	var data sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT evaluation_json FROM sessions WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan evaluation: %w", err)
	}
	if !data.Valid || data.String == "" {
		return nil, nil
	}

	var eval domain.Evaluation
	if err := json.Unmarshal([]byte(data.String), &eval); err != nil {
		return nil, fmt.Errorf("decode evaluation for %s: %w", sessionID, err)
	}
	return &eval, nil
}

// ExpireIdleSessions marks active sessions idle since before cutoff as completed.
func (s *SQLiteStore) ExpireIdleSessions(ctx context.Context, cutoff time.Time) ([]*domain.Session, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin expiry: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE status = ? AND last_activity_at < ? ORDER BY last_activity_at`,
		string(domain.StatusActive), cutoff.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	expired, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return expired, nil
	}

	for _, session := range expired {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE session_id = ? AND status = ?`,
			string(domain.StatusCompleted), session.ID, string(domain.StatusActive),
		); err != nil {
			return nil, fmt.Errorf("complete session %s: %w", session.ID, err)
		}
		session.Status = domain.StatusCompleted
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit expiry: %w", err)
	}
	return expired, nil
}

func encodeSessionState(session *domain.Session) (string, string, error) {
	progress, err := json.Marshal(session.Progress)
	if err != nil {
		return "", "", fmt.Errorf("encode progress: %w", err)
	}
	missions := session.MissionStatus
	if missions == nil {
		missions = []domain.MissionStatus{}
	}
	missionsJSON, err := json.Marshal(missions)
	if err != nil {
		return "", "", fmt.Errorf("encode missions: %w", err)
	}
	return string(progress), string(missionsJSON), nil
}

func requireRow(result sql.Result, sessionID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
