package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/intervue/moodline/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSessionNotFound is returned when a session has no recorded samples.
var ErrSessionNotFound = errors.New("session not found")

// Store persists per-frame emotion samples grouped by interview session.
type Store struct {
	pool *pgxpool.Pool
}

// Session is one row of the session listing.
type Session struct {
	ID        string
	StartedAt time.Time
	LastSeen  time.Time
	Samples   int
}

// New connects to the database and ensures the schema exists.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Auto-migration
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS interview_sessions (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ DEFAULT NOW(),
			last_seen TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS emotion_samples (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES interview_sessions(id) ON DELETE CASCADE,
			captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			face_count INT NOT NULL,
			dominant_emotion TEXT,
			confidence DOUBLE PRECISION,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS emotion_samples_session_id_idx ON emotion_samples (session_id);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// RecordSample stores one detection result for sessionID, creating the
// session on first use.
func (s *Store) RecordSample(ctx context.Context, sessionID string, res types.Result) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO interview_sessions (id, started_at, last_seen)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET last_seen = NOW()
	`, sessionID); err != nil {
		return err
	}

	var confidence *float64
	for _, f := range res.Faces {
		if confidence == nil || f.Confidence > *confidence {
			c := f.Confidence
			confidence = &c
		}
	}
	var errText *string
	if res.Error != "" {
		errText = &res.Error
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO emotion_samples (session_id, face_count, dominant_emotion, confidence, error)
		VALUES ($1, $2, $3, $4, $5)
	`, sessionID, len(res.Faces), res.DominantEmotion, confidence, errText); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SessionSummary returns the emotion distribution of one session, most
// frequent first. Samples without a dominant emotion only count toward Samples.
func (s *Store) SessionSummary(ctx context.Context, sessionID string) (types.SessionSummary, error) {
	sum := types.SessionSummary{SessionID: sessionID, Emotions: []types.EmotionCount{}}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE face_count > 0)
		FROM emotion_samples WHERE session_id = $1
	`, sessionID).Scan(&sum.Samples, &sum.WithFace)
	if err != nil {
		return sum, err
	}
	if sum.Samples == 0 {
		return sum, ErrSessionNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT dominant_emotion, COUNT(*) AS n
		FROM emotion_samples
		WHERE session_id = $1 AND dominant_emotion IS NOT NULL
		GROUP BY dominant_emotion
		ORDER BY n DESC, dominant_emotion ASC
	`, sessionID)
	if err != nil {
		return sum, err
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.EmotionCount, error) {
		var c types.EmotionCount
		err := row.Scan(&c.Emotion, &c.Count)
		return c, err
	})
	if err != nil {
		return sum, err
	}

	sum.Emotions = counts
	if len(counts) > 0 {
		top := counts[0].Emotion
		sum.Dominant = &top
	}
	return sum, nil
}

// ListSessions returns every recorded session, most recent first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.started_at, s.last_seen, COUNT(e.id)
		FROM interview_sessions s
		LEFT JOIN emotion_samples e ON e.session_id = s.id
		GROUP BY s.id
		ORDER BY s.last_seen DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var ss Session
		if err := rows.Scan(&ss.ID, &ss.StartedAt, &ss.LastSeen, &ss.Samples); err != nil {
			return nil, err
		}
		sessions = append(sessions, ss)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and its samples.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM interview_sessions WHERE id = $1", sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Reset drops all application tables.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS emotion_samples CASCADE;
		DROP TABLE IF EXISTS interview_sessions CASCADE;
	`)
	return err
}
