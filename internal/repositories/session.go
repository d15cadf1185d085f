package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
)

const sessionColumns = `id, sequence, session_id, mood_prompt, status, playlist_id, playlist_url, error_message, created_at, updated_at, deleted_at`

var _ models.Repository[*models.Session] = (*SessionRepository)(nil)

// SessionRepository implements models.Repository[*models.Session] for the local session cache.
//
// Handles session CRUD operations with soft delete support and lookups by backend session id.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository with the given database connection
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// NextSequence reserves the next session sequence number
func (r *SessionRepository) NextSequence() (int, error) {
	return NextSequence(r.db, "sessions")
}

// Create inserts a new session with a generated ID. A zero sequence is allocated here.
func (r *SessionRepository) Create(session *models.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if session.Sequence() == 0 {
		sequence, err := r.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to generate sequence: %w", err)
		}
		session.SetSequence(sequence)
	}

	id := shared.GenerateID()
	session.SetID(id)

	query := `
		INSERT INTO sessions (id, sequence, session_id, mood_prompt, status, playlist_id, playlist_url, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		id,
		session.Sequence(),
		session.SessionID(),
		session.MoodPrompt(),
		session.Status(),
		nullString(session.PlaylistID()),
		nullString(session.PlaylistURL()),
		nullString(session.ErrorMessage()),
		session.CreatedAt(),
		session.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	return nil
}

// Get retrieves a session by ID, excluding soft-deleted sessions
func (r *SessionRepository) Get(id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ? AND deleted_at IS NULL`
	return r.scan(r.db.QueryRow(query, id), id)
}

// GetBySessionID retrieves a session by its backend session id
func (r *SessionRepository) GetBySessionID(sessionID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = ? AND deleted_at IS NULL`
	return r.scan(r.db.QueryRow(query, sessionID), sessionID)
}

// Update stores the session's mutable fields
func (r *SessionRepository) Update(session *models.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	session.SetUpdatedAt(now)

	query := `
		UPDATE sessions
		SET mood_prompt = ?, status = ?, playlist_id = ?, playlist_url = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		session.MoodPrompt(),
		session.Status(),
		nullString(session.PlaylistID()),
		nullString(session.PlaylistURL()),
		nullString(session.ErrorMessage()),
		now,
		session.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrSessionNotFound, session.ID())
	}

	return nil
}

// Delete soft-deletes a session by ID
func (r *SessionRepository) Delete(id string) error {
	return softDelete(r.db, "sessions", id)
}

// List retrieves sessions matching the given criteria, newest first.
//
// Supported criteria: "status" (string), "active" (bool, true keeps non-terminal sessions) and
// "limit" (int).
func (r *SessionRepository) List(criteria map[string]any) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE deleted_at IS NULL`
	args := []any{}

	if status, ok := criteria["status"].(string); ok && status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	if active, ok := criteria["active"].(bool); ok && active {
		query += " AND status NOT IN (?, ?, ?)"
		args = append(args, models.StatusCompleted, models.StatusFailed, models.StatusCancelled)
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return sessions, nil
}

func (r *SessionRepository) scan(row *sql.Row, key string) (*models.Session, error) {
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrSessionNotFound, key)
	}
	return session, err
}

type scanner interface {
	Scan(dest ...any) error
}

// scanSession scans a single row into a [models.Session]
func scanSession(row scanner) (*models.Session, error) {
	var (
		id          string
		sequence    int
		sessionID   string
		moodPrompt  string
		status      string
		playlistID  sql.NullString
		playlistURL sql.NullString
		errorMsg    sql.NullString
		createdAt   time.Time
		updatedAt   time.Time
		deletedAt   sql.NullTime
	)

	err := row.Scan(&id, &sequence, &sessionID, &moodPrompt, &status, &playlistID, &playlistURL, &errorMsg, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	session := models.NewSession(sequence, sessionID, moodPrompt)
	session.SetID(id)
	session.SetStatus(status)
	session.SetPlaylist(playlistID.String, playlistURL.String)
	session.SetErrorMessage(errorMsg.String)
	session.SetCreatedAt(createdAt)
	session.SetUpdatedAt(updatedAt)
	if deletedAt.Valid {
		session.SetDeletedAt(&deletedAt.Time)
	}

	return session, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
