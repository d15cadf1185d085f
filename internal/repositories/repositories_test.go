package repositories

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	// Each pooled connection would open its own in-memory database.
	db.SetMaxOpenConns(1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

func TestSessionRepository(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSessionRepository(db)
		session := models.NewSession(0, "sess-1", "rainy sunday")

		if err := repo.Create(session); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}

		if session.ID() == "" {
			t.Error("session ID should be set after creation")
		}
		if session.Sequence() != 1 {
			t.Errorf("expected sequence 1, got %d", session.Sequence())
		}
	})

	t.Run("Create Keeps Reserved Sequence", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSessionRepository(db)
		seq, err := repo.NextSequence()
		if err != nil {
			t.Fatalf("failed to reserve sequence: %v", err)
		}

		session := models.NewSession(seq, "sess-1", "")
		if err := repo.Create(session); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
		if session.Sequence() != seq {
			t.Errorf("expected sequence %d, got %d", seq, session.Sequence())
		}
	})

	t.Run("Get", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSessionRepository(db)
		session := models.NewSession(0, "sess-1", "rainy sunday")
		if err := repo.Create(session); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}

		retrieved, err := repo.Get(session.ID())
		if err != nil {
			t.Fatalf("failed to get session: %v", err)
		}

		if retrieved.SessionID() != "sess-1" {
			t.Errorf("expected session id sess-1, got %s", retrieved.SessionID())
		}
		if retrieved.MoodPrompt() != "rainy sunday" {
			t.Errorf("expected mood prompt, got %q", retrieved.MoodPrompt())
		}
		if retrieved.Status() != models.StatusPending {
			t.Errorf("expected pending status, got %s", retrieved.Status())
		}
	})

	t.Run("GetBySessionID", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSessionRepository(db)
		session := models.NewSession(0, "sess-1", "")
		if err := repo.Create(session); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}

		retrieved, err := repo.GetBySessionID("sess-1")
		if err != nil {
			t.Fatalf("failed to get session: %v", err)
		}
		if retrieved.ID() != session.ID() {
			t.Errorf("expected ID %s, got %s", session.ID(), retrieved.ID())
		}
	})

	t.Run("Update", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSessionRepository(db)
		session := models.NewSession(0, "sess-1", "")
		if err := repo.Create(session); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}

		session.ApplyStatus(models.WorkflowStatus{Status: models.StatusCompleted})
		session.ApplyResults(&models.WorkflowResults{
			MoodPrompt: "late night drive",
			Playlist:   &models.PlaylistRef{ID: "pl-9", SpotifyURL: "https://open.spotify.com/playlist/pl-9"},
		})
		if err := repo.Update(session); err != nil {
			t.Fatalf("failed to update session: %v", err)
		}

		retrieved, err := repo.GetBySessionID("sess-1")
		if err != nil {
			t.Fatalf("failed to get session: %v", err)
		}
		if retrieved.Status() != models.StatusCompleted {
			t.Errorf("expected completed, got %s", retrieved.Status())
		}
		if retrieved.PlaylistID() != "pl-9" || retrieved.PlaylistURL() == "" {
			t.Errorf("expected playlist pl-9, got %q %q", retrieved.PlaylistID(), retrieved.PlaylistURL())
		}
		if retrieved.MoodPrompt() != "late night drive" {
			t.Errorf("expected mood prompt from results, got %q", retrieved.MoodPrompt())
		}
	})

	t.Run("Delete", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSessionRepository(db)
		session := models.NewSession(0, "sess-1", "")
		if err := repo.Create(session); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}

		if err := repo.Delete(session.ID()); err != nil {
			t.Fatalf("failed to delete session: %v", err)
		}

		if _, err := repo.Get(session.ID()); !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound for deleted session, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSessionRepository(db)
		statuses := map[string]string{
			"sess-1": models.StatusCompleted,
			"sess-2": "gathering_seeds",
			"sess-3": models.StatusFailed,
			"sess-4": models.StatusPending,
		}
		for _, id := range []string{"sess-1", "sess-2", "sess-3", "sess-4"} {
			session := models.NewSession(0, id, "")
			session.SetStatus(statuses[id])
			if err := repo.Create(session); err != nil {
				t.Fatalf("failed to create session: %v", err)
			}
		}

		tests := []struct {
			name     string
			criteria map[string]any
			want     []string
		}{
			{name: "all newest first", criteria: map[string]any{}, want: []string{"sess-4", "sess-3", "sess-2", "sess-1"}},
			{name: "by status", criteria: map[string]any{"status": models.StatusFailed}, want: []string{"sess-3"}},
			{name: "active", criteria: map[string]any{"active": true}, want: []string{"sess-4", "sess-2"}},
			{name: "limit", criteria: map[string]any{"limit": 2}, want: []string{"sess-4", "sess-3"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				sessions, err := repo.List(tt.criteria)
				if err != nil {
					t.Fatalf("failed to list sessions: %v", err)
				}
				if len(sessions) != len(tt.want) {
					t.Fatalf("expected %d sessions, got %d", len(tt.want), len(sessions))
				}
				for i, s := range sessions {
					if s.SessionID() != tt.want[i] {
						t.Errorf("position %d: expected %s, got %s", i, tt.want[i], s.SessionID())
					}
				}
			})
		}
	})
}

func TestSessionRepositoryErrors(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		t.Run("ValidationError", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewSessionRepository(db)
			if err := repo.Create(models.NewSession(0, "", "")); err == nil {
				t.Fatal("expected validation error for empty session id")
			}
		})

		t.Run("DuplicateSessionID", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewSessionRepository(db)
			if err := repo.Create(models.NewSession(0, "sess-1", "")); err != nil {
				t.Fatalf("failed to create first session: %v", err)
			}
			if err := repo.Create(models.NewSession(0, "sess-1", "")); err == nil {
				t.Fatal("expected error when creating a duplicate session id")
			}
		})
	})

	t.Run("GetBySessionID", func(t *testing.T) {
		t.Run("NotFound", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewSessionRepository(db)
			if _, err := repo.GetBySessionID("nope"); !errors.Is(err, shared.ErrSessionNotFound) {
				t.Fatalf("expected ErrSessionNotFound, got %v", err)
			}
		})
	})

	t.Run("Update", func(t *testing.T) {
		t.Run("NotFound", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewSessionRepository(db)
			session := models.NewSession(1, "sess-1", "")
			session.SetID("missing")
			if err := repo.Update(session); !errors.Is(err, shared.ErrSessionNotFound) {
				t.Fatalf("expected ErrSessionNotFound, got %v", err)
			}
		})
	})

	t.Run("Delete", func(t *testing.T) {
		t.Run("NotFound", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewSessionRepository(db)
			if err := repo.Delete("missing"); !errors.Is(err, shared.ErrSessionNotFound) {
				t.Fatalf("expected ErrSessionNotFound, got %v", err)
			}
		})
	})

	t.Run("ClosedDatabase", func(t *testing.T) {
		db := setupTestDB(t)
		db.Close()

		repo := NewSessionRepository(db)
		if err := repo.Create(models.NewSession(0, "sess-1", "")); err == nil {
			t.Fatal("expected error on closed database")
		}
		if _, err := repo.List(nil); err == nil {
			t.Fatal("expected error on closed database")
		}
	})
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seq1, err := NextSequence(db, "sessions")
	if err != nil {
		t.Fatalf("failed to get first sequence: %v", err)
	}

	if seq1 != 1 {
		t.Errorf("expected first sequence to be 1, got %d", seq1)
	}

	seq2, err := NextSequence(db, "sessions")
	if err != nil {
		t.Fatalf("failed to get second sequence: %v", err)
	}

	if seq2 != 2 {
		t.Errorf("expected second sequence to be 2, got %d", seq2)
	}

	if _, err := NextSequence(db, "missing"); err == nil {
		t.Error("expected error for a table without a sequence")
	}
}
