package models

import (
	"errors"
	"strings"
	"time"
)

var _ Model = (*Session)(nil)

// Session is a locally cached record of a workflow session started or watched from this machine.
//
// The last known status lets the CLI skip opening a transport for sessions that already finished.
type Session struct {
	id          string
	sequence    int
	sessionID   string
	moodPrompt  string
	status      string
	playlistID  string
	playlistURL string
	errorMsg    string
	createdAt   time.Time
	updatedAt   time.Time
	deletedAt   *time.Time
}

// NewSession creates a Session for a backend session id. The status defaults to pending.
func NewSession(sequence int, sessionID, moodPrompt string) *Session {
	now := time.Now()
	return &Session{
		sequence:   sequence,
		sessionID:  sessionID,
		moodPrompt: moodPrompt,
		status:     StatusPending,
		createdAt:  now,
		updatedAt:  now,
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Sequence() int         { return s.sequence }
func (s *Session) SessionID() string     { return s.sessionID }
func (s *Session) MoodPrompt() string    { return s.moodPrompt }
func (s *Session) Status() string        { return s.status }
func (s *Session) PlaylistID() string    { return s.playlistID }
func (s *Session) PlaylistURL() string   { return s.playlistURL }
func (s *Session) ErrorMessage() string  { return s.errorMsg }
func (s *Session) CreatedAt() time.Time  { return s.createdAt }
func (s *Session) UpdatedAt() time.Time  { return s.updatedAt }
func (s *Session) DeletedAt() *time.Time { return s.deletedAt }

func (s *Session) SetID(id string)             { s.id = id }
func (s *Session) SetSequence(seq int)         { s.sequence = seq }
func (s *Session) SetStatus(status string)     { s.status = status }
func (s *Session) SetErrorMessage(msg string)  { s.errorMsg = msg }
func (s *Session) SetCreatedAt(t time.Time)    { s.createdAt = t }
func (s *Session) SetUpdatedAt(t time.Time)    { s.updatedAt = t }
func (s *Session) SetDeletedAt(t *time.Time)   { s.deletedAt = t }
func (s *Session) SetMoodPrompt(prompt string) { s.moodPrompt = prompt }
func (s *Session) SetPlaylist(id, url string)  { s.playlistID, s.playlistURL = id, url }

// Validate checks required fields.
func (s *Session) Validate() error {
	if strings.TrimSpace(s.sessionID) == "" {
		return errors.New("session id is required")
	}
	if strings.TrimSpace(s.status) == "" {
		return errors.New("status is required")
	}
	return nil
}

// ApplyStatus copies the latest status and error from a backend snapshot.
func (s *Session) ApplyStatus(st WorkflowStatus) {
	if st.Status != "" {
		s.status = st.Status
	}
	if st.Error != "" {
		s.errorMsg = st.Error
	}
}

// ApplyResults records the playlist created by a finished workflow.
func (s *Session) ApplyResults(r *WorkflowResults) {
	if r == nil {
		return
	}
	if r.MoodPrompt != "" && s.moodPrompt == "" {
		s.moodPrompt = r.MoodPrompt
	}
	if r.Playlist != nil {
		s.playlistID = r.Playlist.ID
		s.playlistURL = r.Playlist.SpotifyURL
	}
}
