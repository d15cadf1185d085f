package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
)

var (
	_ list.Item = sessionItem{}
	_ list.Item = trackItem{}
)

// sessionItem wraps [models.Session] to implement [list.Item].
type sessionItem struct {
	session *models.Session
}

func (i sessionItem) FilterValue() string { return i.session.MoodPrompt() }
func (i sessionItem) Title() string {
	return fmt.Sprintf("#%d %s", i.session.Sequence(), i.session.MoodPrompt())
}
func (i sessionItem) Description() string {
	desc := i.session.Status()
	if i.session.ErrorMessage() != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.session.ErrorMessage())
	} else if i.session.PlaylistURL() != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.session.PlaylistURL())
	}
	return desc
}

// trackItem wraps [models.Track] to implement [list.Item].
type trackItem struct {
	track models.Track
}

func (i trackItem) FilterValue() string { return i.track.TrackName }
func (i trackItem) Title() string       { return i.track.TrackName }
func (i trackItem) Description() string {
	desc := strings.Join(i.track.Artists, ", ")
	if i.track.ConfidenceScore > 0 {
		desc = fmt.Sprintf("%s • %.0f%%", desc, i.track.ConfidenceScore*100)
	}
	if i.track.UserMentioned {
		desc += " • requested"
	}
	return desc
}
