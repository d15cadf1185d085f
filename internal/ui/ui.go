package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/tasks"
)

const recentSessions = 50

// ViewState represents the current view in the TUI.
type ViewState int

const (
	SessionListView ViewState = iota
	WatchView
	ConfirmView
	ResultView
)

// SessionLister lists locally recorded sessions, newest first.
type SessionLister interface {
	List(criteria map[string]any) ([]*models.Session, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	view         ViewState
	engine       tasks.WorkflowEngine
	sessions     SessionLister
	sessionID    string
	width        int
	height       int
	sessionList  list.Model
	trackList    list.Model
	spinner      spinner.Model
	bar          progress.Model
	progressChan chan tasks.ProgressUpdate
	outcome      chan watchOutcome
	gen          int
	stopWatch    context.CancelFunc
	progress     tasks.ProgressUpdate
	result       *tasks.WatchResult
	err          error
	notice       string
	help         help.Model
	keys         keyMap
}

// NewModel creates a new TUI model. A non-empty sessionID is watched immediately; otherwise the
// session list is shown first.
func NewModel(ctx context.Context, engine tasks.WorkflowEngine, sessions SessionLister, sessionID string) *Model {
	m := &Model{
		ctx:         ctx,
		view:        SessionListView,
		engine:      engine,
		sessions:    sessions,
		sessionID:   sessionID,
		sessionList: list.New(nil, list.NewDefaultDelegate(), 0, 0),
		trackList:   list.New(nil, list.NewDefaultDelegate(), 0, 0),
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.title.UnsetMarginBottom())),
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		help:        help.New(),
		keys:        newKeyMap(),
	}
	if sessionID != "" {
		m.view = WatchView
	}
	return m
}

// Result returns the outcome of the last finished watch.
func (m *Model) Result() (*tasks.WatchResult, error) {
	return m.result, m.err
}

// Init starts watching the configured session or fetches the session list.
func (m *Model) Init() tea.Cmd {
	if m.view == WatchView {
		return tea.Batch(m.spinner.Tick, m.startWatch(m.sessionID))
	}
	return m.fetchSessions()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sessionList.SetSize(m.listSize(8))
		m.trackList.SetSize(m.listSize(12))
		m.bar.Width = min(max(msg.Width-8, 10), 60)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case SessionListView:
			return m.handleSessionListKeys(msg)
		case WatchView:
			return m.handleWatchKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case spinner.TickMsg:
		if m.view != WatchView && m.view != ConfirmView {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgSessionsFetched:
		data := msg.data.(sessionsFetched)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		items := make([]list.Item, len(data.sessions))
		for i, s := range data.sessions {
			items[i] = sessionItem{session: s}
		}
		m.sessionList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.sessionList.Title = "Mood Playlists"
		m.sessionList.SetSize(m.listSize(8))
		return m, nil

	case MsgProgressUpdate:
		data := msg.data.(progressData)
		if data.gen != m.gen {
			return m, nil
		}
		m.progress = data.update
		return m, m.waitForProgress()

	case MsgWatchComplete:
		data := msg.data.(watchOutcome)
		if data.gen != m.gen {
			return m, nil
		}
		m.result = data.result
		m.err = data.err
		m.progressChan = nil
		if m.stopWatch != nil {
			m.stopWatch()
			m.stopWatch = nil
		}
		if errors.Is(data.err, context.Canceled) {
			return m, nil
		}
		m.showResults()
		m.view = ResultView
		return m, nil

	case MsgCancelled:
		if err, ok := msg.data.(error); ok && err != nil {
			m.notice = styles.err.Render(fmt.Sprintf("Cancel failed: %v", err))
		} else {
			m.notice = styles.warn.Render("Cancellation requested")
		}
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view == SessionListView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case SessionListView:
		return m.renderSessionList()
	case WatchView:
		return m.renderWatch()
	case ConfirmView:
		return m.renderConfirm()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleSessionListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.enter):
		if selected, ok := m.sessionList.SelectedItem().(sessionItem); ok {
			m.sessionID = selected.session.SessionID()
			m.view = WatchView
			return m, tea.Batch(m.spinner.Tick, m.startWatch(m.sessionID))
		}
	}

	var cmd tea.Cmd
	m.sessionList, cmd = m.sessionList.Update(msg)
	return m, cmd
}

func (m *Model) handleWatchKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		m.abortWatch()
		return m, tea.Quit
	case key.Matches(msg, m.keys.cancel):
		m.view = ConfirmView
	case key.Matches(msg, m.keys.back) && m.sessions != nil:
		m.abortWatch()
		m.view = SessionListView
		return m, m.fetchSessions()
	}
	return m, nil
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		m.view = WatchView
		return m, m.cancelWorkflow(m.sessionID)
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.quit):
		m.view = WatchView
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.restart) && m.sessions != nil:
		m.view = SessionListView
		m.result = nil
		m.err = nil
		m.notice = ""
		m.progress = tasks.ProgressUpdate{}
		return m, m.fetchSessions()
	}

	var cmd tea.Cmd
	m.trackList, cmd = m.trackList.Update(msg)
	return m, cmd
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case SessionListView:
		m.sessionList, cmd = m.sessionList.Update(msg)
	case ResultView:
		m.trackList, cmd = m.trackList.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetchSessions() tea.Cmd {
	return func() tea.Msg {
		if m.sessions == nil {
			return sessionsFetchedMsg(nil, nil)
		}
		sessions, err := m.sessions.List(map[string]any{"limit": recentSessions})
		return sessionsFetchedMsg(sessions, err)
	}
}

func (m *Model) startWatch(sessionID string) tea.Cmd {
	ctx, cancel := context.WithCancel(m.ctx)
	m.stopWatch = cancel
	m.gen++
	m.progressChan = make(chan tasks.ProgressUpdate, 50)
	m.outcome = make(chan watchOutcome, 1)
	m.progress = tasks.ProgressUpdate{}
	m.result = nil
	m.err = nil
	m.notice = ""

	gen, progressChan, outcome := m.gen, m.progressChan, m.outcome
	go func() {
		result, err := m.engine.Watch(ctx, sessionID, progressChan)
		outcome <- watchOutcome{gen, result, err}
		close(progressChan)
	}()

	return m.waitForProgress()
}

func (m *Model) abortWatch() {
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
}

func (m *Model) waitForProgress() tea.Cmd {
	gen, progressChan, outcome := m.gen, m.progressChan, m.outcome
	return func() tea.Msg {
		if progressChan == nil {
			return nil
		}

		update, ok := <-progressChan
		if !ok {
			return watchCompleteMsg(<-outcome)
		}
		return progressUpdateMsg(gen, update)
	}
}

func (m *Model) cancelWorkflow(sessionID string) tea.Cmd {
	return func() tea.Msg {
		return cancelledMsg(m.engine.Cancel(m.ctx, sessionID))
	}
}

func (m *Model) showResults() {
	var tracks []models.Track
	if m.result != nil {
		tracks = m.result.State.Recommendations
	}
	items := make([]list.Item, len(tracks))
	for i, t := range tracks {
		items[i] = trackItem{track: t}
	}
	m.trackList = list.New(items, list.NewDefaultDelegate(), 0, 0)
	m.trackList.Title = "Recommendations"
	m.trackList.SetShowHelp(false)
	m.trackList.SetSize(m.listSize(12))
}

// listSize leaves room for the surrounding chrome. Sizes have a floor so lists render before the
// first window size message arrives.
func (m *Model) listSize(chrome int) (int, int) {
	return max(m.width-4, 40), max(m.height-chrome, 10)
}

func (m *Model) renderSessionList() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	if len(m.sessionList.Items()) == 0 {
		return fmt.Sprintf("%s\n\n%s", styles.help.Render("No sessions recorded yet. Start one with `moodlist start`."), helpView)
	}
	return fmt.Sprintf("%s\n\n%s", m.sessionList.View(), helpView)
}

func (m *Model) renderWatch() string {
	title := styles.title.Render(fmt.Sprintf("Session %s", m.sessionID))

	p := m.progress
	phase := p.Phase.String()
	if phase == "" {
		phase = tasks.Connecting.String()
	}

	percent := 0.0
	if p.Total > 0 {
		percent = float64(p.Step) / float64(p.Total)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s %s\n\n%s\n", title, m.spinner.View(), styles.Phase(phase, p.Phase.Terminal(), p.Phase == tasks.Completed), m.bar.ViewAs(percent))
	if p.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", p.Message)
	}
	if m.notice != "" {
		fmt.Fprintf(&b, "\n%s\n", m.notice)
	}

	helpKeys := []key.Binding{m.keys.cancel, m.keys.quit}
	if m.sessions != nil {
		helpKeys = append(helpKeys, m.keys.back)
	}
	fmt.Fprintf(&b, "\n%s", m.help.ShortHelpView(helpKeys))
	return b.String()
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render(fmt.Sprintf("Cancel session %s?", m.sessionID))
	info := fmt.Sprintf("\nCurrent phase: %s\n", m.progress.Phase)

	helpKeys := []key.Binding{m.keys.yes, m.keys.no}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderResult() string {
	helpKeys := []key.Binding{m.keys.up, m.keys.down, m.keys.quit}
	if m.sessions != nil {
		helpKeys = append(helpKeys, m.keys.restart)
	}
	helpView := m.help.ShortHelpView(helpKeys)

	if m.result == nil {
		return fmt.Sprintf("%s\n\n%s", styles.err.Render(fmt.Sprintf("Watch failed: %v", m.err)), helpView)
	}

	state := m.result.State
	var title string
	switch {
	case state.Status == models.StatusCompleted:
		title = styles.ok.Render("✓ Playlist ready")
	case state.Status == models.StatusCancelled:
		title = styles.warn.Render("Workflow cancelled")
	case m.err != nil:
		title = styles.err.Render(fmt.Sprintf("✗ %v", m.err))
	default:
		title = styles.err.Render(fmt.Sprintf("✗ Workflow %s", state.Status))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", title)
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s %s\n", styles.label.Render(label), value)
		}
	}
	if state.Playlist != nil {
		row("Playlist", state.Playlist.Name)
		row("URL", state.Playlist.SpotifyURL)
	}
	if state.MoodAnalysis != nil {
		row("Emotion", state.MoodAnalysis.PrimaryEmotion)
		row("Energy", state.MoodAnalysis.EnergyLevel)
	}
	if m.result.Transport != "" {
		row("Transport", m.result.Transport.String())
	}
	if state.TotalTokens > 0 {
		row("Tokens", fmt.Sprintf("%d ($%.4f)", state.TotalTokens, state.TotalLLMCostUSD))
	}
	row("Error", state.Error)

	if len(m.trackList.Items()) > 0 {
		fmt.Fprintf(&b, "\n%s\n", m.trackList.View())
	}
	fmt.Fprintf(&b, "\n%s", helpView)
	return b.String()
}
