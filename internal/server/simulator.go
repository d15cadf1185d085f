package server

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	"github.com/dennisjooo/moodlist-sub000/internal/status"
)

// FailureKeyword in a mood prompt makes the simulated workflow fail while generating recommendations.
const FailureKeyword = "#fail"

const defaultStepDelay = 750 * time.Millisecond

// ErrAlreadyFinished is returned when cancelling a session that reached a terminal status.
var ErrAlreadyFinished = errors.New("workflow already finished")

// Step is one scripted status of a simulated workflow.
type Step struct {
	Status        string
	CurrentStep   string
	AwaitingInput bool
	Metadata      map[string]any
}

// DefaultScript walks every stage, including sub-steps the client has to order by containment.
func DefaultScript() []Step {
	return []Step{
		{Status: models.StatusPending, CurrentStep: "Queued"},
		{Status: models.StatusAnalyzingMood, CurrentStep: "Analyzing your mood"},
		{Status: models.StatusGatheringSeeds, CurrentStep: "Gathering seed tracks"},
		{Status: "gathering_seeds_fetching_top_tracks", CurrentStep: "Fetching your top tracks"},
		{Status: models.StatusGeneratingRecommendations, CurrentStep: "Generating recommendations"},
		{Status: models.StatusEvaluatingQuality, CurrentStep: "Evaluating playlist quality", Metadata: map[string]any{"cohesion_score": 0.71}},
		{Status: models.StatusOptimizingRecommendations, CurrentStep: "Optimizing recommendations", Metadata: map[string]any{"iteration": 1}},
		{Status: models.StatusEvaluatingQuality, CurrentStep: "Re-evaluating playlist quality", Metadata: map[string]any{"cohesion_score": 0.84}},
		{Status: models.StatusCreatingPlaylist, CurrentStep: "Creating your playlist"},
		{Status: models.StatusCompleted, CurrentStep: "Playlist ready"},
	}
}

// SimulatorOptions configures a [Simulator].
type SimulatorOptions struct {
	StepDelay time.Duration
	Script    []Step
	Logger    *log.Logger
}

// Simulator is an in-memory playlist workflow backend that advances each session through a script.
type Simulator struct {
	stepDelay time.Duration
	script    []Step
	logger    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*simSession
}

type simSession struct {
	prompt  string
	fail    bool
	idx     int
	status  models.WorkflowStatus
	results *models.WorkflowResults
	changed chan struct{}
	stop    context.CancelFunc
}

// NewSimulator creates a Simulator. Call Close to stop all running sessions.
func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.StepDelay <= 0 {
		opts.StepDelay = defaultStepDelay
	}
	if len(opts.Script) == 0 {
		opts.Script = DefaultScript()
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Simulator{
		stepDelay: opts.StepDelay,
		script:    opts.Script,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*simSession),
	}
}

// Close stops advancing every session and waits for their goroutines.
func (s *Simulator) Close() {
	s.cancel()
	s.wg.Wait()
}

// Start queues a new workflow for prompt.
func (s *Simulator) Start(prompt string) models.StartResponse {
	id := shared.GenerateID()
	now := timestamp()

	sess := &simSession{
		prompt:  prompt,
		fail:    strings.Contains(prompt, FailureKeyword),
		changed: make(chan struct{}),
	}
	first := s.script[0]
	sess.status = models.WorkflowStatus{
		SessionID:   id,
		Status:      first.Status,
		CurrentStep: first.CurrentStep,
		Metadata:    maps.Clone(first.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ctx, stop := context.WithCancel(s.ctx)
	sess.stop = stop

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, id)

	s.logger.Info("workflow started", "session_id", id, "prompt", prompt)
	return models.StartResponse{SessionID: id, Status: first.Status, MoodPrompt: prompt, CreatedAt: now}
}

func (s *Simulator) run(ctx context.Context, id string) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.stepDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.advance(id) {
				return
			}
		}
	}
}

// advance moves a session to its next step and reports whether it is now terminal.
func (s *Simulator) advance(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || status.IsTerminal(sess.status.Status) {
		return true
	}
	if sess.idx+1 >= len(s.script) {
		return true
	}

	sess.idx++
	step := s.script[sess.idx]
	st := &sess.status
	st.Status = step.Status
	st.CurrentStep = step.CurrentStep
	st.AwaitingInput = step.AwaitingInput
	st.UpdatedAt = timestamp()
	st.TotalPromptTokens += 180
	st.TotalCompletionTokens += 70
	st.TotalTokens = st.TotalPromptTokens + st.TotalCompletionTokens
	st.TotalLLMCostUSD = float64(st.TotalTokens) * 0.000002
	if len(step.Metadata) > 0 {
		if st.Metadata == nil {
			st.Metadata = make(map[string]any, len(step.Metadata))
		}
		maps.Copy(st.Metadata, step.Metadata)
	}

	switch status.Stage(step.Status) {
	case models.StatusAnalyzingMood:
		st.MoodAnalysis = moodAnalysis(sess.prompt)
	case models.StatusGatheringSeeds:
		st.AnchorTracks = anchorTracks()
	case models.StatusGeneratingRecommendations:
		if sess.fail {
			st.Status = models.StatusFailed
			st.CurrentStep = "Recommendation generation failed"
			st.Error = "simulated failure while generating recommendations"
		}
	}

	if st.Status == models.StatusCompleted {
		sess.results = results(id, sess.prompt, *st)
	}

	s.logger.Debug("workflow advanced", "session_id", id, "status", st.Status)
	s.notify(sess)
	return status.IsTerminal(st.Status)
}

// notify must be called with s.mu held.
func (s *Simulator) notify(sess *simSession) {
	close(sess.changed)
	sess.changed = make(chan struct{})
}

// Status returns the current status of a session.
func (s *Simulator) Status(id string) (models.WorkflowStatus, error) {
	st, _, err := s.Watch(id)
	return st, err
}

// Watch returns the current status and a channel closed on the next change.
func (s *Simulator) Watch(id string) (models.WorkflowStatus, <-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return models.WorkflowStatus{}, nil, fmt.Errorf("%w: %s", shared.ErrSessionNotFound, id)
	}
	return copyStatus(sess.status), sess.changed, nil
}

// Results returns the final results of a completed session.
func (s *Simulator) Results(id string) (*models.WorkflowResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrSessionNotFound, id)
	}
	if sess.results == nil {
		return nil, fmt.Errorf("%w: workflow is %s", shared.ErrResultsUnavailable, sess.status.Status)
	}
	out := *sess.results
	return &out, nil
}

// Cancel stops a running session.
func (s *Simulator) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrSessionNotFound, id)
	}
	if status.IsTerminal(sess.status.Status) {
		return fmt.Errorf("%w: %s", ErrAlreadyFinished, sess.status.Status)
	}

	sess.stop()
	sess.status.Status = models.StatusCancelled
	sess.status.CurrentStep = "Cancelled"
	sess.status.AwaitingInput = false
	sess.status.UpdatedAt = timestamp()
	s.notify(sess)
	s.logger.Info("workflow cancelled", "session_id", id)
	return nil
}

func copyStatus(st models.WorkflowStatus) models.WorkflowStatus {
	out := st
	out.Metadata = maps.Clone(st.Metadata)
	if st.MoodAnalysis != nil {
		ma := *st.MoodAnalysis
		out.MoodAnalysis = &ma
	}
	out.AnchorTracks = append([]models.Track(nil), st.AnchorTracks...)
	return out
}

// timestamp mimics the backend's naive ISO-8601 timestamps.
func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000")
}

func moodAnalysis(prompt string) *models.MoodAnalysis {
	return &models.MoodAnalysis{
		MoodInterpretation: fmt.Sprintf("A listener looking for music that fits %q", prompt),
		PrimaryEmotion:     "calm",
		EnergyLevel:        "low",
		TargetFeatures:     map[string]float64{"energy": 0.3, "valence": 0.45, "acousticness": 0.7},
		Keywords:           strings.Fields(strings.ReplaceAll(prompt, FailureKeyword, "")),
		GenreKeywords:      []string{"indie folk", "ambient"},
	}
}

func anchorTracks() []models.Track {
	return []models.Track{
		{TrackID: "anchor-1", TrackName: "Holocene", Artists: []string{"Bon Iver"}, SpotifyURI: "spotify:track:anchor-1", Source: "anchor"},
		{TrackID: "anchor-2", TrackName: "Motion Sickness", Artists: []string{"Phoebe Bridgers"}, SpotifyURI: "spotify:track:anchor-2", Source: "anchor", UserMentioned: true},
	}
}

func results(id, prompt string, st models.WorkflowStatus) *models.WorkflowResults {
	recs := append(anchorTracks(),
		models.Track{TrackID: "rec-1", TrackName: "Pink Moon", Artists: []string{"Nick Drake"}, SpotifyURI: "spotify:track:rec-1", ConfidenceScore: 0.88, Reasoning: "Sparse acoustic arrangement", Source: "recommendation"},
		models.Track{TrackID: "rec-2", TrackName: "Re: Stacks", Artists: []string{"Bon Iver"}, SpotifyURI: "spotify:track:rec-2", ConfidenceScore: 0.82, Reasoning: "Matches the low energy target", Source: "recommendation"},
		models.Track{TrackID: "rec-3", TrackName: "Saturn", Artists: []string{"Sleeping At Last"}, SpotifyURI: "spotify:track:rec-3", ConfidenceScore: 0.79, Source: "recommendation"},
	)
	name := strings.TrimSpace(strings.ReplaceAll(prompt, FailureKeyword, ""))
	if name == "" {
		name = "Moodlist"
	}
	return &models.WorkflowResults{
		SessionID:       id,
		Status:          models.StatusCompleted,
		MoodPrompt:      prompt,
		MoodAnalysis:    st.MoodAnalysis,
		Recommendations: recs,
		Playlist: &models.PlaylistRef{
			ID:         "pl-" + id[:8],
			Name:       name,
			SpotifyURL: "https://open.spotify.com/playlist/pl-" + id[:8],
			SpotifyURI: "spotify:playlist:pl-" + id[:8],
		},
		Metadata:    maps.Clone(st.Metadata),
		CreatedAt:   st.CreatedAt,
		CompletedAt: st.UpdatedAt,
	}
}
