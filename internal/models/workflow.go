package models

// Canonical workflow status values emitted by the backend.
//
// The vocabulary is open-ended: the backend also emits sub-step strings such as
// "gathering_seeds_fetching_top_tracks" that are not listed here.
const (
	StatusStarted                   = "started"
	StatusPending                   = "pending"
	StatusAnalyzingMood             = "analyzing_mood"
	StatusGatheringSeeds            = "gathering_seeds"
	StatusGeneratingRecommendations = "generating_recommendations"
	StatusEvaluatingQuality         = "evaluating_quality"
	StatusOptimizingRecommendations = "optimizing_recommendations"
	StatusCreatingPlaylist          = "creating_playlist"
	StatusCompleted                 = "completed"
	StatusFailed                    = "failed"
	StatusCancelled                 = "cancelled"
)

// MoodAnalysis is the backend's structured interpretation of the mood prompt.
type MoodAnalysis struct {
	MoodInterpretation string             `json:"mood_interpretation,omitempty"`
	PrimaryEmotion     string             `json:"primary_emotion,omitempty"`
	EnergyLevel        string             `json:"energy_level,omitempty"`
	TargetFeatures     map[string]float64 `json:"target_features,omitempty"`
	Keywords           []string           `json:"search_keywords,omitempty"`
	ArtistRecommends   []string           `json:"artist_recommendations,omitempty"`
	GenreKeywords      []string           `json:"genre_keywords,omitempty"`
}

// Track represents a recommended or anchor track.
type Track struct {
	TrackID         string   `json:"track_id"`
	TrackName       string   `json:"track_name"`
	Artists         []string `json:"artists"`
	SpotifyURI      string   `json:"spotify_uri,omitempty"`
	ConfidenceScore float64  `json:"confidence_score,omitempty"`
	Reasoning       string   `json:"reasoning,omitempty"`
	Source          string   `json:"source,omitempty"`
	UserMentioned   bool     `json:"user_mentioned,omitempty"`
}

// PlaylistRef identifies the Spotify playlist created by a completed workflow.
type PlaylistRef struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SpotifyURL string `json:"spotify_url,omitempty"`
	SpotifyURI string `json:"spotify_uri,omitempty"`
}

// WorkflowStatus is a status snapshot for a single workflow session.
//
// Timestamps are kept as strings because the backend emits ISO-8601 values without a zone.
type WorkflowStatus struct {
	SessionID             string         `json:"session_id"`
	Status                string         `json:"status"`
	CurrentStep           string         `json:"current_step,omitempty"`
	AwaitingInput         bool           `json:"awaiting_input"`
	Error                 string         `json:"error,omitempty"`
	MoodAnalysis          *MoodAnalysis  `json:"mood_analysis,omitempty"`
	AnchorTracks          []Track        `json:"anchor_tracks,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	TotalLLMCostUSD       float64        `json:"total_llm_cost_usd,omitempty"`
	TotalPromptTokens     int            `json:"total_prompt_tokens,omitempty"`
	TotalCompletionTokens int            `json:"total_completion_tokens,omitempty"`
	TotalTokens           int            `json:"total_tokens,omitempty"`
	CreatedAt             string         `json:"created_at,omitempty"`
	UpdatedAt             string         `json:"updated_at,omitempty"`
}

// WorkflowResults holds the final output of a workflow. Only meaningful once terminal.
type WorkflowResults struct {
	SessionID       string         `json:"session_id"`
	Status          string         `json:"status"`
	MoodPrompt      string         `json:"mood_prompt,omitempty"`
	MoodAnalysis    *MoodAnalysis  `json:"mood_analysis,omitempty"`
	Recommendations []Track        `json:"recommendations"`
	Playlist        *PlaylistRef   `json:"playlist,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       string         `json:"created_at,omitempty"`
	CompletedAt     string         `json:"completed_at,omitempty"`
}

// StartRequest is the payload for starting a new workflow.
type StartRequest struct {
	MoodPrompt     string `json:"mood_prompt"`
	GenreHint      string `json:"genre_hint,omitempty"`
	MaxRecommends  int    `json:"max_recommendations,omitempty"`
	PlaylistTarget int    `json:"playlist_target,omitempty"`
}

// StartResponse is returned by the backend after a workflow has been queued.
type StartResponse struct {
	SessionID  string `json:"session_id"`
	Status     string `json:"status"`
	MoodPrompt string `json:"mood_prompt,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// WorkflowState is the client-side view of a workflow, merged from accepted status events and results.
type WorkflowState struct {
	SessionID       string
	Status          string
	CurrentStep     string
	AwaitingInput   bool
	MoodAnalysis    *MoodAnalysis
	AnchorTracks    []Track
	Recommendations []Track
	Playlist        *PlaylistRef
	Metadata        map[string]any
	IsLoading       bool
	Error           string
	HasResults      bool

	TotalLLMCostUSD       float64
	TotalPromptTokens     int
	TotalCompletionTokens int
	TotalTokens           int
}

// Iteration returns the optimization iteration from metadata, if the backend reported one.
func (s WorkflowState) Iteration() (int, bool) {
	return metadataInt(s.Metadata, "iteration")
}

// CohesionScore returns the playlist cohesion score from metadata, if the backend reported one.
func (s WorkflowState) CohesionScore() (float64, bool) {
	v, ok := s.Metadata["cohesion_score"]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func metadataInt(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
