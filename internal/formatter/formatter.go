// package formatter provides functions to export workflow results to various formats (CSV, Markdown, JSON, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
)

// Format names an export format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
)

// ParseFormat converts a user-supplied format name. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidFlag, s)
	}
}

// Extension returns the file extension for the format, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return "md"
	case FormatCSV:
		return "csv"
	case FormatJSON:
		return "json"
	default:
		return "txt"
	}
}

// Export renders results in the given format.
func Export(res *models.WorkflowResults, format Format) ([]byte, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: no results to export", shared.ErrInvalidInput)
	}

	switch format {
	case FormatMarkdown:
		return ExportToMarkdown(res)
	case FormatCSV:
		return ExportToCSV(res)
	case FormatJSON:
		return ExportToJSON(res)
	default:
		return ExportToText(res)
	}
}

// ExportToCSV converts recommendations to CSV format with columns: Position, Track ID, Title, Artists, Confidence, Source, Spotify URI
func ExportToCSV(res *models.WorkflowResults) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Position", "Track ID", "Title", "Artists", "Confidence", "Source", "Spotify URI"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for i, track := range res.Recommendations {
		record := []string{
			strconv.Itoa(i + 1),
			track.TrackID,
			track.TrackName,
			strings.Join(track.Artists, "; "),
			confidence(track.ConfidenceScore),
			track.Source,
			track.SpotifyURI,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts results to a Markdown document with the mood analysis and track list
func ExportToMarkdown(res *models.WorkflowResults) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", title(res))

	if res.MoodPrompt != "" {
		fmt.Fprintf(&buf, "> %s\n\n", res.MoodPrompt)
	}

	if res.Playlist != nil && res.Playlist.SpotifyURL != "" {
		fmt.Fprintf(&buf, "**Playlist**: [%s](%s)\n", res.Playlist.Name, res.Playlist.SpotifyURL)
	}
	fmt.Fprintf(&buf, "**Status**: %s\n", res.Status)
	fmt.Fprintf(&buf, "**Tracks**: %d\n\n", len(res.Recommendations))

	if ma := res.MoodAnalysis; ma != nil {
		buf.WriteString("## Mood\n\n")
		if ma.MoodInterpretation != "" {
			fmt.Fprintf(&buf, "%s\n\n", ma.MoodInterpretation)
		}
		if ma.PrimaryEmotion != "" {
			fmt.Fprintf(&buf, "- **Emotion**: %s\n", ma.PrimaryEmotion)
		}
		if ma.EnergyLevel != "" {
			fmt.Fprintf(&buf, "- **Energy**: %s\n", ma.EnergyLevel)
		}
		if len(ma.GenreKeywords) > 0 {
			fmt.Fprintf(&buf, "- **Genres**: %s\n", strings.Join(ma.GenreKeywords, ", "))
		}
		for _, name := range sortedKeys(ma.TargetFeatures) {
			fmt.Fprintf(&buf, "- **%s**: %.2f\n", name, ma.TargetFeatures[name])
		}
		buf.WriteString("\n")
	}

	buf.WriteString("## Tracks\n\n")
	for i, track := range res.Recommendations {
		scorePart := ""
		if track.ConfidenceScore > 0 {
			scorePart = fmt.Sprintf(" [%s]", confidence(track.ConfidenceScore))
		}
		fmt.Fprintf(&buf, "%d. %s - %s%s\n", i+1, strings.Join(track.Artists, ", "), track.TrackName, scorePart)
	}

	return buf.Bytes(), nil
}

// ExportToText converts results to plain text format
func ExportToText(res *models.WorkflowResults) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlist: %s\n", title(res))
	if res.Playlist != nil && res.Playlist.SpotifyURL != "" {
		fmt.Fprintf(&buf, "URL: %s\n", res.Playlist.SpotifyURL)
	}
	if res.MoodPrompt != "" {
		fmt.Fprintf(&buf, "Mood: %s\n", res.MoodPrompt)
	}
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(res.Recommendations))

	for i, track := range res.Recommendations {
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, strings.Join(track.Artists, ", "), track.TrackName)
	}

	return buf.Bytes(), nil
}

// ExportToJSON renders results as indented JSON
func ExportToJSON(res *models.WorkflowResults) ([]byte, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal results: %w", err)
	}
	return append(data, '\n'), nil
}

// StatusToText renders the client-side workflow state as a short report
func StatusToText(state models.WorkflowState) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Session: %s\n", state.SessionID)
	fmt.Fprintf(&buf, "Status: %s\n", state.Status)
	if state.CurrentStep != "" {
		fmt.Fprintf(&buf, "Step: %s\n", state.CurrentStep)
	}
	if state.AwaitingInput {
		buf.WriteString("Awaiting input: yes\n")
	}
	if it, ok := state.Iteration(); ok {
		fmt.Fprintf(&buf, "Iteration: %d\n", it)
	}
	if score, ok := state.CohesionScore(); ok {
		fmt.Fprintf(&buf, "Cohesion: %.2f\n", score)
	}
	if state.TotalTokens > 0 {
		fmt.Fprintf(&buf, "Tokens: %d ($%.4f)\n", state.TotalTokens, state.TotalLLMCostUSD)
		if state.TotalPromptTokens > 0 || state.TotalCompletionTokens > 0 {
			fmt.Fprintf(&buf, "  prompt %d, completion %d\n", state.TotalPromptTokens, state.TotalCompletionTokens)
		}
	}
	if state.Playlist != nil {
		fmt.Fprintf(&buf, "Playlist: %s %s\n", state.Playlist.Name, state.Playlist.SpotifyURL)
	}
	if state.Error != "" {
		fmt.Fprintf(&buf, "Error: %s\n", state.Error)
	}

	return buf.Bytes()
}

// WriteExport writes results to path in the given format.
//
// Defaults to {session_id}_results.{ext} as the filename.
func WriteExport(res *models.WorkflowResults, format Format, path string) (string, error) {
	data, err := Export(res, format)
	if err != nil {
		return "", err
	}

	if path == "" {
		path = fmt.Sprintf("%s_results.%s", res.SessionID, format.Extension())
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s export: %w", format, err)
	}

	return path, nil
}

func title(res *models.WorkflowResults) string {
	if res.Playlist != nil && res.Playlist.Name != "" {
		return res.Playlist.Name
	}
	if res.MoodPrompt != "" {
		return res.MoodPrompt
	}
	return res.SessionID
}

func confidence(score float64) string {
	if score <= 0 {
		return ""
	}
	return strconv.FormatFloat(score, 'f', 2, 64)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
