package tutor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Note is one transcribed note.
type Note struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Pitch    float64 `json:"pitch"`
	Name     string  `json:"name"`
}

// BreakdownItem is a per-note verdict in the feedback.
type BreakdownItem struct {
	Index   int    `json:"index"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Sample is one time-series point. Its fields vary by chart; only seconds
// is relied on, as the scrub target.
type Sample map[string]any

// Seconds returns the sample's time, if it carries one.
func (s Sample) Seconds() (float64, bool) {
	switch v := s["seconds"].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// GraphData holds the chart series.
type GraphData struct {
	PitchData  []Sample `json:"pitch_data"`
	RhythmData []Sample `json:"rhythm_data"`
	PianoRoll  []Sample `json:"piano_roll"`
}

// Feedback is present on student results.
type Feedback struct {
	Score             float64         `json:"score"`
	Comments          []string        `json:"comments"`
	DetailedBreakdown []BreakdownItem `json:"detailed_breakdown"`
	GraphData         GraphData       `json:"graph_data"`
	Heatmap           string          `json:"heatmap"`
}

// HeatmapPNG decodes the base64 heatmap image. A data URL prefix is accepted.
func (f *Feedback) HeatmapPNG() ([]byte, error) {
	s := f.Heatmap
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode heatmap: %w", err)
	}
	return b, nil
}

// AnalysisResult is the analysis service's answer for one upload.
type AnalysisResult struct {
	Status   string    `json:"status"`
	Mode     string    `json:"mode"`
	Message  string    `json:"message,omitempty"`
	Notes    []Note    `json:"notes"`
	MusicXML string    `json:"musicxml"`
	Feedback *Feedback `json:"feedback,omitempty"`
}

// HistoryEntry is one stored student attempt.
type HistoryEntry struct {
	ID              int64   `json:"id"`
	Date            string  `json:"date"`
	Score           float64 `json:"score"`
	FeedbackSummary string  `json:"feedback_summary"`
	AudioFilename   string  `json:"audio_filename"`
	AnalysisData    string  `json:"analysis_data"`
}

// Analysis decodes the stored result.
func (h HistoryEntry) Analysis() (*AnalysisResult, error) {
	var r AnalysisResult
	if err := json.Unmarshal([]byte(h.AnalysisData), &r); err != nil {
		return nil, fmt.Errorf("history %d: decode analysis: %w", h.ID, err)
	}
	return &r, nil
}
