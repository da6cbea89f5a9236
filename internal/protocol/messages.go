package protocol

import (
	"encoding/json"
	"time"
)

// Kind tags an event on the machine-readable stream.
type Kind string

const (
	KindReady   Kind = "ready"
	KindStatus  Kind = "status"
	KindWarning Kind = "warning"
	KindResult  Kind = "result"
)

// Event is a single progress record. Fields carries kind-specific extras and is
// flattened into the JSON object next to type, message and timestamp.
type Event struct {
	Type      Kind           `json:"type"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"-"`
}

// MarshalJSON flattens Fields into the record. The reserved keys always win.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	out["timestamp"] = e.Timestamp
	if e.Message != "" {
		out["message"] = e.Message
	} else {
		delete(out, "message")
	}
	return json.Marshal(out)
}

// Word is a single timed word in a transcript.
type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// Segment is a contiguous span of transcribed speech.
type Segment struct {
	ID         int     `json:"id"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words"`
}

// Recording describes the captured audio artifact.
type Recording struct {
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

// Result is the terminal record of a session. It is always the last line on stdout.
// A successful record always carries text, language, duration, segments and
// words, even when empty; a failed one carries error instead.
type Result struct {
	Type      Kind       `json:"type"`
	SessionID string     `json:"session_id,omitempty"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
	Text      string     `json:"text"`
	Language  string     `json:"language"`
	Duration  float64    `json:"duration"`
	Segments  []Segment  `json:"segments"`
	Words     []Word     `json:"words"`
	Device    string     `json:"device,omitempty"`
	Model     string     `json:"model,omitempty"`
	AudioPath string     `json:"audio_path,omitempty"`
	Recording *Recording `json:"recording,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type successRecord struct {
	Type      Kind       `json:"type"`
	SessionID string     `json:"session_id,omitempty"`
	Success   bool       `json:"success"`
	Text      string     `json:"text"`
	Language  string     `json:"language"`
	Duration  float64    `json:"duration"`
	Segments  []Segment  `json:"segments"`
	Words     []Word     `json:"words"`
	Device    string     `json:"device,omitempty"`
	Model     string     `json:"model,omitempty"`
	AudioPath string     `json:"audio_path,omitempty"`
	Recording *Recording `json:"recording,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type failureRecord struct {
	Type      Kind       `json:"type"`
	SessionID string     `json:"session_id,omitempty"`
	Success   bool       `json:"success"`
	Error     string     `json:"error"`
	Device    string     `json:"device,omitempty"`
	Model     string     `json:"model,omitempty"`
	AudioPath string     `json:"audio_path,omitempty"`
	Recording *Recording `json:"recording,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// MarshalJSON writes the success or failure shape. Nil slices become [].
func (r Result) MarshalJSON() ([]byte, error) {
	if !r.Success {
		return json.Marshal(failureRecord{
			Type:      r.Type,
			SessionID: r.SessionID,
			Error:     r.Error,
			Device:    r.Device,
			Model:     r.Model,
			AudioPath: r.AudioPath,
			Recording: r.Recording,
			Timestamp: r.Timestamp,
		})
	}
	segments := make([]Segment, 0, len(r.Segments))
	for _, seg := range r.Segments {
		if seg.Words == nil {
			seg.Words = []Word{}
		}
		segments = append(segments, seg)
	}
	words := r.Words
	if words == nil {
		words = []Word{}
	}
	return json.Marshal(successRecord{
		Type:      r.Type,
		SessionID: r.SessionID,
		Success:   true,
		Text:      r.Text,
		Language:  r.Language,
		Duration:  r.Duration,
		Segments:  segments,
		Words:     words,
		Device:    r.Device,
		Model:     r.Model,
		AudioPath: r.AudioPath,
		Recording: r.Recording,
		Timestamp: r.Timestamp,
	})
}

const (
	SubjectSuffixEvent  = "event"
	SubjectSuffixResult = "result"
)
