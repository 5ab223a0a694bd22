package transcript

import (
	"fmt"
	"strings"
)

// Speaker identifies the diarized role attributed to a segment.
type Speaker string

const (
	SpeakerDoctor  Speaker = "doctor"
	SpeakerPatient Speaker = "patient"
	SpeakerUnknown Speaker = "unknown"
)

// SpeakerFromIndex maps a provider diarization index onto a role. The
// provider numbers speakers in order of first appearance; in a clinical
// session the clinician opens the conversation, so index 0 maps to the
// doctor and index 1 to the patient.
func SpeakerFromIndex(index int) Speaker {
	switch index {
	case 0:
		return SpeakerDoctor
	case 1:
		return SpeakerPatient
	default:
		return SpeakerUnknown
	}
}

// Segment is one unit of assembled transcript. Final segments carry an ID
// and never change once emitted; the interim segment has ID 0 and may be
// replaced any number of times until a final supersedes it.
//
// Confidence and Timestamp are pointers because the provider does not
// always report them; an absent value must stay absent rather than read
// as a numeric zero.
type Segment struct {
	ID         int      `json:"id"`
	Speaker    Speaker  `json:"speaker"`
	Text       string   `json:"text"`
	IsFinal    bool     `json:"is_final"`
	Confidence *float64 `json:"confidence,omitempty"`
	Timestamp  *float64 `json:"timestamp,omitempty"`
}

// Label renders the segment as a bracketed speaker line for prompt text
func (s Segment) Label() string {
	return fmt.Sprintf("[%s] %s", s.Speaker, s.Text)
}

// JoinText renders segments as a single space-separated string of labeled
// lines, the form used for transcript length checks and cache keys.
func JoinText(segments []Segment) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = seg.Label()
	}
	return strings.Join(parts, " ")
}
