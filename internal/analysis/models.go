package analysis

// SourceCitation ties one claim in a SOAP section back to the transcript
// segments that support it.
type SourceCitation struct {
	SegmentIDs []int  `json:"segment_ids"`
	Excerpt    string `json:"excerpt"`
	Reasoning  string `json:"reasoning"`
}

// Section is one SOAP component with its supporting citations and a
// confidence score in [0, 100].
type Section struct {
	Content       string             `json:"content"`
	Sources       []SourceCitation   `json:"sources"`
	Confidence    int                `json:"confidence"`
	SubComponents map[string]Section `json:"sub_components,omitempty"`
}

// Note is a complete SOAP note with per-section source mapping.
type Note struct {
	Subjective Section `json:"subjective"`
	Objective  Section `json:"objective"`
	Assessment Section `json:"assessment"`
	Plan       Section `json:"plan"`
}

// SpeakerAnalysis summarizes how the conversation divided between the
// doctor and the patient.
type SpeakerAnalysis struct {
	DoctorSegments    []string `json:"doctor_segments"`
	PatientSegments   []string `json:"patient_segments"`
	DoctorPercentage  float64  `json:"doctor_percentage"`
	PatientPercentage float64  `json:"patient_percentage"`
}

// ConversationSegment classifies one exchange within the conversation,
// for example a question, an answer, or an examination finding.
type ConversationSegment struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Speaker string `json:"speaker"`
}

// TranscriptSegment echoes one numbered input segment back in the result
// so clients can resolve citations without keeping their own copy.
type TranscriptSegment struct {
	ID      int    `json:"id"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Metadata describes the analysis run itself.
type Metadata struct {
	TotalSegments     int `json:"total_segments"`
	OverallConfidence int `json:"overall_confidence"`
}

// Result is the complete conversation analysis delivered to clients.
// Error is non-empty when the analysis could not be produced; such
// results carry the raw provider response for debugging and leave the
// structured fields zeroed.
type Result struct {
	SpeakerAnalysis      SpeakerAnalysis       `json:"speaker_analysis"`
	ConversationSegments []ConversationSegment `json:"conversation_segments"`
	MedicalTopics        []string              `json:"medical_topics"`
	Summary              string                `json:"summary"`
	Note                 Note                  `json:"soap_note_with_sources"`
	TranscriptSegments   []TranscriptSegment   `json:"transcript_segments"`
	Metadata             Metadata              `json:"analysis_metadata"`

	Error       string `json:"error,omitempty"`
	Reason      string `json:"reason,omitempty"`
	RawResponse string `json:"raw_response,omitempty"`
	IsRetry     bool   `json:"is_retry,omitempty"`
	IsTest      bool   `json:"is_test,omitempty"`
}

// Failed reports whether the analysis produced an error instead of a note.
func (r *Result) Failed() bool {
	return r.Error != ""
}

// modelResponse is the raw shape the language model returns. The enhanced
// prompt yields soap_note_with_sources; the basic fallback prompt yields
// soap_note with plain string sections.
type modelResponse struct {
	SpeakerAnalysis      SpeakerAnalysis       `json:"speaker_analysis"`
	ConversationSegments []ConversationSegment `json:"conversation_segments"`
	MedicalTopics        []string              `json:"medical_topics"`
	Summary              string                `json:"summary"`
	EnhancedNote         *Note                 `json:"soap_note_with_sources"`
	BasicNote            *basicNote            `json:"soap_note"`
	Metadata             *Metadata             `json:"analysis_metadata"`
}

type basicNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// toResult converts a parsed model response into a Result. Basic notes are
// lifted into the enhanced shape with empty source lists and a default
// confidence, so clients always receive one format.
func (m *modelResponse) toResult() *Result {
	result := &Result{
		SpeakerAnalysis:      m.SpeakerAnalysis,
		ConversationSegments: m.ConversationSegments,
		MedicalTopics:        m.MedicalTopics,
		Summary:              m.Summary,
	}
	if m.Metadata != nil {
		result.Metadata = *m.Metadata
	}
	switch {
	case m.EnhancedNote != nil:
		result.Note = *m.EnhancedNote
	case m.BasicNote != nil:
		result.Note = Note{
			Subjective: liftSection(m.BasicNote.Subjective),
			Objective:  liftSection(m.BasicNote.Objective),
			Assessment: liftSection(m.BasicNote.Assessment),
			Plan:       liftSection(m.BasicNote.Plan),
		}
		if result.Summary == "" {
			result.Summary = "Analysis completed"
		}
	}
	return result
}

// fallbackConfidence is assigned to sections produced by the basic
// analysis path, which carries no per-section scores of its own.
const fallbackConfidence = 80

func liftSection(content string) Section {
	return Section{
		Content:    content,
		Sources:    []SourceCitation{},
		Confidence: fallbackConfidence,
	}
}
