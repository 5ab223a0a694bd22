package analysis

import (
	"errors"
	"strings"
	"testing"
)

const enhancedResponse = `Here is the analysis you requested:

{
    "speaker_analysis": {
        "doctor_segments": ["How can I help?"],
        "patient_segments": ["My chest hurts"],
        "doctor_percentage": 55,
        "patient_percentage": 45
    },
    "conversation_segments": [
        {"type": "greeting", "content": "How can I help?", "speaker": "doctor"}
    ],
    "medical_topics": ["chest pain"],
    "summary": "Patient presents with chest pain.",
    "soap_note_with_sources": {
        "subjective": {
            "content": "Patient reports chest pain.",
            "sources": [
                {"segment_ids": [2], "excerpt": "My chest hurts", "reasoning": "Chief complaint"}
            ],
            "confidence": 90
        },
        "objective": {"content": "Not documented.", "sources": [], "confidence": 40},
        "assessment": {"content": "Possible angina.", "sources": [], "confidence": 70},
        "plan": {"content": "Order ECG.", "sources": [], "confidence": 85}
    },
    "analysis_metadata": {"total_segments": 2, "overall_confidence": 75}
}

Let me know if you need anything else.`

func TestParseResultEnhanced(t *testing.T) {
	result, err := parseResult(enhancedResponse)
	if err != nil {
		t.Fatalf("parseResult failed: %v", err)
	}

	if result.Summary != "Patient presents with chest pain." {
		t.Errorf("unexpected summary: %q", result.Summary)
	}
	if result.Note.Subjective.Content != "Patient reports chest pain." {
		t.Errorf("unexpected subjective content: %q", result.Note.Subjective.Content)
	}
	if len(result.Note.Subjective.Sources) != 1 {
		t.Fatalf("expected 1 subjective citation, got %d", len(result.Note.Subjective.Sources))
	}
	src := result.Note.Subjective.Sources[0]
	if len(src.SegmentIDs) != 1 || src.SegmentIDs[0] != 2 {
		t.Errorf("unexpected citation segment IDs: %v", src.SegmentIDs)
	}
	if result.Note.Plan.Confidence != 85 {
		t.Errorf("expected plan confidence 85, got %d", result.Note.Plan.Confidence)
	}
	if result.Metadata.TotalSegments != 2 || result.Metadata.OverallConfidence != 75 {
		t.Errorf("unexpected metadata: %+v", result.Metadata)
	}
	if result.SpeakerAnalysis.DoctorPercentage != 55 {
		t.Errorf("expected doctor percentage 55, got %v", result.SpeakerAnalysis.DoctorPercentage)
	}
	if len(result.MedicalTopics) != 1 || result.MedicalTopics[0] != "chest pain" {
		t.Errorf("unexpected topics: %v", result.MedicalTopics)
	}
}

func TestParseResultBasicLiftsSections(t *testing.T) {
	response := `{
        "speaker_analysis": {
            "doctor_segments": [], "patient_segments": [],
            "doctor_percentage": 50, "patient_percentage": 50
        },
        "conversation_segments": [],
        "medical_topics": ["headache"],
        "soap_note": {
            "subjective": "Patient reports headache.",
            "objective": "BP 120/80.",
            "assessment": "Tension headache.",
            "plan": "Rest and ibuprofen."
        }
    }`

	result, err := parseResult(response)
	if err != nil {
		t.Fatalf("parseResult failed: %v", err)
	}

	sections := map[string]Section{
		"subjective": result.Note.Subjective,
		"objective":  result.Note.Objective,
		"assessment": result.Note.Assessment,
		"plan":       result.Note.Plan,
	}
	for name, sec := range sections {
		if sec.Content == "" {
			t.Errorf("%s content is empty", name)
		}
		if sec.Sources == nil || len(sec.Sources) != 0 {
			t.Errorf("%s sources should be empty, got %v", name, sec.Sources)
		}
		if sec.Confidence != fallbackConfidence {
			t.Errorf("%s confidence = %d, want %d", name, sec.Confidence, fallbackConfidence)
		}
	}
	if result.Summary != "Analysis completed" {
		t.Errorf("expected default summary, got %q", result.Summary)
	}
}

func TestParseResultNoJSON(t *testing.T) {
	_, err := parseResult("I was unable to analyze the conversation.")
	if !errors.Is(err, errNoJSON) {
		t.Errorf("expected errNoJSON, got %v", err)
	}
}

func TestParseResultMalformedJSON(t *testing.T) {
	_, err := parseResult(`Sure: {"soap_note_with_sources": } done`)
	if err == nil {
		t.Fatal("expected decode error for malformed JSON")
	}
	if !strings.Contains(err.Error(), "decode analysis response") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseResultMissingNote(t *testing.T) {
	_, err := parseResult(`{"summary": "A consultation happened."}`)
	if err == nil {
		t.Fatal("expected error when response has no SOAP note")
	}
	if !strings.Contains(err.Error(), "no SOAP note") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCleanJSONStripsControlChars(t *testing.T) {
	dirty := "{\"summary\": \"line\x01 with\x7f junk\"}"
	cleaned := cleanJSON(dirty)
	if cleaned != `{"summary": "line with junk"}` {
		t.Errorf("unexpected cleaned text: %q", cleaned)
	}

	// Tabs and newlines between tokens must survive.
	formatted := "{\n\t\"summary\": \"ok\"\n}"
	if cleanJSON(formatted) != formatted {
		t.Errorf("whitespace formatting was mangled: %q", cleanJSON(formatted))
	}
}

func TestExtractJSONSpan(t *testing.T) {
	payload, err := extractJSON("Of course! {\"a\": 1} Hope that helps.")
	if err != nil {
		t.Fatalf("extractJSON failed: %v", err)
	}
	if payload != `{"a": 1}` {
		t.Errorf("unexpected payload: %q", payload)
	}

	if _, err := extractJSON("opening { only"); !errors.Is(err, errNoJSON) {
		t.Errorf("expected errNoJSON for unterminated object, got %v", err)
	}
}
