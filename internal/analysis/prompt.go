package analysis

import (
	"fmt"
	"strings"

	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/transcript"
)

// enhancedPromptTemplate asks for a SOAP note with per-section source
// citations keyed by segment number. The JSON skeleton doubles as the
// schema contract for the parser.
const enhancedPromptTemplate = `You are a medical AI assistant analyzing a doctor-patient conversation.

TRANSCRIPT (with segment numbers for reference):
%s

Respond with VALID JSON in this exact structure:
{
    "speaker_analysis": {
        "doctor_segments": ["segment1", "segment2"],
        "patient_segments": ["segment1", "segment2"],
        "doctor_percentage": 60,
        "patient_percentage": 40
    },
    "conversation_segments": [
        {
            "type": "greeting",
            "content": "Hello, how are you feeling today?",
            "speaker": "doctor"
        }
    ],
    "medical_topics": ["symptom1", "symptom2", "diagnosis"],
    "summary": "Brief summary of the consultation",
    "soap_note_with_sources": {
        "subjective": {
            "content": "Patient reports symptoms",
            "sources": [
                {
                    "segment_ids": [3, 5],
                    "excerpt": "I have chest pain",
                    "reasoning": "Patient describing chief complaint"
                }
            ],
            "confidence": 85
        },
        "objective": {
            "content": "Physical examination findings",
            "sources": [],
            "confidence": 80
        },
        "assessment": {
            "content": "Clinical diagnosis",
            "sources": [],
            "confidence": 75
        },
        "plan": {
            "content": "Treatment plan",
            "sources": [],
            "confidence": 90
        }
    },
    "analysis_metadata": {
        "total_segments": %d,
        "overall_confidence": 85
    }
}`

// basicPromptTemplate is the fallback without source mapping. Its
// soap_note sections are plain strings, lifted into the enhanced shape
// after parsing.
const basicPromptTemplate = `Please analyze this doctor-patient conversation transcript and provide both a structured analysis AND a clinical SOAP note:

TRANSCRIPT:
%s

Format your response as JSON with this structure:
{
    "speaker_analysis": {
        "doctor_segments": ["segment1", "segment2"],
        "patient_segments": ["segment1", "segment2"],
        "doctor_percentage": 60,
        "patient_percentage": 40
    },
    "conversation_segments": [
        {
            "type": "greeting",
            "content": "Hello, how are you feeling today?",
            "speaker": "doctor"
        }
    ],
    "medical_topics": ["symptom1", "symptom2", "diagnosis"],
    "summary": "Brief summary of the consultation",
    "soap_note": {
        "subjective": "Patient's reported symptoms, concerns, and history",
        "objective": "Observable findings, physical examination results",
        "assessment": "Clinical impression, primary diagnosis",
        "plan": "Treatment plan including medications, tests, follow-up"
    }
}`

// buildEnhancedPrompt renders the numbered transcript so the model can
// cite segments by ID.
func buildEnhancedPrompt(segments []transcript.Segment) string {
	lines := make([]string, len(segments))
	for i, seg := range segments {
		lines[i] = fmt.Sprintf("[%d] %s", seg.ID, seg.Label())
	}
	return fmt.Sprintf(enhancedPromptTemplate, strings.Join(lines, "\n"), len(segments))
}

// buildBasicPrompt renders the flat labeled transcript for the fallback
// analysis without citations.
func buildBasicPrompt(segments []transcript.Segment) string {
	return fmt.Sprintf(basicPromptTemplate, transcript.JoinText(segments))
}
