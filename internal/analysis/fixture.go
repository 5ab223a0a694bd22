package analysis

// TestResult returns a fully populated sample analysis for exercising
// clients end to end without a provider call. The scenario is a short
// tension-headache consultation with citations into all four SOAP
// sections.
func TestResult() *Result {
	return &Result{
		SpeakerAnalysis: SpeakerAnalysis{
			DoctorSegments:    []string{"How can I help you today?", "I'll prescribe some medication"},
			PatientSegments:   []string{"I have a headache for 3 days", "Thank you doctor"},
			DoctorPercentage:  60,
			PatientPercentage: 40,
		},
		ConversationSegments: []ConversationSegment{
			{Type: "greeting", Content: "How can I help you today?", Speaker: "doctor"},
			{Type: "chief_complaint", Content: "I have a headache for 3 days", Speaker: "patient"},
		},
		MedicalTopics: []string{"headache", "pain management", "tension headache"},
		Summary:       "Patient presents with 3-day history of headache. Doctor provides treatment recommendation.",
		TranscriptSegments: []TranscriptSegment{
			{ID: 1, Speaker: "doctor", Text: "How can I help you today?"},
			{ID: 2, Speaker: "patient", Text: "I have a headache for 3 days now."},
			{ID: 3, Speaker: "patient", Text: "It's a throbbing pain on the right side."},
			{ID: 4, Speaker: "doctor", Text: "Let me check your blood pressure."},
			{ID: 5, Speaker: "doctor", Text: "Your blood pressure is normal at 120/80."},
			{ID: 6, Speaker: "doctor", Text: "This sounds like a tension headache."},
			{ID: 7, Speaker: "doctor", Text: "I'll prescribe some ibuprofen and recommend rest."},
		},
		Note: Note{
			Subjective: Section{
				Content:    "Patient reports 3-day history of headache with throbbing pain on the right side.",
				Confidence: 95,
				Sources: []SourceCitation{
					{
						SegmentIDs: []int{2, 3},
						Excerpt:    "I have a headache for 3 days now. It's a throbbing pain on the right side.",
						Reasoning:  "Patient directly describing chief complaint with specific duration and characteristics",
					},
				},
			},
			Objective: Section{
				Content:    "Vital signs: Blood pressure 120/80 mmHg (normal). No other physical examination findings documented.",
				Confidence: 80,
				Sources: []SourceCitation{
					{
						SegmentIDs: []int{5},
						Excerpt:    "Your blood pressure is normal at 120/80",
						Reasoning:  "Doctor documenting vital signs measurement",
					},
				},
			},
			Assessment: Section{
				Content:    "Tension headache based on clinical presentation and symptom characteristics.",
				Confidence: 85,
				Sources: []SourceCitation{
					{
						SegmentIDs: []int{6},
						Excerpt:    "This sounds like a tension headache",
						Reasoning:  "Doctor's clinical assessment and diagnostic impression",
					},
				},
			},
			Plan: Section{
				Content:    "Prescribe ibuprofen for pain relief and recommend rest for recovery.",
				Confidence: 90,
				Sources: []SourceCitation{
					{
						SegmentIDs: []int{7},
						Excerpt:    "I'll prescribe some ibuprofen and recommend rest",
						Reasoning:  "Doctor outlining treatment plan including medication and non-pharmacological management",
					},
				},
			},
		},
		Metadata: Metadata{
			TotalSegments:     7,
			OverallConfidence: 88,
		},
		IsTest: true,
	}
}
