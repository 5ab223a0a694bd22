package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/analysis"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/protocol"
)

// printTranscript renders one transcript update. Interim updates rewrite a
// single line in place; finals commit a numbered line and move on.
func printTranscript(tr protocol.Transcript) {
	if tr.IsFinal {
		speaker := tr.Speaker
		if speaker == "" {
			speaker = "unknown"
		}
		fmt.Printf("\r\x1b[K[%3d] %-8s %s\n", tr.ID, speaker, tr.Text)
		return
	}
	// Keep the rewrite line within a typical terminal width, trimming from
	// the front so the newest words stay visible.
	runes := []rune(tr.Text)
	if len(runes) > 72 {
		runes = runes[len(runes)-72:]
	}
	fmt.Printf("\r\x1b[K  ... %s", string(runes))
}

// renderResult prints a completed analysis. Failures print the error and the
// raw provider response when one was captured; successes print the note with
// its source citations.
func renderResult(res *analysis.Result) {
	fmt.Print("\r\x1b[K")
	if res.Failed() {
		fmt.Printf("Analysis failed: %s\n", res.Error)
		if res.Reason != "" {
			fmt.Printf("  reason: %s\n", res.Reason)
		}
		if res.RawResponse != "" {
			fmt.Printf("  raw response: %s\n", res.RawResponse)
		}
		return
	}

	rule := strings.Repeat("=", 72)
	fmt.Println(rule)
	if res.IsTest {
		fmt.Println("SOAP NOTE (test fixture)")
	} else {
		fmt.Println("SOAP NOTE")
	}
	fmt.Println(rule)
	if res.Summary != "" {
		fmt.Printf("Summary: %s\n", res.Summary)
	}
	if len(res.MedicalTopics) > 0 {
		fmt.Printf("Topics:  %s\n", strings.Join(res.MedicalTopics, ", "))
	}

	renderSection("Subjective", res.Note.Subjective)
	renderSection("Objective", res.Note.Objective)
	renderSection("Assessment", res.Note.Assessment)
	renderSection("Plan", res.Note.Plan)

	sa := res.SpeakerAnalysis
	if sa.DoctorPercentage > 0 || sa.PatientPercentage > 0 {
		fmt.Printf("\nSpeaking time: doctor %.0f%%, patient %.0f%%\n",
			sa.DoctorPercentage, sa.PatientPercentage)
	}
	if res.Metadata.OverallConfidence > 0 {
		fmt.Printf("Overall confidence: %d%%\n", res.Metadata.OverallConfidence)
	}
}

func renderSection(title string, sec analysis.Section) {
	fmt.Printf("\n%s (confidence %d%%)\n", title, sec.Confidence)
	content := sec.Content
	if content == "" {
		content = "(none recorded)"
	}
	fmt.Printf("  %s\n", content)

	if len(sec.SubComponents) > 0 {
		names := make([]string, 0, len(sec.SubComponents))
		for name := range sec.SubComponents {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sub := sec.SubComponents[name]
			fmt.Printf("  %s: %s\n", name, sub.Content)
		}
	}

	for _, src := range sec.Sources {
		fmt.Printf("    evidence [%s]: %q\n", joinSegmentIDs(src.SegmentIDs), src.Excerpt)
	}
}

func joinSegmentIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
