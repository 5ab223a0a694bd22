// Standalone mock of both external providers, for running the service and
// the capture client end to end without credentials or network access.
//
// It serves a Deepgram-shaped live WebSocket on /v1/listen that plays back a
// scripted doctor-patient conversation as interim and final results, and an
// Anthropic-shaped /v1/messages endpoint that returns a canned SOAP note
// whose citations reference the segment numbers found in the prompt.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type scriptLine struct {
	Speaker int
	Text    string
}

// The conversation every stream hears, regardless of what audio arrives.
// Speaker 0 is the doctor, speaker 1 the patient.
var conversationScript = []scriptLine{
	{0, "Good morning, what brings you in today?"},
	{1, "I've had a sore throat and a low fever since Tuesday."},
	{0, "Any trouble swallowing or shortness of breath?"},
	{1, "Swallowing hurts a little, but my breathing is fine."},
	{0, "Your temperature is 38.1 and your throat looks inflamed."},
	{0, "Let's start with rest, fluids, and paracetamol for the fever."},
}

type mockWord struct {
	Word    string  `json:"word"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker int     `json:"speaker"`
}

type mockAlternative struct {
	Transcript string     `json:"transcript"`
	Confidence float64    `json:"confidence"`
	Words      []mockWord `json:"words"`
}

type mockChannel struct {
	Alternatives []mockAlternative `json:"alternatives"`
}

type mockResult struct {
	Type         string      `json:"type"`
	IsFinal      bool        `json:"is_final"`
	SpeechFinal  bool        `json:"speech_final"`
	FromFinalize bool        `json:"from_finalize,omitempty"`
	Channel      mockChannel `json:"channel"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func listenHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	q := r.URL.Query()
	log.Printf("🎤 LIVE STREAM OPENED: model=%s language=%s sample_rate=%s channels=%s diarize=%s",
		q.Get("model"), q.Get("language"), q.Get("sample_rate"), q.Get("channels"), q.Get("diarize"))

	line := 0
	interimSent := false
	elapsed := 0.0
	chunks := 0
	audioBytes := 0

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("🔌 STREAM CLOSED: %d chunks, %d audio bytes, %d lines delivered", chunks, audioBytes, line)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			chunks++
			audioBytes += len(data)
			if line >= len(conversationScript) {
				continue
			}
			// Every chunk advances the script: first a partial
			// hypothesis, then the finished line.
			if !interimSent {
				writeResult(conn, interimResult(conversationScript[line]))
				interimSent = true
			} else {
				writeResult(conn, finalResult(conversationScript[line], elapsed, false))
				elapsed += lineDuration(conversationScript[line])
				line++
				interimSent = false
			}

		case websocket.TextMessage:
			var ctl struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &ctl); err != nil {
				log.Printf("unreadable control message: %v", err)
				continue
			}
			switch ctl.Type {
			case "KeepAlive":
				// nothing to do
			case "Finalize":
				log.Printf("⏹  FINALIZE after %d chunks", chunks)
				if interimSent && line < len(conversationScript) {
					writeResult(conn, finalResult(conversationScript[line], elapsed, true))
					line++
					interimSent = false
				} else {
					empty := mockResult{Type: "Results", IsFinal: true, SpeechFinal: true, FromFinalize: true}
					empty.Channel.Alternatives = []mockAlternative{{}}
					writeResult(conn, empty)
				}
			case "CloseStream":
				return
			}
		}
	}
}

func writeResult(conn *websocket.Conn, result mockResult) {
	if err := conn.WriteJSON(result); err != nil {
		log.Printf("write failed: %v", err)
	}
}

func interimResult(sl scriptLine) mockResult {
	// Interims show the line still forming: everything but the last word.
	words := strings.Fields(sl.Text)
	partial := sl.Text
	if len(words) > 1 {
		partial = strings.Join(words[:len(words)-1], " ")
	}
	result := mockResult{Type: "Results"}
	result.Channel.Alternatives = []mockAlternative{{Transcript: partial, Confidence: 0.71}}
	return result
}

func finalResult(sl scriptLine, start float64, fromFinalize bool) mockResult {
	words := strings.Fields(sl.Text)
	mockWords := make([]mockWord, len(words))
	for i, word := range words {
		mockWords[i] = mockWord{
			Word:    word,
			Start:   start + float64(i)*wordSeconds,
			End:     start + float64(i+1)*wordSeconds,
			Speaker: sl.Speaker,
		}
	}
	result := mockResult{Type: "Results", IsFinal: true, SpeechFinal: true, FromFinalize: fromFinalize}
	result.Channel.Alternatives = []mockAlternative{{
		Transcript: sl.Text,
		Confidence: 0.96,
		Words:      mockWords,
	}}
	return result
}

const wordSeconds = 0.3

func lineDuration(sl scriptLine) float64 {
	return float64(len(strings.Fields(sl.Text))) * wordSeconds
}

// segmentLine matches the numbered transcript lines the analysis prompt
// carries: "[id] [speaker] text".
var segmentLine = regexp.MustCompile(`(?m)^\[(\d+)\] \[(\w+)\] (.+)$`)

type promptSegment struct {
	ID      int
	Speaker string
	Text    string
}

func parseSegments(prompt string) []promptSegment {
	matches := segmentLine.FindAllStringSubmatch(prompt, -1)
	segments := make([]promptSegment, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		segments = append(segments, promptSegment{ID: id, Speaker: m[2], Text: m[3]})
	}
	return segments
}

func messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request", http.StatusBadRequest)
		return
	}

	prompt := ""
	for _, m := range req.Messages {
		if m.Role == "user" {
			prompt = m.Content
		}
	}
	segments := parseSegments(prompt)
	log.Printf("🧠 ANALYSIS REQUEST: model=%s max_tokens=%d segments=%d prompt_bytes=%d",
		req.Model, req.MaxTokens, len(segments), len(prompt))

	// Simulate processing time
	time.Sleep(300 * time.Millisecond)

	noteText, err := json.Marshal(buildAnalysis(segments))
	if err != nil {
		http.Error(w, "Error building analysis", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"content": []map[string]string{
			{"type": "text", "text": string(noteText)},
		},
		"model": req.Model,
		"usage": map[string]int{
			"input_tokens":  len(prompt) / 4,
			"output_tokens": len(noteText) / 4,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("✅ ANALYSIS RESPONSE SENT (%d note bytes)", len(noteText))
	log.Println("---")
}

type noteSource struct {
	SegmentIDs []int  `json:"segment_ids"`
	Excerpt    string `json:"excerpt"`
	Reasoning  string `json:"reasoning"`
}

type noteSection struct {
	Content    string       `json:"content"`
	Sources    []noteSource `json:"sources"`
	Confidence int          `json:"confidence"`
}

// buildAnalysis produces the enhanced-analysis shape, citing only segment
// numbers that actually appeared in the prompt so every citation survives
// validation downstream.
func buildAnalysis(segments []promptSegment) map[string]interface{} {
	cite := func(seg promptSegment, reasoning string) noteSource {
		return noteSource{
			SegmentIDs: []int{seg.ID},
			Excerpt:    seg.Text,
			Reasoning:  reasoning,
		}
	}

	var doctorLines, patientLines []string
	subjective := noteSection{Content: "Patient-reported history as captured in the transcript.", Sources: []noteSource{}, Confidence: 85}
	objective := noteSection{Content: "Findings stated by the clinician during the visit.", Sources: []noteSource{}, Confidence: 82}
	assessment := noteSection{Content: "Working assessment based on the documented exchange.", Sources: []noteSource{}, Confidence: 78}
	plan := noteSection{Content: "Plan as discussed at the end of the visit.", Sources: []noteSource{}, Confidence: 80}

	for _, seg := range segments {
		switch seg.Speaker {
		case "patient":
			patientLines = append(patientLines, seg.Text)
			if len(subjective.Sources) < 2 {
				subjective.Sources = append(subjective.Sources, cite(seg, "Patient statement"))
			}
		default:
			doctorLines = append(doctorLines, seg.Text)
			if len(objective.Sources) < 1 {
				objective.Sources = append(objective.Sources, cite(seg, "Clinician statement"))
			}
		}
	}
	if n := len(segments); n > 0 {
		assessment.Sources = append(assessment.Sources, cite(segments[n-1], "Concluding exchange"))
		plan.Sources = append(plan.Sources, cite(segments[n-1], "Closing instructions"))
	}

	doctorShare := 50.0
	if total := len(doctorLines) + len(patientLines); total > 0 {
		doctorShare = float64(len(doctorLines)) / float64(total) * 100
	}

	return map[string]interface{}{
		"speaker_analysis": map[string]interface{}{
			"doctor_segments":    emptyIfNil(doctorLines),
			"patient_segments":   emptyIfNil(patientLines),
			"doctor_percentage":  doctorShare,
			"patient_percentage": 100 - doctorShare,
		},
		"conversation_segments": []map[string]string{
			{"type": "greeting", "content": "Opening of the visit", "speaker": "doctor"},
			{"type": "history", "content": "Symptom description", "speaker": "patient"},
		},
		"medical_topics": []string{"sore throat", "fever", "pharyngitis"},
		"summary":        "Mock consultation analysis generated without a provider call.",
		"soap_note_with_sources": map[string]interface{}{
			"subjective": subjective,
			"objective":  objective,
			"assessment": assessment,
			"plan":       plan,
		},
		"analysis_metadata": map[string]int{
			"total_segments":     len(segments),
			"overall_confidence": 81,
		},
	}
}

func emptyIfNil(lines []string) []string {
	if lines == nil {
		return []string{}
	}
	return lines
}

func main() {
	http.HandleFunc("/v1/listen", listenHandler)
	http.HandleFunc("/v1/messages", messagesHandler)

	port := ":9000"
	log.Printf("🚀 Mock Provider Server starting on port %s", port)
	log.Printf("📡 Speech endpoint:   ws://localhost%s/v1/listen", port)
	log.Printf("📡 Analysis endpoint: http://localhost%s/v1/messages", port)
	log.Println("💡 Point the service at it:")
	log.Println("   transcription.url: ws://localhost:9000/v1/listen")
	log.Println("   analysis.url:      http://localhost:9000/v1/messages")
	log.Println("   DEEPGRAM_API_KEY and ANTHROPIC_API_KEY may be any non-empty value")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
