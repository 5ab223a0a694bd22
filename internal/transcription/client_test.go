package transcription

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testClientConfig(endpoint string) Config {
	return Config{
		URL:               endpoint,
		APIKey:            "test-key",
		Model:             "nova-2",
		Language:          "en-US",
		SampleRate:        16000,
		Channels:          1,
		UtteranceEndMS:    2000,
		EndpointingMS:     800,
		Keywords:          []string{"hypertension", "lisinopril"},
		ConnectTimeout:    2 * time.Second,
		MaxConnectRetries: 0,
		KeepAliveInterval: time.Hour, // keep quiet unless a test wants keepalives
		SendQueueSize:     16,
	}
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty URL", func(c *Config) { c.URL = "" }},
		{"empty API key", func(c *Config) { c.APIKey = "" }},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testClientConfig("wss://example.com/v1/listen")
			tt.modify(&config)
			if _, err := NewClient(config, testLogger()); err == nil {
				t.Error("Expected error for invalid config, got nil")
			}
		})
	}
}

func TestBuildURL(t *testing.T) {
	client, err := NewClient(testClientConfig("wss://api.example.com/v1/listen"), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	endpoint, err := client.BuildURL()
	if err != nil {
		t.Fatalf("BuildURL failed: %v", err)
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	q := parsed.Query()
	expectations := map[string]string{
		"encoding":         "linear16",
		"sample_rate":      "16000",
		"channels":         "1",
		"model":            "nova-2",
		"language":         "en-US",
		"interim_results":  "true",
		"diarize":          "true",
		"punctuate":        "true",
		"smart_format":     "true",
		"numerals":         "true",
		"vad_events":       "true",
		"utterance_end_ms": "2000",
		"endpointing":      "800",
	}
	for key, expected := range expectations {
		if got := q.Get(key); got != expected {
			t.Errorf("Query param %s = %q, expected %q", key, got, expected)
		}
	}

	keywords := q["keywords"]
	if len(keywords) != 2 {
		t.Errorf("Expected 2 keyword params, got %d", len(keywords))
	}
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		data string
		want *Event
	}{
		{
			name: "final with speaker and confidence",
			data: `{"type":"Results","is_final":true,"channel":{"alternatives":[{
				"transcript":"hello there","confidence":0.97,
				"words":[{"word":"hello","start":1.5,"end":1.9,"speaker":0}]}]}}`,
			want: &Event{Text: "hello there", IsFinal: true},
		},
		{
			name: "interim without words",
			data: `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`,
			want: &Event{Text: "hel"},
		},
		{
			name: "finalize flush",
			data: `{"type":"Results","is_final":true,"from_finalize":true,"channel":{"alternatives":[{"transcript":"done"}]}}`,
			want: &Event{Text: "done", IsFinal: true, FromFinalize: true},
		},
		{
			name: "metadata frame skipped",
			data: `{"type":"Metadata","request_id":"abc"}`,
			want: nil,
		},
		{
			name: "utterance end skipped",
			data: `{"type":"UtteranceEnd","last_word_end":3.1}`,
			want: nil,
		},
		{
			name: "no alternatives skipped",
			data: `{"type":"Results","channel":{"alternatives":[]}}`,
			want: nil,
		},
		{
			name: "invalid json skipped",
			data: `{"type":`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, ok, _ := decodeEvent([]byte(tt.data))
			if tt.want == nil {
				if ok {
					t.Errorf("Expected frame to be skipped, got event %+v", event)
				}
				return
			}
			if !ok {
				t.Fatal("Expected event, frame was skipped")
			}
			if event.Text != tt.want.Text {
				t.Errorf("Text = %q, expected %q", event.Text, tt.want.Text)
			}
			if event.IsFinal != tt.want.IsFinal {
				t.Errorf("IsFinal = %v, expected %v", event.IsFinal, tt.want.IsFinal)
			}
			if event.FromFinalize != tt.want.FromFinalize {
				t.Errorf("FromFinalize = %v, expected %v", event.FromFinalize, tt.want.FromFinalize)
			}
		})
	}
}

func TestDecodeEventMalformedFrame(t *testing.T) {
	_, ok, err := decodeEvent([]byte(`{"type":`))
	if ok {
		t.Error("Expected malformed frame to be rejected")
	}
	if err == nil {
		t.Error("Expected a decode error for malformed frame")
	}
}

func TestDecodeEventPreservesAbsentConfidence(t *testing.T) {
	withConf := `{"type":"Results","channel":{"alternatives":[{"transcript":"a","confidence":0.8}]}}`
	event, ok, _ := decodeEvent([]byte(withConf))
	if !ok || event.Confidence == nil || *event.Confidence != 0.8 {
		t.Errorf("Expected confidence 0.8, got %+v", event)
	}

	withoutConf := `{"type":"Results","channel":{"alternatives":[{"transcript":"a"}]}}`
	event, ok, _ = decodeEvent([]byte(withoutConf))
	if !ok {
		t.Fatal("Expected event")
	}
	if event.Confidence != nil {
		t.Errorf("Absent confidence must decode to nil, got %g", *event.Confidence)
	}
}

func TestDecodeEventSpeakerAndTimestamp(t *testing.T) {
	data := `{"type":"Results","is_final":true,"channel":{"alternatives":[{
		"transcript":"good morning","confidence":0.9,
		"words":[{"word":"good","start":2.25,"end":2.5,"speaker":1},{"word":"morning","start":2.5,"end":3.0,"speaker":1}]}]}}`

	event, ok, _ := decodeEvent([]byte(data))
	if !ok {
		t.Fatal("Expected event")
	}
	if event.SpeakerIndex == nil || *event.SpeakerIndex != 1 {
		t.Errorf("Expected speaker index 1, got %v", event.SpeakerIndex)
	}
	if event.Timestamp == nil || *event.Timestamp != 2.25 {
		t.Errorf("Expected timestamp 2.25, got %v", event.Timestamp)
	}
}

// mockProvider is a minimal provider endpoint: every binary frame is
// answered with a canned result, a Finalize control frame is answered with
// a from_finalize result.
func mockProvider(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Token test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if messageType == websocket.BinaryMessage {
				result := `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"mock result","confidence":0.9,"words":[{"word":"mock","start":0.1,"end":0.4,"speaker":0}]}]}}`
				if err := conn.WriteMessage(websocket.TextMessage, []byte(result)); err != nil {
					return
				}
				continue
			}

			var control struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &control); err != nil {
				continue
			}
			if control.Type == "Finalize" {
				result := `{"type":"Results","is_final":true,"from_finalize":true,"channel":{"alternatives":[{"transcript":"flushed","confidence":0.8}]}}`
				if err := conn.WriteMessage(websocket.TextMessage, []byte(result)); err != nil {
					return
				}
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestStreamRoundTrip(t *testing.T) {
	server := mockProvider(t)
	defer server.Close()

	client, err := NewClient(testClientConfig(wsURL(server)), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	stream, err := client.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer stream.Close()

	if err := stream.Send([]byte{0x00, 0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case event := <-stream.Events():
		if event.Text != "mock result" || !event.IsFinal {
			t.Errorf("Unexpected event %+v", event)
		}
		if event.SpeakerIndex == nil || *event.SpeakerIndex != 0 {
			t.Errorf("Expected speaker 0, got %v", event.SpeakerIndex)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}

	if err := stream.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	select {
	case event := <-stream.Events():
		if !event.FromFinalize {
			t.Errorf("Expected from_finalize event, got %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for finalize event")
	}

	stream.Close()

	// The events channel drains and closes after Close.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-stream.Events():
			if !open {
				if stream.Err() != nil {
					t.Errorf("Clean close should not record an error, got %v", stream.Err())
				}
				return
			}
		case <-deadline:
			t.Fatal("Events channel did not close")
		}
	}
}

func TestSendAfterClose(t *testing.T) {
	server := mockProvider(t)
	defer server.Close()

	client, err := NewClient(testClientConfig(wsURL(server)), testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	stream, err := client.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	stream.Close()

	if err := stream.Send([]byte{0x00, 0x01}); err != ErrStreamClosed {
		t.Errorf("Expected ErrStreamClosed, got %v", err)
	}
	if err := stream.Finalize(); err != ErrStreamClosed {
		t.Errorf("Expected ErrStreamClosed, got %v", err)
	}
}

func TestConnectFailsAfterBoundedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	config := testClientConfig(wsURL(server))
	config.MaxConnectRetries = 1
	client, err := NewClient(config, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.Connect(ctx); err == nil {
		t.Fatal("Expected connect to fail")
	}

	stats := client.GetStats()
	if stats.ConnectRetries != 1 {
		t.Errorf("Expected 1 retry, got %d", stats.ConnectRetries)
	}
	if stats.Failures != 1 {
		t.Errorf("Expected 1 failure, got %d", stats.Failures)
	}
	if stats.Connects != 0 {
		t.Errorf("Expected 0 connects, got %d", stats.Connects)
	}
}

func TestStreamKeepAlive(t *testing.T) {
	keepalives := make(chan struct{}, 16)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), "KeepAlive") {
				keepalives <- struct{}{}
			}
		}
	}))
	defer server.Close()

	config := testClientConfig(wsURL(server))
	config.KeepAliveInterval = 50 * time.Millisecond
	client, err := NewClient(config, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	stream, err := client.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer stream.Close()

	for i := 0; i < 2; i++ {
		select {
		case <-keepalives:
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for keepalive %d", i+1)
		}
	}
}
