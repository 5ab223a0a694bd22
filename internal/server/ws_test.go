package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/analysis"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/config"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/protocol"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/session"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/transcription"
)

const stubAnalysisReply = `{"summary":"Short visit","soap_note_with_sources":{}}`

// fakeStream is an in-memory provider stream.
type fakeStream struct {
	events chan transcription.Event

	mu        sync.Mutex
	sent      int
	finalized bool
	closed    bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan transcription.Event, 16)}
}

func (f *fakeStream) Send(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transcription.ErrStreamClosed
	}
	f.sent++
	return nil
}

func (f *fakeStream) Finalize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = true
	return nil
}

func (f *fakeStream) Events() <-chan transcription.Event {
	return f.events
}

func (f *fakeStream) Err() error {
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeStream) emit(event transcription.Event) {
	f.events <- event
}

func (f *fakeStream) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func (f *fakeStream) wasFinalized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalized
}

// fakeConnector hands out fake streams, or fails when err is set.
type fakeConnector struct {
	mu     sync.Mutex
	stream *fakeStream
	err    error
}

func (f *fakeConnector) Connect(ctx context.Context) (transcription.Streamer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.stream == nil {
		f.stream = newFakeStream()
	}
	return f.stream, nil
}

func (f *fakeConnector) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeConnector) lastStream() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stream
}

type stubCompleter struct{}

func (stubCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return stubAnalysisReply, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T) (*WSServer, *httptest.Server, *fakeConnector) {
	t.Helper()

	connector := &fakeConnector{}
	analyzer := analysis.NewAnalyzer(stubCompleter{}, nil, analysis.AnalyzerConfig{}, testLogger())
	manager := session.NewManager(session.ManagerConfig{
		MaxSessions:     4,
		IdleTimeout:     time.Minute,
		CleanupInterval: time.Minute,
		Session:         session.Config{StopGrace: 2 * time.Second},
	}, connector, analyzer, nil, nil, testLogger())

	ws := NewWSServer(config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            0,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxMessageSize:  1 << 20,
		SendQueueSize:   64,
	}, manager, nil, testLogger())

	srv := httptest.NewServer(http.HandlerFunc(ws.handleUpgrade))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ws.Stop(ctx)
		srv.Close()
		manager.Stop()
	})

	return ws, srv, connector
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", url, err)
	}
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		t.Fatalf("failed to build %s message: %v", event, err)
	}
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("failed to encode %s message: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to send %s message: %v", event, err)
	}
}

// awaitEvent reads server messages until one carries the wanted event name.
func awaitEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s event: %v", event, err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatalf("malformed server message: %v", err)
		}
		if msg.Event == event {
			return msg.Data
		}
	}
}

// awaitStatus reads until a status event carries the wanted status value.
func awaitStatus(t *testing.T, conn *websocket.Conn, status string) protocol.Status {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q status: %v", status, err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatalf("malformed server message: %v", err)
		}
		if msg.Event != protocol.EventStatus {
			continue
		}
		var payload protocol.Status
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Fatalf("malformed status payload: %v", err)
		}
		if payload.Status == status {
			return payload
		}
	}
}

// awaitNotice reads until a status event with no status value arrives.
func awaitNotice(t *testing.T, conn *websocket.Conn) protocol.Status {
	t.Helper()
	return awaitStatus(t, conn, "")
}

func awaitError(t *testing.T, conn *websocket.Conn) protocol.ErrorPayload {
	t.Helper()
	var payload protocol.ErrorPayload
	data := awaitEvent(t, conn, protocol.EventError)
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("malformed error payload: %v", err)
	}
	return payload
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestClientConnectReceivesStatus(t *testing.T) {
	ws, srv, _ := newTestServer(t)

	conn := dial(t, srv)
	defer conn.Close()

	status := awaitStatus(t, conn, protocol.StatusConnected)
	if status.Message == "" {
		t.Error("connected status should carry a message")
	}

	waitFor(t, time.Second, func() bool { return ws.ClientCount() == 1 },
		"client never registered")
	if got := ws.GetStats().TotalClients; got != 1 {
		t.Errorf("expected 1 total client, got %d", got)
	}
}

func TestRecordingLifecycleOverWebSocket(t *testing.T) {
	ws, srv, connector := newTestServer(t)

	conn := dial(t, srv)
	defer conn.Close()
	awaitStatus(t, conn, protocol.StatusConnected)

	sendEvent(t, conn, protocol.EventStartTranscription, nil)
	awaitEvent(t, conn, protocol.EventClearSession)
	started := awaitStatus(t, conn, protocol.StatusRecordingStarted)
	if started.SessionID == "" {
		t.Error("recording_started status should carry the session ID")
	}

	sendEvent(t, conn, protocol.EventAudioData, protocol.EncodeAudioData([]byte{1, 2, 3, 4}))
	stream := connector.lastStream()
	if stream == nil {
		t.Fatal("no provider stream was opened")
	}
	waitFor(t, 2*time.Second, func() bool { return stream.sentCount() == 1 },
		"audio chunk never reached the provider stream")

	speaker := 0
	confidence := 0.93
	stream.emit(transcription.Event{Text: "I have a", SpeakerIndex: &speaker, Confidence: &confidence})
	stream.emit(transcription.Event{Text: "I have a headache", IsFinal: true, SpeechFinal: true,
		SpeakerIndex: &speaker, Confidence: &confidence})

	var interim, final protocol.Transcript
	if err := json.Unmarshal(awaitEvent(t, conn, protocol.EventTranscript), &interim); err != nil {
		t.Fatalf("malformed transcript payload: %v", err)
	}
	if interim.IsFinal || interim.ID != 0 {
		t.Errorf("expected interim transcript first, got %+v", interim)
	}
	if err := json.Unmarshal(awaitEvent(t, conn, protocol.EventTranscript), &final); err != nil {
		t.Fatalf("malformed transcript payload: %v", err)
	}
	if !final.IsFinal || final.ID != 1 || final.Speaker != "doctor" {
		t.Errorf("unexpected final transcript: %+v", final)
	}
	if final.Confidence == nil || *final.Confidence != confidence {
		t.Errorf("final transcript lost its confidence: %+v", final)
	}

	sendEvent(t, conn, protocol.EventStopTranscription, nil)
	awaitStatus(t, conn, protocol.StatusRecordingStopped)
	waitFor(t, 2*time.Second, stream.wasFinalized, "provider stream never finalized")
	stream.emit(transcription.Event{IsFinal: true, FromFinalize: true})

	awaitStatus(t, conn, protocol.StatusAnalyzing)
	var result analysis.Result
	if err := json.Unmarshal(awaitEvent(t, conn, protocol.EventConversationAnalysis), &result); err != nil {
		t.Fatalf("malformed analysis payload: %v", err)
	}
	if result.Failed() {
		t.Errorf("analysis should succeed, got error %q", result.Error)
	}
	if result.Summary != "Short visit" {
		t.Errorf("unexpected analysis summary %q", result.Summary)
	}

	stats := ws.GetStats()
	if stats.MessagesReceived < 3 {
		t.Errorf("expected at least 3 received messages, got %d", stats.MessagesReceived)
	}
	if stats.MessagesSent < 5 {
		t.Errorf("expected at least 5 sent messages, got %d", stats.MessagesSent)
	}
}

func TestStartWhileRecordingRejected(t *testing.T) {
	_, srv, _ := newTestServer(t)

	conn := dial(t, srv)
	defer conn.Close()
	awaitStatus(t, conn, protocol.StatusConnected)

	sendEvent(t, conn, protocol.EventStartTranscription, nil)
	awaitStatus(t, conn, protocol.StatusRecordingStarted)

	sendEvent(t, conn, protocol.EventStartTranscription, nil)
	errPayload := awaitError(t, conn)
	if errPayload.Kind != protocol.ErrorKindProtocol {
		t.Errorf("expected protocol error, got kind %q", errPayload.Kind)
	}
	if !strings.Contains(errPayload.Message, "already in progress") {
		t.Errorf("unexpected error message %q", errPayload.Message)
	}
}

func TestStopWithoutRecordingRejected(t *testing.T) {
	_, srv, _ := newTestServer(t)

	conn := dial(t, srv)
	defer conn.Close()
	awaitStatus(t, conn, protocol.StatusConnected)

	sendEvent(t, conn, protocol.EventStopTranscription, nil)
	errPayload := awaitError(t, conn)
	if errPayload.Kind != protocol.ErrorKindProtocol {
		t.Errorf("expected protocol error, got kind %q", errPayload.Kind)
	}
	if !strings.Contains(errPayload.Message, "No active recording") {
		t.Errorf("unexpected error message %q", errPayload.Message)
	}
}

func TestInvalidAudioRejected(t *testing.T) {
	_, srv, _ := newTestServer(t)

	conn := dial(t, srv)
	defer conn.Close()
	awaitStatus(t, conn, protocol.StatusConnected)

	sendEvent(t, conn, protocol.EventStartTranscription, nil)
	awaitStatus(t, conn, protocol.StatusRecordingStarted)

	sendEvent(t, conn, protocol.EventAudioData, protocol.AudioData{Audio: "!!not-base64!!"})
	errPayload := awaitError(t, conn)
	if errPayload.Kind != protocol.ErrorKindProtocol {
		t.Errorf("expected protocol error, got kind %q", errPayload.Kind)
	}
}

func TestUnsupportedEventRejected(t *testing.T) {
	_, srv, _ := newTestServer(t)

	conn := dial(t, srv)
	defer conn.Close()
	awaitStatus(t, conn, protocol.StatusConnected)

	sendEvent(t, conn, "reboot_server", nil)
	errPayload := awaitError(t, conn)
	if errPayload.Kind != protocol.ErrorKindProtocol {
		t.Errorf("expected protocol error, got kind %q", errPayload.Kind)
	}
	if !strings.Contains(errPayload.Message, "reboot_server") {
		t.Errorf("error should name the offending event, got %q", errPayload.Message)
	}
}

func TestRetryWithoutSessionSendsNotice(t *testing.T) {
	_, srv, _ := newTestServer(t)

	conn := dial(t, srv)
	defer conn.Close()
	awaitStatus(t, conn, protocol.StatusConnected)

	sendEvent(t, conn, protocol.EventRetryAnalysis, nil)
	notice := awaitNotice(t, conn)
	if notice.Message != "No transcript available to analyze" {
		t.Errorf("unexpected notice %q", notice.Message)
	}
}

func TestTestAnalysisWithoutSession(t *testing.T) {
	_, srv, _ := newTestServer(t)

	conn := dial(t, srv)
	defer conn.Close()
	awaitStatus(t, conn, protocol.StatusConnected)

	sendEvent(t, conn, protocol.EventTestAnalysis, nil)

	var result analysis.Result
	if err := json.Unmarshal(awaitEvent(t, conn, protocol.EventConversationAnalysis), &result); err != nil {
		t.Fatalf("malformed analysis payload: %v", err)
	}
	if !result.IsTest {
		t.Error("test analysis result should be flagged is_test")
	}
	if result.Failed() {
		t.Errorf("test analysis should never fail, got %q", result.Error)
	}

	notice := awaitNotice(t, conn)
	if !strings.Contains(notice.Message, "Test analysis") {
		t.Errorf("unexpected completion notice %q", notice.Message)
	}
}

func TestConnectFailureSurfacesTransportError(t *testing.T) {
	ws, srv, connector := newTestServer(t)
	connector.setErr(errors.New("dial tcp: connection refused"))

	conn := dial(t, srv)
	defer conn.Close()
	awaitStatus(t, conn, protocol.StatusConnected)

	sendEvent(t, conn, protocol.EventStartTranscription, nil)
	errPayload := awaitError(t, conn)
	if errPayload.Kind != protocol.ErrorKindTransport {
		t.Errorf("expected transport error, got kind %q", errPayload.Kind)
	}

	waitFor(t, time.Second, func() bool { return ws.manager.ActiveCount() == 0 },
		"failed session was not removed")
}

func TestDisconnectCleansUpSession(t *testing.T) {
	ws, srv, _ := newTestServer(t)

	conn := dial(t, srv)
	awaitStatus(t, conn, protocol.StatusConnected)

	sendEvent(t, conn, protocol.EventStartTranscription, nil)
	awaitStatus(t, conn, protocol.StatusRecordingStarted)
	if got := ws.manager.ActiveCount(); got != 1 {
		t.Fatalf("expected 1 active session, got %d", got)
	}

	conn.Close()

	waitFor(t, 2*time.Second, func() bool { return ws.manager.ActiveCount() == 0 },
		"session survived its client's disconnect")
	waitFor(t, 2*time.Second, func() bool { return ws.ClientCount() == 0 },
		"client was never unregistered")
}

func TestServerStopClosesClients(t *testing.T) {
	ws, srv, _ := newTestServer(t)

	conn := dial(t, srv)
	defer conn.Close()
	awaitStatus(t, conn, protocol.StatusConnected)

	sendEvent(t, conn, protocol.EventStartTranscription, nil)
	awaitStatus(t, conn, protocol.StatusRecordingStarted)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Stop(ctx); err != nil {
		t.Fatalf("server stop failed: %v", err)
	}

	if got := ws.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after stop, got %d", got)
	}
	if got := ws.manager.ActiveCount(); got != 0 {
		t.Errorf("expected 0 active sessions after stop, got %d", got)
	}
}
