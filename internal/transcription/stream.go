package transcription

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Control messages understood by the provider
var (
	finalizeMessage  = []byte(`{"type":"Finalize"}`)
	keepAliveMessage = []byte(`{"type":"KeepAlive"}`)
)

// response mirrors the provider's live result frame. Only the fields the
// service consumes are decoded.
type response struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence *float64 `json:"confidence"`
			Words      []struct {
				Word    string  `json:"word"`
				Start   float64 `json:"start"`
				End     float64 `json:"end"`
				Speaker *int    `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type outboundMessage struct {
	binary bool
	data   []byte
}

// Stream is one live connection to the speech provider. A dedicated writer
// goroutine serializes audio and control frames; a reader goroutine decodes
// result frames onto the Events channel. The Events channel closes when the
// stream ends for any reason; Err distinguishes failure from normal close.
type Stream struct {
	conn   *websocket.Conn
	logger *slog.Logger
	events chan Event
	send   chan outboundMessage
	done   chan struct{}

	closeOnce sync.Once
	err       error
	errMu     sync.Mutex
}

func newStream(conn *websocket.Conn, config Config, logger *slog.Logger) *Stream {
	s := &Stream{
		conn:   conn,
		logger: logger,
		events: make(chan Event, 64),
		send:   make(chan outboundMessage, config.SendQueueSize),
		done:   make(chan struct{}),
	}

	go s.writeLoop(config.KeepAliveInterval)
	go s.readLoop()

	return s
}

// Send queues one chunk of linear16 PCM for the provider. It blocks while
// the queue is full and fails once the stream has closed.
func (s *Stream) Send(pcm []byte) error {
	return s.enqueue(outboundMessage{binary: true, data: pcm})
}

// Finalize asks the provider to flush any buffered audio into final
// results. Results produced this way arrive with FromFinalize set.
func (s *Stream) Finalize() error {
	return s.enqueue(outboundMessage{data: finalizeMessage})
}

func (s *Stream) enqueue(msg outboundMessage) error {
	// The closed check runs first: a select with both cases ready picks
	// at random and could enqueue onto a dead stream.
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}

	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrStreamClosed
	}
}

// Events returns the decoded result channel
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Err returns the terminal stream error, or nil after a clean close
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close shuts the stream down and releases the connection. Safe to call
// more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		// Best-effort close handshake before dropping the connection.
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.conn.Close()
	})
	return nil
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// writeLoop is the only goroutine writing data frames. Keepalives go out
// whenever the send queue stays quiet for a full interval.
func (s *Stream) writeLoop(keepAlive time.Duration) {
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			messageType := websocket.TextMessage
			if msg.binary {
				messageType = websocket.BinaryMessage
			}
			if err := s.conn.WriteMessage(messageType, msg.data); err != nil {
				s.setErr(err)
				s.Close()
				return
			}
			ticker.Reset(keepAlive)
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.TextMessage, keepAliveMessage); err != nil {
				s.setErr(err)
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop decodes provider frames until the connection ends, then closes
// the events channel.
func (s *Stream) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Expected after Close; not a failure.
			default:
				s.setErr(err)
				s.Close()
			}
			return
		}

		event, ok, decodeErr := decodeEvent(data)
		if decodeErr != nil {
			// Malformed provider frame: drop it and keep the stream alive.
			s.logger.Debug("Skipping undecodable provider frame", "error", decodeErr)
			continue
		}
		if !ok {
			continue
		}

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

// decodeEvent converts one provider frame into an Event. Frames that carry
// no transcription result (metadata, utterance markers) are skipped with
// ok false; a non-nil error means the frame was not valid JSON at all.
func decodeEvent(data []byte) (Event, bool, error) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Event{}, false, err
	}

	if resp.Type != "Results" {
		return Event{}, false, nil
	}
	if len(resp.Channel.Alternatives) == 0 {
		return Event{}, false, nil
	}

	alt := resp.Channel.Alternatives[0]
	event := Event{
		Text:         strings.TrimSpace(alt.Transcript),
		IsFinal:      resp.IsFinal,
		SpeechFinal:  resp.SpeechFinal,
		FromFinalize: resp.FromFinalize,
		Confidence:   alt.Confidence,
	}

	if len(alt.Words) > 0 {
		if alt.Words[0].Speaker != nil {
			speaker := *alt.Words[0].Speaker
			event.SpeakerIndex = &speaker
		}
		start := alt.Words[0].Start
		event.Timestamp = &start
	}

	return event, true, nil
}
