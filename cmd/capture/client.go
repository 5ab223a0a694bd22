package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/analysis"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/protocol"
)

const clientWriteWait = 10 * time.Second

// boundaryClient is the WebSocket side of the capture pipeline. A single
// goroutine reads server events, printing transcript updates as they arrive
// and routing lifecycle signals onto the channels the recording flow blocks
// on.
type boundaryClient struct {
	conn   *websocket.Conn
	logger *slog.Logger

	// Chunk sends and control events share the connection.
	writeMu sync.Mutex

	status   chan protocol.Status
	errors   chan protocol.ErrorPayload
	analysis chan analysis.Result
	done     chan struct{}
}

func dialBoundary(ctx context.Context, url string, logger *slog.Logger) (*boundaryClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &boundaryClient{
		conn:     conn,
		logger:   logger,
		status:   make(chan protocol.Status, 8),
		errors:   make(chan protocol.ErrorPayload, 8),
		analysis: make(chan analysis.Result, 1),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// send encodes and writes one event to the service.
func (c *boundaryClient) send(event string, payload any) error {
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		return err
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// sendChunk ships one flushed span of 16-bit PCM as an audio_data event.
func (c *boundaryClient) sendChunk(pcm []byte) error {
	return c.send(protocol.EventAudioData, protocol.EncodeAudioData(pcm))
}

func (c *boundaryClient) close() {
	c.conn.Close()
}

// readLoop decodes server events until the connection drops.
func (c *boundaryClient) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Connection closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Warn("Unreadable server message", slog.String("error", err.Error()))
			continue
		}
		c.handle(msg)
	}
}

func (c *boundaryClient) handle(msg *protocol.Message) {
	switch msg.Event {
	case protocol.EventStatus:
		var st protocol.Status
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			c.logger.Warn("Malformed status payload", slog.String("error", err.Error()))
			return
		}
		printStatus(st)
		select {
		case c.status <- st:
		default:
			c.logger.Debug("Status unconsumed", slog.String("status", st.Status))
		}
	case protocol.EventClearSession:
		// The service resets its transcript state ahead of a new
		// recording; nothing to do locally.
	case protocol.EventTranscript:
		var tr protocol.Transcript
		if err := json.Unmarshal(msg.Data, &tr); err != nil {
			c.logger.Warn("Malformed transcript payload", slog.String("error", err.Error()))
			return
		}
		printTranscript(tr)
	case protocol.EventError:
		var ep protocol.ErrorPayload
		if err := json.Unmarshal(msg.Data, &ep); err != nil {
			c.logger.Warn("Malformed error payload", slog.String("error", err.Error()))
			return
		}
		select {
		case c.errors <- ep:
		default:
			c.logger.Warn("Server error unconsumed",
				slog.String("kind", ep.Kind),
				slog.String("message", ep.Message))
		}
	case protocol.EventConversationAnalysis:
		var res analysis.Result
		if err := json.Unmarshal(msg.Data, &res); err != nil {
			c.logger.Warn("Malformed analysis payload", slog.String("error", err.Error()))
			return
		}
		select {
		case c.analysis <- res:
		default:
		}
	default:
		c.logger.Debug("Ignoring unknown event", slog.String("event", msg.Event))
	}
}

// printStatus renders one lifecycle notice. Any pending interim line is
// cleared first so notices never interleave mid-line.
func printStatus(st protocol.Status) {
	switch {
	case st.Message != "":
		fmt.Printf("\r\x1b[K-- %s\n", st.Message)
	case st.Status != "":
		fmt.Printf("\r\x1b[K-- %s\n", strings.ReplaceAll(st.Status, "_", " "))
	}
}
