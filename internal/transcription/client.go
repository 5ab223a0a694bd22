package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrStreamClosed is returned when sending on a stream that has shut down.
var ErrStreamClosed = errors.New("transcription stream is closed")

// Config contains speech provider client configuration
type Config struct {
	URL               string
	APIKey            string
	Model             string
	Language          string
	SampleRate        int
	Channels          int
	UtteranceEndMS    int
	EndpointingMS     int
	Keywords          []string
	ConnectTimeout    time.Duration
	MaxConnectRetries int
	KeepAliveInterval time.Duration
	SendQueueSize     int
}

// Event is one decoded transcription update from the provider.
type Event struct {
	Text         string
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
	// SpeakerIndex is the diarization index of the first word, nil when
	// the provider did not attribute a speaker.
	SpeakerIndex *int
	// Confidence is the provider's confidence in the transcript, nil when
	// not reported. Absence is meaningful and must not collapse to zero.
	Confidence *float64
	// Timestamp is the start offset in seconds of the first word.
	Timestamp *float64
}

// Streamer is the interface a live transcription stream presents to the
// session layer. Events closes when the stream ends; Err reports the
// terminal error, if any.
type Streamer interface {
	Send(pcm []byte) error
	Finalize() error
	Events() <-chan Event
	Err() error
	Close() error
}

// Connector opens transcription streams.
type Connector interface {
	Connect(ctx context.Context) (Streamer, error)
}

// Client dials the speech provider WebSocket endpoint with bounded retries.
type Client struct {
	config Config
	dialer *websocket.Dialer
	logger *slog.Logger

	// Statistics
	connects       uint64
	connectRetries uint64
	failures       uint64

	mu sync.RWMutex
}

// NewClient creates a new speech provider client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("provider URL cannot be empty")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.Channels <= 0 {
		config.Channels = 1
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.MaxConnectRetries < 0 {
		config.MaxConnectRetries = 3
	}
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = 5 * time.Second
	}
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = 128
	}

	return &Client{
		config: config,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.ConnectTimeout,
		},
	}, nil
}

// BuildURL assembles the provider endpoint with streaming query parameters.
func (c *Client) BuildURL() (string, error) {
	endpoint, err := url.Parse(c.config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid provider URL: %w", err)
	}

	q := endpoint.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(c.config.SampleRate))
	q.Set("channels", strconv.Itoa(c.config.Channels))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("diarize", "true")
	q.Set("numerals", "true")
	q.Set("vad_events", "true")
	if c.config.Model != "" {
		q.Set("model", c.config.Model)
	}
	if c.config.Language != "" {
		q.Set("language", c.config.Language)
	}
	if c.config.UtteranceEndMS > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(c.config.UtteranceEndMS))
	}
	if c.config.EndpointingMS > 0 {
		q.Set("endpointing", strconv.Itoa(c.config.EndpointingMS))
	}
	for _, keyword := range c.config.Keywords {
		q.Add("keywords", keyword)
	}
	endpoint.RawQuery = q.Encode()

	return endpoint.String(), nil
}

// Connect opens a live transcription stream, retrying transient dial
// failures with exponential backoff. The number of attempts is bounded;
// a stream is never retried silently after it has delivered events.
func (c *Client) Connect(ctx context.Context) (Streamer, error) {
	endpoint, err := c.BuildURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+c.config.APIKey)

	var lastErr error

	for attempt := 1; attempt <= c.config.MaxConnectRetries+1; attempt++ {
		if attempt > 1 {
			c.incrementConnectRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-2))) * time.Second
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
		if err == nil {
			c.incrementConnects()
			c.logger.Debug("Speech provider stream opened", "attempt", attempt)
			return newStream(conn, c.config, c.logger), nil
		}

		if resp != nil {
			err = fmt.Errorf("HTTP error %d: %w", resp.StatusCode, err)
		}
		lastErr = err
		c.logger.Warn("Speech provider connect failed",
			"attempt", attempt,
			"max_attempts", c.config.MaxConnectRetries+1,
			"error", err)

		if !isRetryableError(err) {
			break
		}
	}

	c.incrementFailures()
	return nil, fmt.Errorf("connect to speech provider failed: %w", lastErr)
}

// isRetryableError determines if a dial error is worth another attempt
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := err.Error()

	// 5xx server errors and rate limiting are retryable
	if strings.Contains(errStr, "HTTP error 5") || strings.Contains(errStr, "HTTP error 429") {
		return true
	}

	// Network errors are typically transient
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused") ||
		strings.Contains(errStr, "handshake") {
		return true
	}

	return false
}

// Statistics methods
func (c *Client) incrementConnects() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
}

func (c *Client) incrementConnectRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectRetries++
}

func (c *Client) incrementFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
}

// ClientStats represents client statistics
type ClientStats struct {
	Connects       uint64 `json:"connects"`
	ConnectRetries uint64 `json:"connect_retries"`
	Failures       uint64 `json:"failures"`
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ClientStats{
		Connects:       c.connects,
		ConnectRetries: c.connectRetries,
		Failures:       c.failures,
	}
}
