package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/vad"
)

// FlushReason identifies which condition released a chunk.
type FlushReason string

const (
	// FlushSpeech means a voice-activity condition released the chunk early.
	FlushSpeech FlushReason = "speech-detected"
	// FlushMaxSize means the hard buffer cap forced the flush.
	FlushMaxSize FlushReason = "max-size"
	// FlushTimer means the periodic flush released buffered audio.
	FlushTimer FlushReason = "timer"
)

// Chunk is a contiguous span of conditioned audio converted to 16-bit PCM,
// ready for the transcription provider.
type Chunk struct {
	Samples   []int16
	Reason    FlushReason
	StartSeq  uint64
	EndSeq    uint64
	Duration  time.Duration
	CreatedAt time.Time
}

// Bytes encodes the chunk as little-endian PCM for the wire.
func (c *Chunk) Bytes() []byte {
	return PCM16ToBytes(c.Samples)
}

// ChunkerConfig holds chunking parameters in samples. Watermarks must be
// ordered low < mid < max.
type ChunkerConfig struct {
	SampleRate   int
	LowWatermark int
	MidWatermark int
	MaxBuffer    int
}

// ChunkerConfigFromDurations converts second-based thresholds to samples.
func ChunkerConfigFromDurations(sampleRate int, low, mid, max float64) ChunkerConfig {
	return ChunkerConfig{
		SampleRate:   sampleRate,
		LowWatermark: int(low * float64(sampleRate)),
		MidWatermark: int(mid * float64(sampleRate)),
		MaxBuffer:    int(max * float64(sampleRate)),
	}
}

// Chunker accumulates conditioned frames and decides when enough audio has
// gathered to be worth a network send. Sends happen earlier while someone is
// speaking and later during silence, trading latency against chunk overhead:
//
//   - sustained speech flushes at the low watermark
//   - any detected audio flushes at the mid watermark
//   - the hard cap flushes regardless of activity
//
// A periodic timer flush keeps latency bounded below one second even when
// no watermark is reached.
type Chunker struct {
	config ChunkerConfig

	buf      []float32
	startSeq uint64
	nextSeq  uint64

	// Statistics
	chunksFlushed  uint64
	samplesFlushed uint64
	speechFlushes  uint64
	maxSizeFlushes uint64
	timerFlushes   uint64

	mu sync.Mutex
}

// NewChunker creates a chunker with the given configuration
func NewChunker(config ChunkerConfig) (*Chunker, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.LowWatermark <= 0 {
		return nil, fmt.Errorf("low watermark must be positive, got %d", config.LowWatermark)
	}
	if config.MidWatermark <= config.LowWatermark {
		return nil, fmt.Errorf("mid watermark %d must exceed low watermark %d",
			config.MidWatermark, config.LowWatermark)
	}
	if config.MaxBuffer <= config.MidWatermark {
		return nil, fmt.Errorf("max buffer %d must exceed mid watermark %d",
			config.MaxBuffer, config.MidWatermark)
	}

	return &Chunker{
		config: config,
		buf:    make([]float32, 0, config.MaxBuffer),
	}, nil
}

// Add appends one classified frame to the buffer and returns a chunk when a
// flush condition is met, nil otherwise. Frames are assigned monotonically
// increasing sequence numbers; a returned chunk covers [StartSeq, EndSeq].
func (c *Chunker) Add(frame []float32, result vad.Result) *Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) == 0 {
		c.startSeq = c.nextSeq
	}
	c.nextSeq++
	c.buf = append(c.buf, frame...)

	buffered := len(c.buf)
	switch {
	case result.Active && buffered >= c.config.LowWatermark:
		return c.flushLocked(FlushSpeech)
	case result.Speech && buffered >= c.config.MidWatermark:
		return c.flushLocked(FlushSpeech)
	case buffered >= c.config.MaxBuffer:
		return c.flushLocked(FlushMaxSize)
	}
	return nil
}

// TimerFlush releases whatever audio is buffered. Returns nil when the
// buffer is empty so idle periods produce no traffic.
func (c *Chunker) TimerFlush() *Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) == 0 {
		return nil
	}
	return c.flushLocked(FlushTimer)
}

// flushLocked converts the buffer to PCM and resets it. Caller holds the lock.
func (c *Chunker) flushLocked(reason FlushReason) *Chunk {
	chunk := &Chunk{
		Samples:   FloatToPCM16(c.buf),
		Reason:    reason,
		StartSeq:  c.startSeq,
		EndSeq:    c.nextSeq - 1,
		Duration:  SamplesDuration(len(c.buf), c.config.SampleRate),
		CreatedAt: time.Now(),
	}

	c.buf = c.buf[:0]

	c.chunksFlushed++
	c.samplesFlushed += uint64(len(chunk.Samples))
	switch reason {
	case FlushSpeech:
		c.speechFlushes++
	case FlushMaxSize:
		c.maxSizeFlushes++
	case FlushTimer:
		c.timerFlushes++
	}

	return chunk
}

// BufferedSamples returns the number of samples awaiting flush
func (c *Chunker) BufferedSamples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Reset discards buffered audio and statistics
func (c *Chunker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = c.buf[:0]
	c.startSeq = 0
	c.nextSeq = 0
	c.chunksFlushed = 0
	c.samplesFlushed = 0
	c.speechFlushes = 0
	c.maxSizeFlushes = 0
	c.timerFlushes = 0
}

// ChunkerStats contains chunker counters
type ChunkerStats struct {
	ChunksFlushed   uint64 `json:"chunks_flushed"`
	SamplesFlushed  uint64 `json:"samples_flushed"`
	SpeechFlushes   uint64 `json:"speech_flushes"`
	MaxSizeFlushes  uint64 `json:"max_size_flushes"`
	TimerFlushes    uint64 `json:"timer_flushes"`
	BufferedSamples int    `json:"buffered_samples"`
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ChunkerStats{
		ChunksFlushed:   c.chunksFlushed,
		SamplesFlushed:  c.samplesFlushed,
		SpeechFlushes:   c.speechFlushes,
		MaxSizeFlushes:  c.maxSizeFlushes,
		TimerFlushes:    c.timerFlushes,
		BufferedSamples: len(c.buf),
	}
}
