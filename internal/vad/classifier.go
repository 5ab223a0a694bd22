package vad

import (
	"fmt"
	"sync"
)

// Result reports the classification of a single conditioned frame.
type Result struct {
	// Speech is the instantaneous decision for this frame.
	Speech bool
	// Active is the hysteresis state: true once enough consecutive speech
	// evidence has accumulated and recent silence stays within tolerance.
	Active bool
	// NoiseFloor is the smoothed background level after this frame.
	NoiseFloor float64
	// RMS and Peak echo the levels the decision was made on.
	RMS  float64
	Peak float64
}

// Config contains voice classification parameters.
type Config struct {
	// BaseThreshold is the minimum RMS a speech frame must exceed even in
	// a silent room.
	BaseThreshold float64
	// PeakFloor is the minimum peak amplitude a speech frame must reach.
	PeakFloor float64
	// NoiseSmoothing is the weight of the previous floor estimate when
	// folding in a new frame; must be in [0, 1).
	NoiseSmoothing float64
	// SpeechRatio scales the noise floor into an adaptive threshold.
	SpeechRatio float64
	// SpeechCountThreshold is how much accumulated speech evidence is
	// required before the stream counts as actively speaking.
	SpeechCountThreshold int
	// SilenceCountTolerance is how many recent silent frames end the
	// active-speech state.
	SilenceCountTolerance int
}

// Classifier decides per frame whether the conditioned audio carries speech,
// tracking the background noise level so the decision adapts to the room.
// Isolated loud frames do not flip the stream into active speech and brief
// pauses do not end it; the Active flag carries hysteresis in both
// directions.
type Classifier struct {
	config Config

	noiseFloor   float64
	speechCount  int
	silenceCount int

	// Statistics
	framesProcessed uint64
	speechFrames    uint64

	mu sync.Mutex
}

// NewClassifier creates a classifier with the given configuration
func NewClassifier(config Config) (*Classifier, error) {
	if config.BaseThreshold <= 0 {
		return nil, fmt.Errorf("base threshold must be positive, got %g", config.BaseThreshold)
	}
	if config.PeakFloor <= 0 {
		return nil, fmt.Errorf("peak floor must be positive, got %g", config.PeakFloor)
	}
	if config.NoiseSmoothing < 0 || config.NoiseSmoothing >= 1 {
		return nil, fmt.Errorf("noise smoothing must be in [0, 1), got %g", config.NoiseSmoothing)
	}
	if config.SpeechRatio <= 0 {
		return nil, fmt.Errorf("speech ratio must be positive, got %g", config.SpeechRatio)
	}
	if config.SpeechCountThreshold <= 0 {
		return nil, fmt.Errorf("speech count threshold must be positive, got %d", config.SpeechCountThreshold)
	}
	if config.SilenceCountTolerance <= 0 {
		return nil, fmt.Errorf("silence count tolerance must be positive, got %d", config.SilenceCountTolerance)
	}

	return &Classifier{config: config}, nil
}

// Process classifies one frame from its measured levels. The frame is
// compared against the floor estimate from preceding frames before the
// estimate absorbs the new level, so a loud frame cannot raise the bar
// for itself.
func (c *Classifier) Process(rms, peak float64) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	threshold := c.config.BaseThreshold
	if adaptive := c.noiseFloor * c.config.SpeechRatio; adaptive > threshold {
		threshold = adaptive
	}

	speech := rms > threshold && peak > c.config.PeakFloor

	c.noiseFloor = c.config.NoiseSmoothing*c.noiseFloor + (1-c.config.NoiseSmoothing)*rms

	if speech {
		c.speechCount++
		c.silenceCount = 0
		c.speechFrames++
	} else {
		if c.speechCount > 0 {
			c.speechCount--
		}
		c.silenceCount++
	}
	c.framesProcessed++

	return Result{
		Speech:     speech,
		Active:     c.speechCount > c.config.SpeechCountThreshold && c.silenceCount < c.config.SilenceCountTolerance,
		NoiseFloor: c.noiseFloor,
		RMS:        rms,
		Peak:       peak,
	}
}

// Reset clears classification state for a new stream
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.noiseFloor = 0
	c.speechCount = 0
	c.silenceCount = 0
	c.framesProcessed = 0
	c.speechFrames = 0
}

// Stats contains classifier counters
type Stats struct {
	FramesProcessed  uint64  `json:"frames_processed"`
	SpeechFrames     uint64  `json:"speech_frames"`
	SpeechPercentage float64 `json:"speech_percentage"`
	NoiseFloor       float64 `json:"noise_floor"`
	SpeechCount      int     `json:"speech_count"`
	SilenceCount     int     `json:"silence_count"`
}

// GetStats returns current classifier statistics
func (c *Classifier) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		FramesProcessed: c.framesProcessed,
		SpeechFrames:    c.speechFrames,
		NoiseFloor:      c.noiseFloor,
		SpeechCount:     c.speechCount,
		SilenceCount:    c.silenceCount,
	}
	if c.framesProcessed > 0 {
		stats.SpeechPercentage = float64(c.speechFrames) / float64(c.framesProcessed) * 100
	}
	return stats
}
