package audio

import (
	"fmt"
	"math"
)

// Levels carries the per-frame measurements taken after conditioning.
// The voice classifier consumes these to track the noise floor.
type Levels struct {
	RMS  float64
	Peak float64
}

// CompressorConfig shapes the dynamic range stage of the conditioner.
type CompressorConfig struct {
	ThresholdDB    float64
	Ratio          float64
	AttackSeconds  float64
	ReleaseSeconds float64
}

// ConditionerConfig holds the filter chain parameters.
type ConditionerConfig struct {
	SampleRate int
	HighpassHz float64
	LowpassHz  float64
	Gain       float64
	Compressor CompressorConfig
}

// Conditioner shapes raw capture audio for speech recognition: a high-pass
// filter removes rumble and handling noise, a compressor evens out the
// level difference between near and far talkers, a fixed gain lifts the
// result, and a low-pass filter bounds the bandwidth to the voice range.
//
// Process is not safe for concurrent use. A Conditioner belongs to a single
// capture stream and is driven from its callback.
type Conditioner struct {
	config   ConditionerConfig
	highpass *biquad
	lowpass  *biquad
	comp     *compressor

	framesProcessed uint64
	samplesClipped  uint64
}

// NewConditioner creates a conditioner with the given configuration
func NewConditioner(config ConditionerConfig) (*Conditioner, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	nyquist := float64(config.SampleRate) / 2
	if config.HighpassHz <= 0 || config.HighpassHz >= nyquist {
		return nil, fmt.Errorf("highpass cutoff must be in (0, %g), got %g", nyquist, config.HighpassHz)
	}
	if config.LowpassHz <= config.HighpassHz || config.LowpassHz > nyquist {
		return nil, fmt.Errorf("lowpass cutoff must be in (%g, %g], got %g", config.HighpassHz, nyquist, config.LowpassHz)
	}
	if config.Gain <= 0 {
		return nil, fmt.Errorf("gain must be positive, got %g", config.Gain)
	}
	if config.Compressor.Ratio < 1 {
		return nil, fmt.Errorf("compressor ratio must be >= 1, got %g", config.Compressor.Ratio)
	}

	return &Conditioner{
		config:   config,
		highpass: newHighpass(float64(config.SampleRate), config.HighpassHz),
		lowpass:  newLowpass(float64(config.SampleRate), config.LowpassHz),
		comp:     newCompressor(float64(config.SampleRate), config.Compressor),
	}, nil
}

// Process runs one frame through the filter chain in place and returns the
// RMS and peak levels of the conditioned audio. Samples that exceed the
// [-1, 1] range after gain are clamped.
func (c *Conditioner) Process(frame []float32) Levels {
	var sumSquares, peak float64

	for i, s := range frame {
		x := float64(s)
		x = c.highpass.process(x)
		x = c.comp.process(x)
		x *= c.config.Gain
		x = c.lowpass.process(x)

		if x > 1.0 {
			x = 1.0
			c.samplesClipped++
		} else if x < -1.0 {
			x = -1.0
			c.samplesClipped++
		}

		frame[i] = float32(x)

		sumSquares += x * x
		if abs := math.Abs(x); abs > peak {
			peak = abs
		}
	}

	c.framesProcessed++

	var rms float64
	if len(frame) > 0 {
		rms = math.Sqrt(sumSquares / float64(len(frame)))
	}
	return Levels{RMS: rms, Peak: peak}
}

// Reset clears all filter state so the conditioner can start a new stream
func (c *Conditioner) Reset() {
	c.highpass.reset()
	c.lowpass.reset()
	c.comp.reset()
	c.framesProcessed = 0
	c.samplesClipped = 0
}

// ConditionerStats contains conditioner counters
type ConditionerStats struct {
	FramesProcessed uint64 `json:"frames_processed"`
	SamplesClipped  uint64 `json:"samples_clipped"`
}

// GetStats returns current conditioner statistics
func (c *Conditioner) GetStats() ConditionerStats {
	return ConditionerStats{
		FramesProcessed: c.framesProcessed,
		SamplesClipped:  c.samplesClipped,
	}
}

// biquad is a single second-order IIR filter section in direct form I.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

func (f *biquad) reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

// butterworthQ gives a maximally flat passband for a single section.
const butterworthQ = 0.7071067811865476

func newHighpass(sampleRate, cutoff float64) *biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cosw0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * butterworthQ)
	a0 := 1 + alpha

	return &biquad{
		b0: (1 + cosw0) / 2 / a0,
		b1: -(1 + cosw0) / a0,
		b2: (1 + cosw0) / 2 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}
}

func newLowpass(sampleRate, cutoff float64) *biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cosw0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * butterworthQ)
	a0 := 1 + alpha

	return &biquad{
		b0: (1 - cosw0) / 2 / a0,
		b1: (1 - cosw0) / a0,
		b2: (1 - cosw0) / 2 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// compressor reduces gain above a threshold following an envelope with
// fast attack and slow release, so onsets are caught quickly and the
// level recovers gradually between phrases.
type compressor struct {
	threshold    float64 // linear amplitude
	ratio        float64
	attackCoeff  float64
	releaseCoeff float64
	envelope     float64
}

func newCompressor(sampleRate float64, config CompressorConfig) *compressor {
	return &compressor{
		threshold:    math.Pow(10, config.ThresholdDB/20),
		ratio:        config.Ratio,
		attackCoeff:  smoothingCoeff(config.AttackSeconds, sampleRate),
		releaseCoeff: smoothingCoeff(config.ReleaseSeconds, sampleRate),
	}
}

// smoothingCoeff converts a time constant to a per-sample one-pole
// coefficient.
func smoothingCoeff(seconds, sampleRate float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return math.Exp(-1 / (seconds * sampleRate))
}

func (c *compressor) process(x float64) float64 {
	level := math.Abs(x)
	if level > c.envelope {
		c.envelope = c.attackCoeff*c.envelope + (1-c.attackCoeff)*level
	} else {
		c.envelope = c.releaseCoeff*c.envelope + (1-c.releaseCoeff)*level
	}

	if c.envelope <= c.threshold || c.envelope <= 0 {
		return x
	}

	// Above the threshold the output level rises 1/ratio dB per input dB.
	overDB := 20 * math.Log10(c.envelope/c.threshold)
	gainDB := overDB/c.ratio - overDB
	return x * math.Pow(10, gainDB/20)
}

func (c *compressor) reset() {
	c.envelope = 0
}
