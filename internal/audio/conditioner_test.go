package audio

import (
	"math"
	"testing"
)

func testConditionerConfig() ConditionerConfig {
	return ConditionerConfig{
		SampleRate: 16000,
		HighpassHz: 80,
		LowpassHz:  8000,
		Gain:       2.0,
		Compressor: CompressorConfig{
			ThresholdDB:    -20,
			Ratio:          5,
			AttackSeconds:  0.003,
			ReleaseSeconds: 0.25,
		},
	}
}

// sineFrames generates frameCount frames of a sine tone at the given
// frequency and amplitude, phase-continuous across frames.
func sineFrames(frameCount, frameSize int, freq, amplitude float64, sampleRate int) [][]float32 {
	frames := make([][]float32, frameCount)
	n := 0
	for f := range frames {
		frame := make([]float32, frameSize)
		for i := range frame {
			frame[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(n)/float64(sampleRate)))
			n++
		}
		frames[f] = frame
	}
	return frames
}

func frameRMS(frame []float32) float64 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func TestNewConditionerInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ConditionerConfig)
	}{
		{"zero sample rate", func(c *ConditionerConfig) { c.SampleRate = 0 }},
		{"highpass above nyquist", func(c *ConditionerConfig) { c.HighpassHz = 9000 }},
		{"lowpass below highpass", func(c *ConditionerConfig) { c.LowpassHz = 50 }},
		{"zero gain", func(c *ConditionerConfig) { c.Gain = 0 }},
		{"ratio below unity", func(c *ConditionerConfig) { c.Compressor.Ratio = 0.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConditionerConfig()
			tt.modify(&config)
			if _, err := NewConditioner(config); err == nil {
				t.Error("Expected error for invalid config, got nil")
			}
		})
	}
}

func TestConditionerPassesVoiceBand(t *testing.T) {
	config := testConditionerConfig()
	conditioner, err := NewConditioner(config)
	if err != nil {
		t.Fatalf("NewConditioner failed: %v", err)
	}

	// A quiet 1kHz tone sits inside both filter passbands and below the
	// compressor threshold, so only the fixed gain should apply.
	amplitude := 0.01
	frames := sineFrames(10, 512, 1000, amplitude, config.SampleRate)

	var levels Levels
	for _, frame := range frames {
		levels = conditioner.Process(frame)
	}

	inputRMS := amplitude / math.Sqrt2
	expected := inputRMS * config.Gain
	if levels.RMS < expected*0.9 || levels.RMS > expected*1.1 {
		t.Errorf("Voice band RMS %g outside expected range around %g", levels.RMS, expected)
	}
}

func TestConditionerAttenuatesRumble(t *testing.T) {
	config := testConditionerConfig()
	conditioner, err := NewConditioner(config)
	if err != nil {
		t.Fatalf("NewConditioner failed: %v", err)
	}

	// 30Hz is well below the 80Hz high-pass cutoff.
	amplitude := 0.01
	frames := sineFrames(20, 512, 30, amplitude, config.SampleRate)

	var levels Levels
	for _, frame := range frames {
		levels = conditioner.Process(frame)
	}

	inputRMS := amplitude / math.Sqrt2
	if levels.RMS > inputRMS*config.Gain*0.4 {
		t.Errorf("Rumble RMS %g not attenuated, input RMS %g", levels.RMS, inputRMS)
	}
}

func TestConditionerRemovesDCOffset(t *testing.T) {
	config := testConditionerConfig()
	conditioner, err := NewConditioner(config)
	if err != nil {
		t.Fatalf("NewConditioner failed: %v", err)
	}

	frame := make([]float32, 512)
	var levels Levels
	for i := 0; i < 20; i++ {
		for j := range frame {
			frame[j] = 0.5
		}
		levels = conditioner.Process(frame)
	}

	if levels.RMS > 0.01 {
		t.Errorf("DC offset should be removed, got RMS %g", levels.RMS)
	}
}

func TestConditionerCompressesLoudInput(t *testing.T) {
	config := testConditionerConfig()
	config.Gain = 1.0
	conditioner, err := NewConditioner(config)
	if err != nil {
		t.Fatalf("NewConditioner failed: %v", err)
	}

	// 0.9 amplitude is 19dB over the -20dB threshold; at 5:1 the output
	// should come down substantially once the envelope settles.
	amplitude := 0.9
	frames := sineFrames(20, 512, 1000, amplitude, config.SampleRate)

	var levels Levels
	for _, frame := range frames {
		levels = conditioner.Process(frame)
	}

	inputRMS := amplitude / math.Sqrt2
	if levels.RMS > inputRMS*0.5 {
		t.Errorf("Loud input RMS %g should be compressed below %g", levels.RMS, inputRMS*0.5)
	}
}

func TestConditionerClampsOutput(t *testing.T) {
	config := testConditionerConfig()
	config.Gain = 20.0
	config.Compressor.Ratio = 1 // unity ratio disables compression
	conditioner, err := NewConditioner(config)
	if err != nil {
		t.Fatalf("NewConditioner failed: %v", err)
	}

	frames := sineFrames(5, 512, 1000, 0.5, config.SampleRate)
	for _, frame := range frames {
		conditioner.Process(frame)
		for i, s := range frame {
			if s > 1.0 || s < -1.0 {
				t.Fatalf("Sample %d escaped clamp: %g", i, s)
			}
		}
	}

	stats := conditioner.GetStats()
	if stats.SamplesClipped == 0 {
		t.Error("Expected clipped samples with 20x gain")
	}
}

func TestConditionerLevelsMatchOutput(t *testing.T) {
	conditioner, err := NewConditioner(testConditionerConfig())
	if err != nil {
		t.Fatalf("NewConditioner failed: %v", err)
	}

	frames := sineFrames(5, 512, 1000, 0.05, 16000)
	var levels Levels
	var last []float32
	for _, frame := range frames {
		levels = conditioner.Process(frame)
		last = frame
	}

	// Process conditions in place, so the reported levels must describe
	// the frame as returned.
	if diff := math.Abs(levels.RMS - frameRMS(last)); diff > 1e-6 {
		t.Errorf("Reported RMS %g does not match output frame RMS %g", levels.RMS, frameRMS(last))
	}

	var peak float64
	for _, s := range last {
		if abs := math.Abs(float64(s)); abs > peak {
			peak = abs
		}
	}
	if diff := math.Abs(levels.Peak - peak); diff > 1e-6 {
		t.Errorf("Reported peak %g does not match output frame peak %g", levels.Peak, peak)
	}
}

func TestConditionerReset(t *testing.T) {
	conditioner, err := NewConditioner(testConditionerConfig())
	if err != nil {
		t.Fatalf("NewConditioner failed: %v", err)
	}

	for _, frame := range sineFrames(5, 512, 1000, 0.1, 16000) {
		conditioner.Process(frame)
	}
	if conditioner.GetStats().FramesProcessed != 5 {
		t.Errorf("Expected 5 frames processed, got %d", conditioner.GetStats().FramesProcessed)
	}

	conditioner.Reset()
	if conditioner.GetStats().FramesProcessed != 0 {
		t.Error("Reset should clear frame counter")
	}
}
