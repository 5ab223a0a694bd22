package vad

import "testing"

func testConfig() Config {
	return Config{
		BaseThreshold:         0.01,
		PeakFloor:             0.02,
		NoiseSmoothing:        0.9,
		SpeechRatio:           0.3,
		SpeechCountThreshold:  3,
		SilenceCountTolerance: 5,
	}
}

func TestNewClassifierInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero base threshold", func(c *Config) { c.BaseThreshold = 0 }},
		{"zero peak floor", func(c *Config) { c.PeakFloor = 0 }},
		{"negative smoothing", func(c *Config) { c.NoiseSmoothing = -0.1 }},
		{"smoothing at one", func(c *Config) { c.NoiseSmoothing = 1.0 }},
		{"zero speech ratio", func(c *Config) { c.SpeechRatio = 0 }},
		{"zero speech count threshold", func(c *Config) { c.SpeechCountThreshold = 0 }},
		{"zero silence tolerance", func(c *Config) { c.SilenceCountTolerance = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			tt.modify(&config)
			if _, err := NewClassifier(config); err == nil {
				t.Error("Expected error for invalid config, got nil")
			}
		})
	}
}

func TestClassifierInstantDecision(t *testing.T) {
	tests := []struct {
		name   string
		rms    float64
		peak   float64
		speech bool
	}{
		{"clear speech", 0.1, 0.3, true},
		{"rms below threshold", 0.005, 0.3, false},
		{"peak below floor", 0.1, 0.01, false},
		{"both below", 0.001, 0.001, false},
		{"rms at threshold boundary", 0.01, 0.3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier, err := NewClassifier(testConfig())
			if err != nil {
				t.Fatalf("NewClassifier failed: %v", err)
			}
			result := classifier.Process(tt.rms, tt.peak)
			if result.Speech != tt.speech {
				t.Errorf("Process(%g, %g).Speech = %v, expected %v", tt.rms, tt.peak, result.Speech, tt.speech)
			}
		})
	}
}

func TestClassifierNoiseFloorAdaptation(t *testing.T) {
	classifier, err := NewClassifier(testConfig())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	// In a fresh classifier this level counts as speech.
	fresh, _ := NewClassifier(testConfig())
	if result := fresh.Process(0.05, 0.3); !result.Speech {
		t.Fatal("0.05 RMS should be speech against a quiet floor")
	}

	// Sustained background at 0.2 RMS drags the floor up toward it.
	var result Result
	for i := 0; i < 50; i++ {
		result = classifier.Process(0.2, 0.3)
	}
	if result.NoiseFloor < 0.19 {
		t.Errorf("Noise floor should approach 0.2, got %g", result.NoiseFloor)
	}

	// The same 0.05 RMS is now below the adaptive threshold (floor * 0.3).
	if result := classifier.Process(0.05, 0.3); result.Speech {
		t.Error("0.05 RMS should not be speech against a 0.2 noise floor")
	}
}

func TestClassifierFloorUpdatesAfterDecision(t *testing.T) {
	classifier, err := NewClassifier(testConfig())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	// The very first loud frame is judged against the zero floor, so it
	// cannot raise the bar for itself.
	result := classifier.Process(0.5, 0.8)
	if !result.Speech {
		t.Error("First loud frame should be speech")
	}
	if result.NoiseFloor < 0.049 || result.NoiseFloor > 0.051 {
		t.Errorf("Floor after first frame should be 0.05, got %g", result.NoiseFloor)
	}
}

func TestClassifierActivationHysteresis(t *testing.T) {
	classifier, err := NewClassifier(testConfig())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	// With a threshold of 3, activation needs four speech frames.
	for i := 0; i < 3; i++ {
		if result := classifier.Process(0.5, 0.8); result.Active {
			t.Fatalf("Active after only %d speech frames", i+1)
		}
	}
	if result := classifier.Process(0.5, 0.8); !result.Active {
		t.Error("Expected active after four speech frames")
	}
}

func TestClassifierBriefPauseStaysActive(t *testing.T) {
	classifier, err := NewClassifier(testConfig())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		classifier.Process(0.5, 0.8)
	}

	// Two silent frames decrement the count but stay within tolerance.
	for i := 0; i < 2; i++ {
		if result := classifier.Process(0.0, 0.0); !result.Active {
			t.Fatalf("Brief pause frame %d should not end active speech", i+1)
		}
	}

	// Speech resumes and clears the silence count.
	if result := classifier.Process(0.5, 0.8); !result.Active {
		t.Error("Resumed speech should stay active")
	}
}

func TestClassifierSustainedSilenceDeactivates(t *testing.T) {
	classifier, err := NewClassifier(testConfig())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	for i := 0; i < 20; i++ {
		classifier.Process(0.5, 0.8)
	}

	// Five consecutive silent frames hit the tolerance even though plenty
	// of speech evidence remains.
	var result Result
	for i := 0; i < 5; i++ {
		result = classifier.Process(0.0, 0.0)
	}
	if result.Active {
		t.Error("Sustained silence should end active speech")
	}
}

func TestClassifierSpeechCountFloorsAtZero(t *testing.T) {
	classifier, err := NewClassifier(testConfig())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	// Long silence must not accumulate negative evidence.
	for i := 0; i < 100; i++ {
		classifier.Process(0.0, 0.0)
	}
	if stats := classifier.GetStats(); stats.SpeechCount != 0 {
		t.Errorf("Speech count should floor at 0, got %d", stats.SpeechCount)
	}

	// Activation after silence takes the same four frames as from fresh.
	for i := 0; i < 3; i++ {
		classifier.Process(0.5, 0.8)
	}
	if result := classifier.Process(0.5, 0.8); !result.Active {
		t.Error("Expected activation four frames after long silence")
	}
}

func TestClassifierStats(t *testing.T) {
	classifier, err := NewClassifier(testConfig())
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	for i := 0; i < 6; i++ {
		classifier.Process(0.5, 0.8)
	}
	for i := 0; i < 4; i++ {
		classifier.Process(0.0, 0.0)
	}

	stats := classifier.GetStats()
	if stats.FramesProcessed != 10 {
		t.Errorf("Expected 10 frames processed, got %d", stats.FramesProcessed)
	}
	if stats.SpeechFrames != 6 {
		t.Errorf("Expected 6 speech frames, got %d", stats.SpeechFrames)
	}
	if stats.SpeechPercentage < 59.9 || stats.SpeechPercentage > 60.1 {
		t.Errorf("Expected 60%% speech, got %g%%", stats.SpeechPercentage)
	}

	classifier.Reset()
	stats = classifier.GetStats()
	if stats.FramesProcessed != 0 || stats.SpeechCount != 0 || stats.NoiseFloor != 0 {
		t.Error("Reset should clear all state")
	}
}
