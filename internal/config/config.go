package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Chunker       ChunkerConfig       `yaml:"chunker"`
	Session       SessionConfig       `yaml:"session"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Events        EventsConfig        `yaml:"events"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains WebSocket boundary server configuration
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadBufferSize  int    `yaml:"read_buffer_size"`
	WriteBufferSize int    `yaml:"write_buffer_size"`
	MaxMessageSize  int64  `yaml:"max_message_size"` // bytes, caps one boundary message
	SendQueueSize   int    `yaml:"send_queue_size"`  // outbound messages buffered per client
}

// HTTPConfig contains HTTP monitoring API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains signal conditioning parameters
type AudioConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	FrameSize  int     `yaml:"frame_size"` // samples per conditioned frame
	HighpassHz float64 `yaml:"highpass_hz"`
	LowpassHz  float64 `yaml:"lowpass_hz"`
	Gain       float64 `yaml:"gain"`

	Compressor CompressorConfig `yaml:"compressor"`
}

// CompressorConfig contains dynamic range compressor parameters
type CompressorConfig struct {
	ThresholdDB    float64 `yaml:"threshold_db"`
	Ratio          float64 `yaml:"ratio"`
	AttackSeconds  float64 `yaml:"attack_seconds"`
	ReleaseSeconds float64 `yaml:"release_seconds"`
}

// VADConfig contains speech classification configuration
type VADConfig struct {
	BaseThreshold         float64 `yaml:"base_threshold"`          // RMS floor for speech
	PeakFloor             float64 `yaml:"peak_floor"`              // minimum peak for speech
	NoiseSmoothing        float64 `yaml:"noise_smoothing"`         // weight of the old noise floor
	SpeechRatio           float64 `yaml:"speech_ratio"`            // multiplier over the noise floor
	SpeechCountThreshold  int     `yaml:"speech_count_threshold"`  // frames before active-speech
	SilenceCountTolerance int     `yaml:"silence_count_tolerance"` // frames of silence tolerated
}

// ChunkerConfig contains adaptive chunk transport configuration
type ChunkerConfig struct {
	LowWatermarkSeconds  float64 `yaml:"low_watermark_seconds"`  // speech-biased flush point
	MidWatermarkSeconds  float64 `yaml:"mid_watermark_seconds"`  // audio-biased flush point
	MaxBufferSeconds     float64 `yaml:"max_buffer_seconds"`     // hard flush point
	FlushIntervalSeconds float64 `yaml:"flush_interval_seconds"` // periodic timer flush
}

// SessionConfig contains session lifecycle configuration
type SessionConfig struct {
	MaxSessions            int     `yaml:"max_sessions"`
	IdleTimeoutSeconds     int     `yaml:"idle_timeout_seconds"`
	StopGraceSeconds       float64 `yaml:"stop_grace_seconds"` // wait for finals after stop
	CleanupIntervalSeconds int     `yaml:"cleanup_interval_seconds"`
	AudioQueueBytes        int     `yaml:"audio_queue_bytes"` // pending chunk buffer cap
}

// TranscriptionConfig contains speech provider streaming configuration
type TranscriptionConfig struct {
	URL                   string   `yaml:"url"`
	APIKey                string   `yaml:"-"` // environment only, never YAML
	Model                 string   `yaml:"model"`
	Language              string   `yaml:"language"`
	SampleRate            int      `yaml:"sample_rate"`
	Channels              int      `yaml:"channels"`
	UtteranceEndMS        int      `yaml:"utterance_end_ms"`
	EndpointingMS         int      `yaml:"endpointing_ms"`
	Keywords              []string `yaml:"keywords"`
	ConnectTimeoutSeconds int      `yaml:"connect_timeout_seconds"`
	MaxConnectRetries     int      `yaml:"max_connect_retries"`
	KeepAliveSeconds      float64  `yaml:"keepalive_seconds"`
	SendQueueSize         int      `yaml:"send_queue_size"` // chunks buffered toward the provider
}

// AnalysisConfig contains analysis provider configuration
type AnalysisConfig struct {
	URL                string      `yaml:"url"`
	APIKey             string      `yaml:"-"` // environment only, never YAML
	Model              string      `yaml:"model"`
	MaxTokens          int         `yaml:"max_tokens"`
	TimeoutSeconds     int         `yaml:"timeout_seconds"`
	MaxRetries         int         `yaml:"max_retries"`
	MaxConcurrent      int         `yaml:"max_concurrent"`
	MinTranscriptChars int         `yaml:"min_transcript_chars"`
	MaxTranscriptChars int         `yaml:"max_transcript_chars"`
	Cache              CacheConfig `yaml:"cache"`
}

// CacheConfig contains analysis result cache configuration
type CacheConfig struct {
	Enabled    bool    `yaml:"enabled"`
	MaxEntries int     `yaml:"max_entries"`
	TTLSeconds float64 `yaml:"ttl_seconds"`
}

// EventsConfig contains optional Kafka event mirroring configuration
type EventsConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Brokers         []string `yaml:"brokers"`
	TranscriptTopic string   `yaml:"transcript_topic"`
	AnalysisTopic   string   `yaml:"analysis_topic"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file, then applies environment
// overrides for provider credentials
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides reads provider credentials from the environment.
// API keys are intentionally not representable in YAML.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("DEEPGRAM_API_KEY"); key != "" {
		c.Transcription.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Analysis.APIKey = key
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Chunker.Validate(); err != nil {
		return fmt.Errorf("chunker config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates WebSocket server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if s.ReadBufferSize < 1024 {
		return fmt.Errorf("read_buffer_size must be at least 1024 bytes, got %d", s.ReadBufferSize)
	}

	if s.WriteBufferSize < 1024 {
		return fmt.Errorf("write_buffer_size must be at least 1024 bytes, got %d", s.WriteBufferSize)
	}

	if s.MaxMessageSize < 4096 {
		return fmt.Errorf("max_message_size must be at least 4096 bytes, got %d", s.MaxMessageSize)
	}

	if s.SendQueueSize < 1 {
		return fmt.Errorf("send_queue_size must be at least 1, got %d", s.SendQueueSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio conditioning configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for the speech provider, got %d", a.SampleRate)
	}

	if a.FrameSize < 64 || a.FrameSize > 4096 {
		return fmt.Errorf("frame_size must be between 64 and 4096 samples, got %d", a.FrameSize)
	}

	if a.HighpassHz < 0 || a.HighpassHz >= float64(a.SampleRate)/2 {
		return fmt.Errorf("highpass_hz must be in [0, %d), got %f", a.SampleRate/2, a.HighpassHz)
	}

	if a.LowpassHz <= a.HighpassHz || a.LowpassHz > float64(a.SampleRate)/2 {
		return fmt.Errorf("lowpass_hz (%f) must be above highpass_hz (%f) and at most %d",
			a.LowpassHz, a.HighpassHz, a.SampleRate/2)
	}

	if a.Gain <= 0 {
		return fmt.Errorf("gain must be positive, got %f", a.Gain)
	}

	if a.Compressor.Ratio < 1 {
		return fmt.Errorf("compressor ratio must be at least 1, got %f", a.Compressor.Ratio)
	}

	if a.Compressor.AttackSeconds <= 0 || a.Compressor.ReleaseSeconds <= 0 {
		return fmt.Errorf("compressor attack and release must be positive, got %f/%f",
			a.Compressor.AttackSeconds, a.Compressor.ReleaseSeconds)
	}

	return nil
}

// Validate validates speech classification configuration
func (v *VADConfig) Validate() error {
	if v.BaseThreshold <= 0 || v.BaseThreshold > 1 {
		return fmt.Errorf("base_threshold must be in (0, 1], got %f", v.BaseThreshold)
	}

	if v.PeakFloor <= 0 || v.PeakFloor > 1 {
		return fmt.Errorf("peak_floor must be in (0, 1], got %f", v.PeakFloor)
	}

	if v.NoiseSmoothing < 0 || v.NoiseSmoothing >= 1 {
		return fmt.Errorf("noise_smoothing must be in [0, 1), got %f", v.NoiseSmoothing)
	}

	if v.SpeechRatio <= 0 {
		return fmt.Errorf("speech_ratio must be positive, got %f", v.SpeechRatio)
	}

	if v.SpeechCountThreshold < 1 {
		return fmt.Errorf("speech_count_threshold must be at least 1, got %d", v.SpeechCountThreshold)
	}

	if v.SilenceCountTolerance < 1 {
		return fmt.Errorf("silence_count_tolerance must be at least 1, got %d", v.SilenceCountTolerance)
	}

	return nil
}

// Validate validates chunk transport configuration
func (c *ChunkerConfig) Validate() error {
	if c.LowWatermarkSeconds <= 0 {
		return fmt.Errorf("low_watermark_seconds must be positive, got %f", c.LowWatermarkSeconds)
	}

	if c.MidWatermarkSeconds <= c.LowWatermarkSeconds {
		return fmt.Errorf("mid_watermark_seconds (%f) must be greater than low_watermark_seconds (%f)",
			c.MidWatermarkSeconds, c.LowWatermarkSeconds)
	}

	if c.MaxBufferSeconds <= c.MidWatermarkSeconds {
		return fmt.Errorf("max_buffer_seconds (%f) must be greater than mid_watermark_seconds (%f)",
			c.MaxBufferSeconds, c.MidWatermarkSeconds)
	}

	if c.FlushIntervalSeconds <= 0 || c.FlushIntervalSeconds >= 1 {
		return fmt.Errorf("flush_interval_seconds must be in (0, 1), got %f", c.FlushIntervalSeconds)
	}

	return nil
}

// Validate validates session lifecycle configuration
func (s *SessionConfig) Validate() error {
	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	if s.IdleTimeoutSeconds < 1 {
		return fmt.Errorf("idle_timeout_seconds must be at least 1, got %d", s.IdleTimeoutSeconds)
	}

	if s.StopGraceSeconds <= 0 {
		return fmt.Errorf("stop_grace_seconds must be positive, got %f", s.StopGraceSeconds)
	}

	if s.CleanupIntervalSeconds < 1 {
		return fmt.Errorf("cleanup_interval_seconds must be at least 1, got %d", s.CleanupIntervalSeconds)
	}

	if s.AudioQueueBytes < 65536 {
		return fmt.Errorf("audio_queue_bytes must be at least 65536, got %d", s.AudioQueueBytes)
	}

	return nil
}

// Validate validates speech provider configuration
func (t *TranscriptionConfig) Validate() error {
	if t.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", t.SampleRate)
	}

	if t.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", t.Channels)
	}

	if t.UtteranceEndMS < 0 {
		return fmt.Errorf("utterance_end_ms cannot be negative, got %d", t.UtteranceEndMS)
	}

	if t.EndpointingMS < 0 {
		return fmt.Errorf("endpointing_ms cannot be negative, got %d", t.EndpointingMS)
	}

	if t.ConnectTimeoutSeconds < 1 {
		return fmt.Errorf("connect_timeout_seconds must be at least 1, got %d", t.ConnectTimeoutSeconds)
	}

	if t.MaxConnectRetries < 0 {
		return fmt.Errorf("max_connect_retries cannot be negative, got %d", t.MaxConnectRetries)
	}

	if t.KeepAliveSeconds <= 0 {
		return fmt.Errorf("keepalive_seconds must be positive, got %f", t.KeepAliveSeconds)
	}

	if t.SendQueueSize < 1 {
		return fmt.Errorf("send_queue_size must be at least 1, got %d", t.SendQueueSize)
	}

	return nil
}

// Validate validates analysis provider configuration
func (a *AnalysisConfig) Validate() error {
	if a.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if a.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if a.MaxTokens < 256 {
		return fmt.Errorf("max_tokens must be at least 256, got %d", a.MaxTokens)
	}

	if a.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be at least 1, got %d", a.TimeoutSeconds)
	}

	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", a.MaxRetries)
	}

	if a.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", a.MaxConcurrent)
	}

	if a.MinTranscriptChars < 1 {
		return fmt.Errorf("min_transcript_chars must be at least 1, got %d", a.MinTranscriptChars)
	}

	if a.MaxTranscriptChars <= a.MinTranscriptChars {
		return fmt.Errorf("max_transcript_chars (%d) must be greater than min_transcript_chars (%d)",
			a.MaxTranscriptChars, a.MinTranscriptChars)
	}

	if a.Cache.Enabled {
		if a.Cache.MaxEntries < 1 {
			return fmt.Errorf("cache max_entries must be at least 1, got %d", a.Cache.MaxEntries)
		}
		if a.Cache.TTLSeconds <= 0 {
			return fmt.Errorf("cache ttl_seconds must be positive, got %f", a.Cache.TTLSeconds)
		}
	}

	return nil
}

// Validate validates event mirroring configuration
func (e *EventsConfig) Validate() error {
	if e.Enabled {
		if len(e.Brokers) == 0 {
			return fmt.Errorf("brokers cannot be empty when events are enabled")
		}

		if e.TranscriptTopic == "" {
			return fmt.Errorf("transcript_topic cannot be empty when events are enabled")
		}

		if e.AnalysisTopic == "" {
			return fmt.Errorf("analysis_topic cannot be empty when events are enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetLowWatermarkDuration returns the speech-biased flush point as a time.Duration
func (c *ChunkerConfig) GetLowWatermarkDuration() time.Duration {
	return time.Duration(c.LowWatermarkSeconds * float64(time.Second))
}

// GetMidWatermarkDuration returns the audio-biased flush point as a time.Duration
func (c *ChunkerConfig) GetMidWatermarkDuration() time.Duration {
	return time.Duration(c.MidWatermarkSeconds * float64(time.Second))
}

// GetMaxBufferDuration returns the hard flush point as a time.Duration
func (c *ChunkerConfig) GetMaxBufferDuration() time.Duration {
	return time.Duration(c.MaxBufferSeconds * float64(time.Second))
}

// GetFlushIntervalDuration returns the timer flush interval as a time.Duration
func (c *ChunkerConfig) GetFlushIntervalDuration() time.Duration {
	return time.Duration(c.FlushIntervalSeconds * float64(time.Second))
}

// GetIdleTimeoutDuration returns the session idle timeout as a time.Duration
func (s *SessionConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// GetStopGraceDuration returns the post-stop grace window as a time.Duration
func (s *SessionConfig) GetStopGraceDuration() time.Duration {
	return time.Duration(s.StopGraceSeconds * float64(time.Second))
}

// GetCleanupIntervalDuration returns the cleanup interval as a time.Duration
func (s *SessionConfig) GetCleanupIntervalDuration() time.Duration {
	return time.Duration(s.CleanupIntervalSeconds) * time.Second
}

// GetConnectTimeoutDuration returns the provider connect timeout as a time.Duration
func (t *TranscriptionConfig) GetConnectTimeoutDuration() time.Duration {
	return time.Duration(t.ConnectTimeoutSeconds) * time.Second
}

// GetKeepAliveDuration returns the keepalive interval as a time.Duration
func (t *TranscriptionConfig) GetKeepAliveDuration() time.Duration {
	return time.Duration(t.KeepAliveSeconds * float64(time.Second))
}

// GetTimeoutDuration returns the analysis request timeout as a time.Duration
func (a *AnalysisConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// GetTTLDuration returns the cache entry lifetime as a time.Duration
func (c *CacheConfig) GetTTLDuration() time.Duration {
	return time.Duration(c.TTLSeconds * float64(time.Second))
}

// Default returns a configuration populated with the tuning the service
// ships with. Useful for tests and for the capture client, which has no
// config file of its own.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			MaxMessageSize:  2 << 20,
			SendQueueSize:   256,
		},
		HTTP: HTTPConfig{
			Port:    8081,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			FrameSize:  512,
			HighpassHz: 80,
			LowpassHz:  8000,
			Gain:       1.6,
			Compressor: CompressorConfig{
				ThresholdDB:    -20,
				Ratio:          5,
				AttackSeconds:  0.003,
				ReleaseSeconds: 0.25,
			},
		},
		VAD: VADConfig{
			BaseThreshold:         0.01,
			PeakFloor:             0.02,
			NoiseSmoothing:        0.9,
			SpeechRatio:           0.3,
			SpeechCountThreshold:  3,
			SilenceCountTolerance: 25,
		},
		Chunker: ChunkerConfig{
			LowWatermarkSeconds:  0.25,
			MidWatermarkSeconds:  0.5,
			MaxBufferSeconds:     1.0,
			FlushIntervalSeconds: 0.25,
		},
		Session: SessionConfig{
			MaxSessions:            100,
			IdleTimeoutSeconds:     300,
			StopGraceSeconds:       3.0,
			CleanupIntervalSeconds: 30,
			AudioQueueBytes:        4 << 20,
		},
		Transcription: TranscriptionConfig{
			URL:            "wss://api.deepgram.com/v1/listen",
			Model:          "nova-2",
			Language:       "en-US",
			SampleRate:     16000,
			Channels:       1,
			UtteranceEndMS: 2000,
			EndpointingMS:  800,
			Keywords: []string{
				"patient", "doctor", "symptoms", "diagnosis", "treatment",
				"medication", "prescription", "mg", "ml", "blood pressure",
				"temperature", "pain", "history", "allergies", "surgery",
				"chronic", "acute",
			},
			ConnectTimeoutSeconds: 10,
			MaxConnectRetries:     3,
			KeepAliveSeconds:      5,
			SendQueueSize:         128,
		},
		Analysis: AnalysisConfig{
			URL:                "https://api.anthropic.com/v1/messages",
			Model:              "claude-3-5-sonnet-20241022",
			MaxTokens:          2500,
			TimeoutSeconds:     60,
			MaxRetries:         3,
			MaxConcurrent:      5,
			MinTranscriptChars: 10,
			MaxTranscriptChars: 100000,
			Cache: CacheConfig{
				Enabled:    true,
				MaxEntries: 100,
				TTLSeconds: 3600,
			},
		},
		Events: EventsConfig{
			Enabled:         false,
			Brokers:         []string{"localhost:9092"},
			TranscriptTopic: "transcript.final",
			AnalysisTopic:   "analysis.completed",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}
