package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/analysis"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/events"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/metrics"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/protocol"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/transcript"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/transcription"
)

// Emitter delivers outbound events to one connected client. Implementations
// must not block: session goroutines call Emit inline, so a slow client has
// to be absorbed by the implementation (queued or dropped), never waited on.
type Emitter interface {
	Emit(event string, payload any)
}

// Config contains per-session tunables
type Config struct {
	// StopGrace bounds how long a stopping session waits for the provider
	// to flush buffered audio into final results before tearing down.
	StopGrace time.Duration

	// QueueChunks and QueueBytes bound the audio queue between the client
	// boundary and the provider stream.
	QueueChunks int
	QueueBytes  int
}

// Session drives one recording: audio in, transcript out, analysis at the
// end. The client boundary, the provider sender, and the provider event
// reader each run in their own goroutine, so a slow provider never blocks
// the client's read loop.
type Session struct {
	ID        string
	CreatedAt time.Time

	config    Config
	connector transcription.Connector
	analyzer  *analysis.Analyzer
	publisher *events.Publisher
	metrics   *metrics.Metrics
	emitter   Emitter
	logger    *slog.Logger

	machine   *Machine
	assembler *transcript.Assembler
	queue     *Queue

	// Live stream state
	stream       transcription.Streamer
	startedAt    time.Time
	lastActivity time.Time

	// Stop coordination. finalsFlushed closes when the provider confirms
	// its buffer is drained; senderDone and eventsDone close when the
	// corresponding loop exits.
	finalsFlushed chan struct{}
	flushOnce     sync.Once
	senderDone    chan struct{}
	eventsDone    chan struct{}
	teardownOnce  sync.Once

	// Background work control. ctx cancels in-flight analysis when the
	// session is closed out from under it.
	ctx        context.Context
	cancel     context.CancelFunc
	analysisWG sync.WaitGroup

	// Statistics
	audioChunks  uint64
	audioBytes   uint64
	analysisRuns uint64

	mu sync.RWMutex
}

// New creates an idle session bound to one client's emitter. Metrics and
// publisher may be nil; the session then skips those side channels.
func New(id string, config Config, connector transcription.Connector, analyzer *analysis.Analyzer,
	publisher *events.Publisher, m *metrics.Metrics, emitter Emitter, logger *slog.Logger) *Session {

	if config.StopGrace <= 0 {
		config.StopGrace = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	return &Session{
		ID:            id,
		CreatedAt:     now,
		config:        config,
		connector:     connector,
		analyzer:      analyzer,
		publisher:     publisher,
		metrics:       m,
		emitter:       emitter,
		logger:        logger.With(slog.String("session_id", id)),
		machine:       NewMachine(),
		assembler:     transcript.NewAssembler(),
		queue:         NewQueue(config.QueueChunks, config.QueueBytes),
		finalsFlushed: make(chan struct{}),
		senderDone:    make(chan struct{}),
		eventsDone:    make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		lastActivity:  now,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return s.machine.State()
}

// LastActivity returns when the session last saw client or provider traffic
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Start connects the provider stream and begins accepting audio. The clear
// signal goes out before anything else so the client resets its transcript
// view before new segments arrive.
func (s *Session) Start(ctx context.Context) error {
	if err := s.machine.Transition(StateConnecting); err != nil {
		return err
	}

	s.emitter.Emit(protocol.EventClearSession, nil)

	stream, err := s.connector.Connect(ctx)
	if err != nil {
		s.machine.Transition(StateError)
		if s.metrics != nil {
			s.metrics.RecordStreamFailure()
		}
		return fmt.Errorf("connect speech provider: %w", err)
	}

	if err := s.machine.Transition(StateRecording); err != nil {
		stream.Close()
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordStreamConnect()
	}

	// The stored stream and the running loops go together: teardown only
	// waits for the loops when it finds a stream.
	s.mu.Lock()
	s.stream = stream
	s.startedAt = time.Now()
	s.lastActivity = s.startedAt
	s.mu.Unlock()

	go s.senderLoop(stream)
	go s.eventLoop(stream)

	s.logger.Info("Recording session started")
	s.emitter.Emit(protocol.EventStatus, protocol.Status{
		Status:    protocol.StatusRecordingStarted,
		Message:   "Recording started",
		SessionID: s.ID,
	})
	return nil
}

// AddAudio queues one chunk of linear16 PCM for the provider. Only a
// recording session accepts audio.
func (s *Session) AddAudio(pcm []byte) error {
	if !s.machine.Is(StateRecording) {
		return ErrNotRecording
	}
	s.touch()

	if err := s.queue.Push(pcm); err != nil {
		if errors.Is(err, ErrQueueFull) {
			if s.metrics != nil {
				s.metrics.RecordAudioQueueOverflow()
			}
			s.logger.Warn("Audio chunk dropped on full queue",
				slog.Int("chunk_bytes", len(pcm)),
				slog.Int("queue_depth", s.queue.Depth()))
		}
		return err
	}

	s.mu.Lock()
	s.audioChunks++
	s.audioBytes += uint64(len(pcm))
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordAudioChunk(len(pcm))
	}
	return nil
}

// Stop ends audio intake and finalizes the provider stream. The stopped
// status goes out immediately; draining, the provider flush, and analysis
// continue in the background so the caller's read loop is never held up.
func (s *Session) Stop() error {
	if err := s.machine.Transition(StateStopping); err != nil {
		return ErrNotRecording
	}

	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	s.logger.Info("Recording session stopping",
		slog.Duration("recording_duration", time.Since(startedAt)),
		slog.Int("final_segments", s.assembler.FinalCount()))

	s.emitter.Emit(protocol.EventStatus, protocol.Status{
		Status:    protocol.StatusRecordingStopped,
		Message:   "Recording stopped",
		SessionID: s.ID,
	})

	s.analysisWG.Add(1)
	go s.finishStop()
	return nil
}

// finishStop drains queued audio into the provider, asks it to flush, waits
// a bounded grace period for the flush confirmation, then tears the stream
// down and analyzes whatever transcript was assembled.
func (s *Session) finishStop() {
	defer s.analysisWG.Done()

	s.queue.Close()
	<-s.senderDone

	s.mu.RLock()
	stream := s.stream
	s.mu.RUnlock()

	if err := stream.Finalize(); err == nil {
		select {
		case <-s.finalsFlushed:
		case <-s.ctx.Done():
		case <-time.After(s.config.StopGrace):
			s.logger.Warn("Gave up waiting for provider flush",
				slog.Duration("grace", s.config.StopGrace))
		}
	}

	s.teardown()

	if err := s.machine.Transition(StateIdle); err != nil {
		s.logger.Warn("Session did not return to idle", slog.String("error", err.Error()))
	}

	s.runAnalysis(false)
}

// RetryAnalysis re-runs analysis over the transcript already collected. The
// transcript itself is never touched; a retry produces a new result.
func (s *Session) RetryAnalysis() {
	s.touch()

	if s.assembler.FinalCount() == 0 {
		s.emitter.Emit(protocol.EventStatus, protocol.Status{
			Message: "No transcript available to analyze",
		})
		return
	}

	s.analysisWG.Add(1)
	go func() {
		defer s.analysisWG.Done()
		s.runAnalysis(true)
	}()
}

// TestAnalysis renders the built-in sample result so clients can exercise
// their display path without recording or a provider round trip.
func (s *Session) TestAnalysis() {
	s.touch()

	s.emitter.Emit(protocol.EventConversationAnalysis, analysis.TestResult())
	s.emitter.Emit(protocol.EventStatus, protocol.Status{
		Message: "Test analysis with source mapping complete!",
	})
}

// Close force-stops the session regardless of state and waits for its
// goroutines, including any in-flight analysis, to finish. In-flight
// analysis is cancelled rather than awaited; nobody is left to read it.
func (s *Session) Close() {
	s.cancel()
	s.teardown()
	s.analysisWG.Wait()
}

// teardown closes the queue and stream and waits for both loops to exit.
// Safe to call from any goroutine except the loops themselves.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.queue.Close()

		s.mu.RLock()
		stream := s.stream
		s.mu.RUnlock()

		if stream != nil {
			stream.Close()
			<-s.senderDone
			<-s.eventsDone
		}
	})
}

// senderLoop forwards queued audio chunks to the provider in arrival order
func (s *Session) senderLoop(stream transcription.Streamer) {
	defer close(s.senderDone)

	for {
		pcm, ok := s.queue.Pop()
		if !ok {
			return
		}
		if err := stream.Send(pcm); err != nil {
			if errors.Is(err, transcription.ErrStreamClosed) {
				return
			}
			s.fail(fmt.Sprintf("audio forwarding failed: %v", err))
			return
		}
	}
}

// eventLoop folds provider results into the transcript and relays them to
// the client. An empty finalize-flush result still matters: it confirms the
// provider's buffer is drained, letting a stopping session finish early.
func (s *Session) eventLoop(stream transcription.Streamer) {
	defer close(s.eventsDone)

	for event := range stream.Events() {
		s.touch()

		if event.IsFinal && event.FromFinalize {
			s.flushOnce.Do(func() { close(s.finalsFlushed) })
		}
		if event.Text == "" {
			continue
		}

		segment := s.assembler.Apply(transcript.Update{
			Text:         event.Text,
			IsFinal:      event.IsFinal,
			SpeakerIndex: event.SpeakerIndex,
			Confidence:   event.Confidence,
			Timestamp:    event.Timestamp,
		})
		if s.metrics != nil {
			s.metrics.RecordTranscriptSegment(segment.IsFinal)
		}

		s.emitter.Emit(protocol.EventTranscript, protocol.Transcript{
			ID:         segment.ID,
			Text:       segment.Text,
			IsFinal:    segment.IsFinal,
			Speaker:    string(segment.Speaker),
			Confidence: segment.Confidence,
			Timestamp:  segment.Timestamp,
		})

		if segment.IsFinal && s.publisher != nil {
			if err := s.publisher.PublishTranscript(s.ctx, s.ID, segment); err != nil {
				s.logger.Warn("Transcript event publish failed", slog.String("error", err.Error()))
			}
		}
	}

	// The stream ended. During recording that is a failure; during a stop
	// or teardown it is the expected shutdown path.
	if s.machine.Is(StateRecording) {
		message := "speech provider stream ended unexpectedly"
		if err := stream.Err(); err != nil {
			message = fmt.Sprintf("speech provider stream failed: %v", err)
		}
		s.fail(message)
	}
}

// fail moves the session to Error, tells the client, and tears the pipeline
// down. Only the first failure wins; later ones find the transition illegal
// and back off.
func (s *Session) fail(message string) {
	if err := s.machine.Transition(StateError); err != nil {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordStreamFailure()
	}

	s.logger.Error("Recording session failed", slog.String("reason", message))
	s.emitter.Emit(protocol.EventError, protocol.ErrorPayload{
		Kind:    protocol.ErrorKindTransport,
		Message: message,
	})

	// Teardown waits on the loop that called fail, so it runs elsewhere.
	go s.teardown()
}

// runAnalysis analyzes the assembled transcript and delivers the result to
// the client and, when configured, the event mirror.
func (s *Session) runAnalysis(isRetry bool) {
	finals := s.assembler.Finals()

	s.emitter.Emit(protocol.EventStatus, protocol.Status{
		Status:  protocol.StatusAnalyzing,
		Message: "Analyzing conversation...",
	})

	if s.metrics != nil {
		s.metrics.RecordAnalysisRequest()
		if isRetry {
			s.metrics.RecordAnalysisRetry()
		}
	}

	start := time.Now()
	result := s.analyzer.Analyze(s.ctx, finals, isRetry)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.analysisRuns++
	s.mu.Unlock()

	if result.Failed() {
		if s.metrics != nil {
			s.metrics.RecordAnalysisFailure(elapsed.Seconds())
		}
		s.logger.Warn("Conversation analysis failed",
			slog.String("error", result.Error),
			slog.Duration("elapsed", elapsed))
	} else {
		if s.metrics != nil {
			s.metrics.RecordAnalysisSuccess(elapsed.Seconds())
		}
		s.logger.Info("Conversation analysis completed",
			slog.Int("final_segments", len(finals)),
			slog.Bool("is_retry", isRetry),
			slog.Duration("elapsed", elapsed))
	}

	s.emitter.Emit(protocol.EventConversationAnalysis, result)

	if s.publisher != nil && !result.Failed() {
		if err := s.publisher.PublishAnalysis(s.ctx, s.ID, result); err != nil {
			s.logger.Warn("Analysis event publish failed", slog.String("error", err.Error()))
		}
	}
}

// Info is a point-in-time session snapshot for the monitoring API
type Info struct {
	ID              string    `json:"id"`
	State           string    `json:"state"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
	DurationSeconds float64   `json:"duration_seconds"`

	// Audio statistics
	AudioChunks   uint64 `json:"audio_chunks"`
	AudioBytes    uint64 `json:"audio_bytes"`
	DroppedChunks uint64 `json:"dropped_chunks"`
	QueueDepth    int    `json:"queue_depth"`

	// Transcript statistics
	FinalSegments   int    `json:"final_segments"`
	InterimUpdates  uint64 `json:"interim_updates"`
	TranscriptChars int    `json:"transcript_chars"`

	// Analysis statistics
	AnalysisRuns uint64 `json:"analysis_runs"`
}

// GetInfo returns current session information for monitoring
func (s *Session) GetInfo() Info {
	queueStats := s.queue.GetStats()
	transcriptStats := s.assembler.GetStats()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return Info{
		ID:              s.ID,
		State:           s.machine.State().String(),
		CreatedAt:       s.CreatedAt,
		LastActivity:    s.lastActivity,
		DurationSeconds: time.Since(s.CreatedAt).Seconds(),

		AudioChunks:   s.audioChunks,
		AudioBytes:    s.audioBytes,
		DroppedChunks: queueStats.DroppedChunks,
		QueueDepth:    queueStats.Depth,

		FinalSegments:   transcriptStats.FinalSegments,
		InterimUpdates:  transcriptStats.InterimUpdates,
		TranscriptChars: transcriptStats.Characters,

		AnalysisRuns: s.analysisRuns,
	}
}
