// Command capture records microphone audio, ships it to the transcription
// service, and prints the live transcript followed by the generated SOAP
// note. It drives the full session lifecycle from the client side: device
// capability check, microphone permission, service connect, recording,
// and the bounded stop-and-analyze wait.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/analysis"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/audio"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/config"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/protocol"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/session"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultServerURL  = "ws://127.0.0.1:8080/"

	dialTimeout  = 10 * time.Second
	startTimeout = 15 * time.Second
	testTimeout  = 15 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (defaults apply when missing)")
	serverURL := flag.String("server", "", "WebSocket URL of the transcription service (default $SOAP_SERVER_URL or "+defaultServerURL+")")
	deviceName := flag.String("device", "", "Capture device name (default system device)")
	listFlag := flag.Bool("list-devices", false, "List capture devices and exit")
	testFlag := flag.Bool("test", false, "Request the canned test analysis instead of recording")
	verbose := flag.Bool("verbose", false, "Log debug detail to stderr")
	flag.Parse()

	// The same .env overlay the service reads; this client only uses
	// SOAP_SERVER_URL, and a set environment variable wins over the file.
	_ = godotenv.Load()
	url := *serverURL
	if url == "" {
		url = os.Getenv("SOAP_SERVER_URL")
	}
	if url == "" {
		url = defaultServerURL
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var err error
	switch {
	case *listFlag:
		err = printDevices()
	case *testFlag:
		err = runTest(url, logger)
	default:
		err = record(loadConfig(*configPath, logger), url, *deviceName, logger)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the shared service configuration for the audio tuning
// sections. A missing file is fine for a client and falls back to defaults;
// a file that exists but does not parse is a hard error.
func loadConfig(path string, logger *slog.Logger) *config.Config {
	if _, err := os.Stat(path); err != nil {
		logger.Debug("No config file, using defaults", slog.String("path", path))
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func printDevices() error {
	audioCtx, err := newAudioContext()
	if err != nil {
		return err
	}
	defer closeAudioContext(audioCtx)

	names, err := listCaptureDevices(audioCtx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No capture devices found.")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

// runTest connects without touching the microphone and asks the service for
// the canned analysis, exercising the full citation pipeline end to end.
func runTest(serverURL string, logger *slog.Logger) error {
	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	client, err := dialBoundary(dialCtx, serverURL, logger)
	if err != nil {
		return err
	}
	defer client.close()

	if err := client.send(protocol.EventTestAnalysis, nil); err != nil {
		return fmt.Errorf("request test analysis: %w", err)
	}

	deadline := time.NewTimer(testTimeout)
	defer deadline.Stop()
	select {
	case res := <-client.analysis:
		renderResult(&res)
		return nil
	case ep := <-client.errors:
		return fmt.Errorf("service error (%s): %s", ep.Kind, ep.Message)
	case <-client.done:
		return fmt.Errorf("connection closed before the test analysis arrived")
	case <-deadline.C:
		return fmt.Errorf("timed out waiting for the test analysis")
	}
}

// record runs one full recording session: microphone to service to printed
// SOAP note. Capability failures return before any lifecycle transition, so
// an unusable environment leaves the machine in Idle.
func record(cfg *config.Config, serverURL, deviceName string, logger *slog.Logger) error {
	machine := session.NewMachine()

	audioCtx, err := newAudioContext()
	if err != nil {
		return err
	}
	defer closeAudioContext(audioCtx)

	cond, err := audio.NewConditioner(conditionerConfig(cfg))
	if err != nil {
		return fmt.Errorf("conditioner: %w", err)
	}
	classifier, err := vad.NewClassifier(classifierConfig(cfg))
	if err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	chunker, err := audio.NewChunker(audio.ChunkerConfigFromDurations(
		cfg.Audio.SampleRate,
		cfg.Chunker.LowWatermarkSeconds,
		cfg.Chunker.MidWatermarkSeconds,
		cfg.Chunker.MaxBufferSeconds,
	))
	if err != nil {
		return fmt.Errorf("chunker: %w", err)
	}

	var streaming atomic.Bool
	var droppedChunks atomic.Uint64
	chunks := make(chan *audio.Chunk, 32)

	postChunk := func(chunk *audio.Chunk) {
		if chunk == nil {
			return
		}
		select {
		case chunks <- chunk:
		default:
			droppedChunks.Add(1)
		}
	}

	// The conditioning pipeline runs on the audio thread and must never
	// block; finished chunks hop to the sender through the buffered channel
	// and overflow drops rather than stalls.
	frame := make([]float32, cfg.Audio.FrameSize)
	frameLen := 0
	onSamples := func(samples []float32) {
		if !streaming.Load() {
			return
		}
		for _, s := range samples {
			frame[frameLen] = s
			frameLen++
			if frameLen == len(frame) {
				frameLen = 0
				levels := cond.Process(frame)
				decision := classifier.Process(levels.RMS, levels.Peak)
				postChunk(chunker.Add(frame, decision))
			}
		}
	}

	device, err := newCaptureDevice(audioCtx, deviceName, cfg.Audio.SampleRate, 1, onSamples)
	if err != nil {
		return err
	}
	defer device.Close()

	// Starting the stream is where the operating system grants or denies
	// microphone access.
	if err := machine.Transition(session.StatePermissionRequested); err != nil {
		return err
	}
	if err := device.Start(); err != nil {
		_ = machine.Transition(session.StateError)
		return fmt.Errorf("microphone unavailable or access denied: %w", err)
	}

	if err := machine.Transition(session.StateConnecting); err != nil {
		return err
	}
	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	client, err := dialBoundary(dialCtx, serverURL, logger)
	dialCancel()
	if err != nil {
		device.Stop()
		_ = machine.Transition(session.StateError)
		return err
	}
	defer client.close()

	if err := client.send(protocol.EventStartTranscription, nil); err != nil {
		device.Stop()
		_ = machine.Transition(session.StateError)
		return fmt.Errorf("request recording: %w", err)
	}
	if err := awaitStatus(client, protocol.StatusRecordingStarted, startTimeout); err != nil {
		device.Stop()
		_ = machine.Transition(session.StateError)
		return err
	}

	if err := machine.Transition(session.StateRecording); err != nil {
		return err
	}
	streaming.Store(true)
	fmt.Println("Recording. Press Ctrl-C to stop.")

	// Sender: drains flushed chunks onto the socket, off the audio thread.
	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		for chunk := range chunks {
			if err := client.sendChunk(chunk.Bytes()); err != nil {
				logger.Warn("Chunk send failed", slog.String("error", err.Error()))
				return
			}
		}
	}()

	// Timer flush keeps latency bounded through quiet stretches.
	tickerQuit := make(chan struct{})
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		ticker := time.NewTicker(cfg.Chunker.GetFlushIntervalDuration())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if streaming.Load() {
					postChunk(chunker.TimerFlush())
				}
			case <-tickerQuit:
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var sessionErr error
recording:
	for {
		select {
		case <-sigCh:
			break recording
		case ep := <-client.errors:
			if ep.Kind == protocol.ErrorKindProtocol {
				// The service dropped one offending event and the
				// session continues.
				logger.Warn("Service rejected an event", slog.String("message", ep.Message))
				continue
			}
			sessionErr = fmt.Errorf("service error (%s): %s", ep.Kind, ep.Message)
			break recording
		case <-client.done:
			sessionErr = fmt.Errorf("connection to the service was lost")
			break recording
		}
	}

	// Freeze capture, flush the tail, then let the provider finalize and
	// the analysis run.
	if err := machine.Transition(session.StateStopping); err != nil {
		return err
	}
	streaming.Store(false)
	close(tickerQuit)
	<-tickerDone
	device.Stop()

	if sessionErr != nil {
		close(chunks)
		<-senderDone
		_ = machine.Transition(session.StateError)
		return sessionErr
	}

	postChunk(chunker.TimerFlush())
	close(chunks)
	<-senderDone

	if err := client.send(protocol.EventStopTranscription, nil); err != nil {
		_ = machine.Transition(session.StateError)
		return fmt.Errorf("request stop: %w", err)
	}

	result, err := awaitAnalysis(client, sigCh, analysisWait(cfg))
	if err != nil {
		_ = machine.Transition(session.StateError)
		return err
	}
	renderResult(result)

	if n := droppedChunks.Load(); n > 0 {
		logger.Warn("Audio chunks dropped under backpressure", slog.Uint64("count", n))
	}
	stats := chunker.GetStats()
	logger.Debug("Capture finished",
		slog.Uint64("chunks", stats.ChunksFlushed),
		slog.Uint64("samples", stats.SamplesFlushed),
		slog.Uint64("speech_flushes", stats.SpeechFlushes),
		slog.Uint64("timer_flushes", stats.TimerFlushes),
	)
	return machine.Transition(session.StateIdle)
}

// awaitStatus consumes lifecycle notices until the wanted one arrives.
func awaitStatus(client *boundaryClient, want string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case st := <-client.status:
			if st.Status == want {
				return nil
			}
		case ep := <-client.errors:
			return fmt.Errorf("service error (%s): %s", ep.Kind, ep.Message)
		case <-client.done:
			return fmt.Errorf("connection closed while waiting for %s", want)
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for %s", want)
		}
	}
}

// awaitAnalysis waits out the provider finalization and note generation. A
// further interrupt abandons the wait.
func awaitAnalysis(client *boundaryClient, sigCh <-chan os.Signal, timeout time.Duration) (*analysis.Result, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case res := <-client.analysis:
			return &res, nil
		case ep := <-client.errors:
			if ep.Kind == protocol.ErrorKindProtocol {
				continue
			}
			return nil, fmt.Errorf("service error (%s): %s", ep.Kind, ep.Message)
		case <-client.done:
			return nil, fmt.Errorf("connection closed before the analysis arrived")
		case <-sigCh:
			return nil, fmt.Errorf("interrupted before the analysis arrived")
		case <-deadline.C:
			return nil, fmt.Errorf("timed out waiting for the analysis")
		}
	}
}

// analysisWait bounds the post-stop wait: the grace the service gives the
// provider to finalize, the analysis attempts it may make, and slack for
// transport.
func analysisWait(cfg *config.Config) time.Duration {
	attempts := time.Duration(cfg.Analysis.MaxRetries + 1)
	return cfg.Session.GetStopGraceDuration() + attempts*cfg.Analysis.GetTimeoutDuration() + 10*time.Second
}

func conditionerConfig(cfg *config.Config) audio.ConditionerConfig {
	return audio.ConditionerConfig{
		SampleRate: cfg.Audio.SampleRate,
		HighpassHz: cfg.Audio.HighpassHz,
		LowpassHz:  cfg.Audio.LowpassHz,
		Gain:       cfg.Audio.Gain,
		Compressor: audio.CompressorConfig{
			ThresholdDB:    cfg.Audio.Compressor.ThresholdDB,
			Ratio:          cfg.Audio.Compressor.Ratio,
			AttackSeconds:  cfg.Audio.Compressor.AttackSeconds,
			ReleaseSeconds: cfg.Audio.Compressor.ReleaseSeconds,
		},
	}
}

func classifierConfig(cfg *config.Config) vad.Config {
	return vad.Config{
		BaseThreshold:         cfg.VAD.BaseThreshold,
		PeakFloor:             cfg.VAD.PeakFloor,
		NoiseSmoothing:        cfg.VAD.NoiseSmoothing,
		SpeechRatio:           cfg.VAD.SpeechRatio,
		SpeechCountThreshold:  cfg.VAD.SpeechCountThreshold,
		SilenceCountTolerance: cfg.VAD.SilenceCountTolerance,
	}
}
