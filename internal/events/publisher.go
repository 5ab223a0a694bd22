// Package events mirrors transcript and analysis events to Kafka so
// downstream consumers (EHR importers, audit pipelines) can follow a
// consultation without holding a WebSocket to the service. Publishing is
// optional: with no brokers configured the publisher degrades to
// log-only mode and every publish succeeds immediately.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/analysis"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/metrics"
	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/transcript"
)

// Publisher writes session events to separate Kafka topics for final
// transcript segments and completed analyses.
type Publisher struct {
	writerTranscript *kafka.Writer
	writerAnalysis   *kafka.Writer
	topicTranscript  string
	topicAnalysis    string
	enabled          bool
	metrics          *metrics.Metrics
	logger           *slog.Logger
}

// Config holds Kafka publisher configuration.
type Config struct {
	Enabled         bool
	Brokers         []string
	TranscriptTopic string
	AnalysisTopic   string
}

// TranscriptEvent mirrors one final transcript segment.
type TranscriptEvent struct {
	SessionID string             `json:"session_id"`
	Segment   transcript.Segment `json:"segment"`
	Timestamp time.Time          `json:"timestamp"`
}

// AnalysisEvent mirrors one completed conversation analysis.
type AnalysisEvent struct {
	SessionID string           `json:"session_id"`
	Result    *analysis.Result `json:"result"`
	Timestamp time.Time        `json:"timestamp"`
}

// New creates a Kafka event publisher. When disabled or given no
// brokers it runs in log-only mode. m may be nil to skip metrics.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("Event mirroring disabled, using log-only mode")
		return &Publisher{
			topicTranscript: cfg.TranscriptTopic,
			topicAnalysis:   cfg.AnalysisTopic,
			enabled:         false,
			metrics:         m,
			logger:          logger,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerTranscript := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TranscriptTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
	writerAnalysis := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AnalysisTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	logger.Info("Event publisher initialized",
		"brokers", cfg.Brokers,
		"transcript_topic", cfg.TranscriptTopic,
		"analysis_topic", cfg.AnalysisTopic)

	return &Publisher{
		writerTranscript: writerTranscript,
		writerAnalysis:   writerAnalysis,
		topicTranscript:  cfg.TranscriptTopic,
		topicAnalysis:    cfg.AnalysisTopic,
		enabled:          true,
		metrics:          m,
		logger:           logger,
	}
}

// PublishTranscript mirrors a final segment to the transcript topic,
// keyed by session so one consultation stays on one partition.
func (p *Publisher) PublishTranscript(ctx context.Context, sessionID string, segment transcript.Segment) error {
	event := TranscriptEvent{
		SessionID: sessionID,
		Segment:   segment,
		Timestamp: time.Now(),
	}
	return p.publish(ctx, p.writerTranscript, p.topicTranscript, sessionID, event)
}

// PublishAnalysis mirrors a completed analysis to the analysis topic.
func (p *Publisher) PublishAnalysis(ctx context.Context, sessionID string, result *analysis.Result) error {
	event := AnalysisEvent{
		SessionID: sessionID,
		Result:    result,
		Timestamp: time.Now(),
	}
	return p.publish(ctx, p.writerAnalysis, p.topicAnalysis, sessionID, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event", "topic", topic, "error", err)
		return err
	}

	p.logger.Debug("Publishing event", "topic", topic, "key", key, "bytes", len(payload))

	if !p.enabled || writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(topic)},
		},
	}

	err = writer.WriteMessages(ctx, msg)
	if p.metrics != nil {
		p.metrics.RecordEventPublished(topic, err)
	}
	if err != nil {
		p.logger.Error("Failed to write event to broker", "topic", topic, "key", key, "error", err)
		return err
	}
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTranscript != nil {
		if e := p.writerTranscript.Close(); e != nil {
			p.logger.Error("Error closing transcript writer", "error", e)
			err = e
		}
	}
	if p.writerAnalysis != nil {
		if e := p.writerAnalysis.Close(); e != nil {
			p.logger.Error("Error closing analysis writer", "error", e)
			err = e
		}
	}
	return err
}
