package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Uttam1728/healthcare-auto-soap-note-taking-bot/internal/transcript"
)

// AnalyzerConfig contains analysis orchestration configuration.
type AnalyzerConfig struct {
	MinTranscriptChars int
	MaxTranscriptChars int
	EnhancedMaxTokens  int
	BasicMaxTokens     int
}

// Analyzer orchestrates conversation analysis: it validates the
// transcript, consults the cache, calls the provider with the enhanced
// prompt, falls back to the basic prompt when the enhanced response
// cannot be parsed, and hardens the result before it reaches clients.
type Analyzer struct {
	completer Completer
	cache     *Cache // nil disables caching
	config    AnalyzerConfig
	logger    *slog.Logger

	// Statistics
	totalAnalyses    uint64
	failedAnalyses   uint64
	fallbackAnalyses uint64
	cacheHits        uint64
	citationsDropped uint64

	mu sync.RWMutex
}

// AnalyzerStats represents analyzer statistics.
type AnalyzerStats struct {
	TotalAnalyses    uint64 `json:"total_analyses"`
	FailedAnalyses   uint64 `json:"failed_analyses"`
	FallbackAnalyses uint64 `json:"fallback_analyses"`
	CacheHits        uint64 `json:"cache_hits"`
	CitationsDropped uint64 `json:"citations_dropped"`
}

// NewAnalyzer creates an analyzer over the given provider. A nil cache
// disables result caching.
func NewAnalyzer(completer Completer, cache *Cache, config AnalyzerConfig, logger *slog.Logger) *Analyzer {
	if config.MinTranscriptChars <= 0 {
		config.MinTranscriptChars = 10
	}
	if config.MaxTranscriptChars <= 0 {
		config.MaxTranscriptChars = 100000
	}
	if config.EnhancedMaxTokens <= 0 {
		config.EnhancedMaxTokens = 2500
	}
	if config.BasicMaxTokens <= 0 {
		config.BasicMaxTokens = 1500
	}
	return &Analyzer{
		completer: completer,
		cache:     cache,
		config:    config,
		logger:    logger,
	}
}

// Analyze produces a conversation analysis for the final transcript
// segments. It never returns an error: failures are reported through the
// Error field of the result so clients always receive something to
// display. isRetry invalidates any cached result and forces a fresh
// provider call.
func (a *Analyzer) Analyze(ctx context.Context, segments []transcript.Segment, isRetry bool) *Result {
	a.incrementTotalAnalyses()

	fullText := transcript.JoinText(segments)
	if len(segments) == 0 || strings.TrimSpace(fullText) == "" {
		a.logger.Info("Analysis skipped: no transcript recorded")
		return emptyTranscriptResult()
	}
	if len(fullText) < a.config.MinTranscriptChars {
		a.logger.Info("Analysis skipped: transcript too short",
			"chars", len(fullText),
			"min_chars", a.config.MinTranscriptChars)
		return shortTranscriptResult(a.config.MinTranscriptChars)
	}
	if len(fullText) > a.config.MaxTranscriptChars {
		a.logger.Warn("Analysis rejected: transcript too long",
			"chars", len(fullText),
			"max_chars", a.config.MaxTranscriptChars)
		return longTranscriptResult(a.config.MaxTranscriptChars)
	}

	if a.cache != nil {
		if isRetry {
			a.cache.Invalidate(fullText)
		} else if cached, ok := a.cache.Get(fullText); ok {
			a.incrementCacheHits()
			a.logger.Info("Analysis served from cache", "segments", len(segments))
			result := *cached
			return &result
		}
	}

	startTime := time.Now()
	result := a.runAnalysis(ctx, segments)
	if result.Failed() {
		a.incrementFailedAnalyses()
		a.logger.Error("Analysis failed", "error", result.Error)
		return result
	}

	dropped := a.sanitizeResult(result, segments)
	result.IsRetry = isRetry
	if dropped > 0 {
		a.logger.Warn("Dropped citations referencing unknown segments", "dropped", dropped)
	}

	if a.cache != nil {
		stored := *result
		stored.IsRetry = false
		a.cache.Put(fullText, &stored)
	}

	a.logger.Info("Analysis completed",
		"segments", len(segments),
		"duration", time.Since(startTime),
		"citations_dropped", dropped,
		"is_retry", isRetry)
	return result
}

// runAnalysis performs the enhanced provider call with basic fallback.
func (a *Analyzer) runAnalysis(ctx context.Context, segments []transcript.Segment) *Result {
	var lastRaw string

	raw, err := a.completer.Complete(ctx, buildEnhancedPrompt(segments), a.config.EnhancedMaxTokens)
	if err == nil {
		result, parseErr := parseResult(raw)
		if parseErr == nil {
			return result
		}
		lastRaw = raw
		a.logger.Warn("Enhanced analysis response unusable, falling back to basic analysis", "error", parseErr)
	} else {
		a.logger.Warn("Enhanced analysis request failed, falling back to basic analysis", "error", err)
	}

	a.incrementFallbackAnalyses()

	rawBasic, err := a.completer.Complete(ctx, buildBasicPrompt(segments), a.config.BasicMaxTokens)
	if err != nil {
		return failureResult(err, lastRaw)
	}
	result, parseErr := parseResult(rawBasic)
	if parseErr != nil {
		return failureResult(parseErr, rawBasic)
	}
	return result
}

// sanitizeResult hardens a parsed result: citations that reference
// unknown segment IDs are dropped, confidences are clamped to [0, 100],
// and the echoed transcript segments are rebuilt from the actual input.
// Returns the number of citations dropped.
func (a *Analyzer) sanitizeResult(result *Result, segments []transcript.Segment) uint64 {
	known := make(map[int]bool, len(segments))
	echoed := make([]TranscriptSegment, len(segments))
	for i, seg := range segments {
		known[seg.ID] = true
		echoed[i] = TranscriptSegment{ID: seg.ID, Speaker: string(seg.Speaker), Text: seg.Text}
	}
	result.TranscriptSegments = echoed

	var dropped uint64
	dropped += sanitizeSection(&result.Note.Subjective, known)
	dropped += sanitizeSection(&result.Note.Objective, known)
	dropped += sanitizeSection(&result.Note.Assessment, known)
	dropped += sanitizeSection(&result.Note.Plan, known)

	result.Metadata.OverallConfidence = clampConfidence(result.Metadata.OverallConfidence)
	if result.Metadata.TotalSegments <= 0 {
		result.Metadata.TotalSegments = len(segments)
	}

	if dropped > 0 {
		a.addCitationsDropped(dropped)
	}
	return dropped
}

// sanitizeSection filters invalid citations out of one section and its
// sub-components. A citation is kept only when it names at least one
// segment and every named segment exists in the transcript.
func sanitizeSection(sec *Section, known map[int]bool) uint64 {
	var dropped uint64
	valid := make([]SourceCitation, 0, len(sec.Sources))
	for _, src := range sec.Sources {
		if citationValid(src, known) {
			valid = append(valid, src)
		} else {
			dropped++
		}
	}
	sec.Sources = valid
	sec.Confidence = clampConfidence(sec.Confidence)
	for key, sub := range sec.SubComponents {
		dropped += sanitizeSection(&sub, known)
		sec.SubComponents[key] = sub
	}
	return dropped
}

func citationValid(src SourceCitation, known map[int]bool) bool {
	if len(src.SegmentIDs) == 0 {
		return false
	}
	for _, id := range src.SegmentIDs {
		if !known[id] {
			return false
		}
	}
	return true
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// emptyTranscriptResult is returned when the session produced no speech
// at all. The provider is never consulted.
func emptyTranscriptResult() *Result {
	result := &Result{
		Error:   "No transcript available",
		Reason:  "No speech was detected or transcribed during the recording session",
		Summary: "No conversation recorded",
		Note: Note{
			Subjective: zeroSection("No patient information captured - no speech detected"),
			Objective:  zeroSection("Not documented - no conversation recorded"),
			Assessment: zeroSection("Cannot assess - no clinical conversation available"),
			Plan:       zeroSection("Unable to create plan - please record a conversation"),
		},
	}
	initCollections(result)
	return result
}

// shortTranscriptResult is returned for transcripts below the analysis
// minimum.
func shortTranscriptResult(minChars int) *Result {
	result := &Result{
		Error:   "Transcript too short for analysis",
		Reason:  fmt.Sprintf("Transcript too short for analysis (minimum %d characters required)", minChars),
		Summary: "Insufficient conversation content for analysis",
		Note: Note{
			Subjective: zeroSection("Insufficient data - conversation too brief"),
			Objective:  zeroSection("Not documented - no conversation recorded"),
			Assessment: zeroSection("Cannot assess - inadequate information"),
			Plan:       zeroSection("Unable to formulate plan"),
		},
	}
	initCollections(result)
	return result
}

// longTranscriptResult is returned for transcripts above the supported
// maximum, without consulting the provider.
func longTranscriptResult(maxChars int) *Result {
	result := &Result{
		Error:  "Transcript too long for analysis",
		Reason: fmt.Sprintf("Transcript too long (max %d characters)", maxChars),
	}
	initCollections(result)
	return result
}

// failureResult carries a provider or parse error to the client along
// with the raw response for debugging.
func failureResult(err error, rawResponse string) *Result {
	result := &Result{
		Error:       fmt.Sprintf("Analysis failed: %v", err),
		RawResponse: rawResponse,
	}
	initCollections(result)
	return result
}

func zeroSection(content string) Section {
	return Section{Content: content, Sources: []SourceCitation{}}
}

// initCollections replaces nil collection fields with empty ones so
// clients receive [] rather than null.
func initCollections(r *Result) {
	if r.SpeakerAnalysis.DoctorSegments == nil {
		r.SpeakerAnalysis.DoctorSegments = []string{}
	}
	if r.SpeakerAnalysis.PatientSegments == nil {
		r.SpeakerAnalysis.PatientSegments = []string{}
	}
	if r.ConversationSegments == nil {
		r.ConversationSegments = []ConversationSegment{}
	}
	if r.MedicalTopics == nil {
		r.MedicalTopics = []string{}
	}
	if r.TranscriptSegments == nil {
		r.TranscriptSegments = []TranscriptSegment{}
	}
}

// Statistics methods
func (a *Analyzer) incrementTotalAnalyses() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalAnalyses++
}

func (a *Analyzer) incrementFailedAnalyses() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failedAnalyses++
}

func (a *Analyzer) incrementFallbackAnalyses() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fallbackAnalyses++
}

func (a *Analyzer) incrementCacheHits() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cacheHits++
}

func (a *Analyzer) addCitationsDropped(n uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.citationsDropped += n
}

// GetStats returns current analyzer statistics.
func (a *Analyzer) GetStats() AnalyzerStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AnalyzerStats{
		TotalAnalyses:    a.totalAnalyses,
		FailedAnalyses:   a.failedAnalyses,
		FallbackAnalyses: a.fallbackAnalyses,
		CacheHits:        a.cacheHits,
		CitationsDropped: a.citationsDropped,
	}
}

// CacheStats returns statistics for the result cache, if one is configured.
func (a *Analyzer) CacheStats() (CacheStats, bool) {
	if a.cache == nil {
		return CacheStats{}, false
	}
	return a.cache.GetStats(), true
}
