// Package session implements the per-connection interview session (C5):
// the audio queue, dialogue history, CV/JD context, and the VAD/ASR
// pipeline that turns one session's audio stream into transcripts.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/interviewd/interviewd/internal/asr"
	"github.com/interviewd/interviewd/internal/config"
	"github.com/interviewd/interviewd/internal/observe"
	"github.com/interviewd/interviewd/internal/transcript"
)

// Source identifies which audio path a session's frames arrive on.
type Source string

const (
	SourceMic    Source = "mic"
	SourceSystem Source = "sys"
)

// HistoryEntry is one turn of dialogue retained in a session's bounded
// in-memory history.
type HistoryEntry struct {
	Content   string
	Speaker   string
	Timestamp time.Time
	Metadata  map[string]any
}

// Stats tracks per-session counters surfaced on demand (e.g. a status
// endpoint or debug log), mirroring the spec's session statistics block.
type Stats struct {
	StartTime            time.Time
	AudioChunksReceived  int64
	SegmentsProcessed    int64
	TranscriptsGenerated int64
	TotalDuration        time.Duration
}

// Session is one interview session's live state: identity, the bounded
// audio queue feeding its VAD/ASR [asr.Pipeline], dialogue history capped
// at H_MAX entries, CV/JD context text, and monotonic sequencing for
// outbound event ordering.
//
// All exported methods are safe for concurrent use; the audio-processing
// goroutine and the WebSocket read/write goroutines share one Session.
type Session struct {
	ID     string
	Source Source
	SampleRate int

	pipeline *asr.Pipeline

	mu              sync.Mutex
	historyMax      int
	history         []HistoryEntry
	cvText          string
	jdText          string
	meta            map[string]any
	stats           Stats
	stopped         bool
	seq             uint64
	queueCapacity   int
	queueDropOldest bool

	AudioQueue *Queue
}

// New constructs a [Session] with a fresh [asr.Pipeline] wired from cfg.
func New(id string, source Source, cfg config.Config, engine *asr.Engine, post *transcript.Processor, metrics *observe.Metrics) *Session {
	sr := cfg.Audio.SampleRate
	s := &Session{
		ID:              id,
		Source:          source,
		SampleRate:      sr,
		historyMax:      cfg.Memory.HistoryMax,
		meta:            make(map[string]any),
		stats:           Stats{StartTime: time.Now()},
		queueCapacity:   cfg.Audio.QueueCapacity,
		queueDropOldest: cfg.Audio.DropOldest,
		AudioQueue:      NewQueue(cfg.Audio.QueueCapacity, cfg.Audio.DropOldest),
		pipeline: asr.NewPipeline(id, asr.PipelineConfig{
			SampleRate: sr,
			VAD: asr.VADConfig{
				PreSpeechPadding:     cfg.VAD.PreSpeechPadding,
				EndSilence:           cfg.VAD.EndSilence,
				MaxSegment:           cfg.VAD.MaxSegment,
				PartialInterval:      cfg.VAD.PartialInterval,
				NoiseDecay:           cfg.VAD.NoiseDecay,
				ThresholdMultiplier:  cfg.VAD.ThresholdMultiplier,
				MinThreshold:         cfg.VAD.MinThreshold,
				ActiveThresholdRatio: cfg.VAD.ActiveThresholdRatio,
			},
			Engine:          engine,
			Postprocessor:   post,
			DuplicateWindow: cfg.VAD.DuplicateWindow,
			Denoise:         cfg.Text.EnableDenoise,
		}, metrics),
	}
	return s
}

// Pipeline returns the session's VAD/ASR pipeline.
func (s *Session) Pipeline() *asr.Pipeline {
	return s.pipeline
}

// NextSeq returns the next monotonic sequence number for this session's
// outbound events.
func (s *Session) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Stop marks the session as stopping; AudioQueue producers should check
// [Session.Stopped] and stop enqueuing once true.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// Stopped reports whether [Session.Stop] has been called.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// AddHistory appends a dialogue turn, dropping the oldest entry once the
// history exceeds H_MAX. Blank content is ignored.
func (s *Session) AddHistory(content, speaker string, metadata map[string]any) {
	if content == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryEntry{
		Content:   content,
		Speaker:   speaker,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})
	if s.historyMax > 0 && len(s.history) > s.historyMax {
		s.history = s.history[len(s.history)-s.historyMax:]
	}
}

// History returns up to the last `limit` history entries in order. A
// limit <= 0 returns the full retained history.
func (s *Session) History(limit int) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]HistoryEntry, len(h))
	copy(out, h)
	return out
}

// ClearHistory empties the dialogue history.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// SetContext sets the CV and JD text used for answer-agent prompt
// assembly.
func (s *Session) SetContext(cvText, jdText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cvText = cvText
	s.jdText = jdText
}

// Context returns the session's CV and JD text.
func (s *Session) Context() (cvText, jdText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cvText, s.jdText
}

// IncrementStat increments a counter field by delta.
func (s *Session) IncrementStat(field string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch field {
	case "audio_chunks_received":
		s.stats.AudioChunksReceived += delta
	case "segments_processed":
		s.stats.SegmentsProcessed += delta
	case "transcripts_generated":
		s.stats.TranscriptsGenerated += delta
	}
}

// Stats returns a snapshot of the session's counters plus the duration
// since start. Queue and history sizes are not part of the snapshot.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.TotalDuration = time.Since(s.stats.StartTime)
	return st
}

// Reset clears all per-session dialogue and streaming state so the
// Session can be reused for a fresh conversation on the same connection,
// per the resolved Open Question that history is unconditionally cleared
// on reset.
func (s *Session) Reset() {
	s.mu.Lock()
	oldQueue := s.AudioQueue
	s.history = nil
	s.cvText = ""
	s.jdText = ""
	s.meta = make(map[string]any)
	s.stopped = false
	s.seq = 0
	s.stats = Stats{StartTime: time.Now()}
	s.AudioQueue = NewQueue(s.queueCapacity, s.queueDropOldest)
	s.mu.Unlock()

	oldQueue.Close()
	s.pipeline.Reset()
}

// Close releases the session's resources, flushing any in-progress speech
// segment through onFinal before returning.
func (s *Session) Close(ctx context.Context, onFinal asr.FinalFunc) {
	s.Stop()
	s.pipeline.Flush(ctx, onFinal)
	s.AudioQueue.Close()
}
