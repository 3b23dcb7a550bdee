package asr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ia "github.com/interviewd/interviewd/internal/audio"
	"github.com/interviewd/interviewd/internal/observe"
	"github.com/interviewd/interviewd/internal/transcript"
)

// PartialFunc is invoked with an in-progress, lightly-cleaned recognition
// result while a segment is still open.
type PartialFunc func(text string, at time.Time)

// FinalFunc is invoked once a segment closes with its fully post-processed
// transcript and the segment's [start, end) wall-clock bounds.
type FinalFunc func(text string, start, end time.Time)

// PipelineConfig bundles everything a [Pipeline] needs beyond per-session
// runtime state.
type PipelineConfig struct {
	SampleRate    int
	VAD           VADConfig
	Engine        *Engine
	Postprocessor *transcript.Processor
	DuplicateWindow time.Duration
	Denoise       bool
}

// Pipeline is the per-session VAD segmenter + streaming ASR + post-processor
// + dedup pipeline (C2 + C4 combined): the three-stage endpoint detector
// described in spec §4.1, feeding closed segments to the ASR engine adapter
// and filtering/deduplicating its output before it reaches dialogue history.
//
// Safe for concurrent use: every exported method holds the Pipeline's
// mutex, so a reset or flush from another goroutine is serialised with the
// session's audio-processing goroutine.
type Pipeline struct {
	mu sync.Mutex

	sampleRate int
	engine     *Engine
	post       *transcript.Processor
	dedup      *transcript.Deduper
	gate       *vadGate
	metrics    *observe.Metrics
	sessionID  string

	preSpeechPadding time.Duration
	endSilence       time.Duration
	maxSegment       time.Duration
	partialInterval  time.Duration

	denoiser *ia.SpectralDenoiser
	highpass *ia.HighPassFilter

	state            State
	segmentBuffer    [][]byte // accumulated speech-segment PCM chunks
	preRollBuffer    [][]byte // pre-speech padding ring
	preRollDuration  time.Duration
	speechStart      time.Time
	lastActive       time.Time
	lastPartialTime  time.Time
	lastTrailingSilence bool

	cache      Cache
	partialText string
}

// NewPipeline returns a [Pipeline] for one session. sessionID is used only
// for metric attribution.
func NewPipeline(sessionID string, cfg PipelineConfig, metrics *observe.Metrics) *Pipeline {
	p := &Pipeline{
		sampleRate:       cfg.SampleRate,
		engine:           cfg.Engine,
		post:             cfg.Postprocessor,
		dedup:            transcript.NewDeduper(cfg.DuplicateWindow),
		gate:             newVADGate(cfg.VAD),
		metrics:          metrics,
		sessionID:        sessionID,
		preSpeechPadding: cfg.VAD.PreSpeechPadding,
		endSilence:       cfg.VAD.EndSilence,
		maxSegment:       cfg.VAD.MaxSegment,
		partialInterval:  cfg.VAD.PartialInterval,
		state:            StateIdle,
	}
	if cfg.Denoise {
		p.highpass = ia.NewHighPassFilter(80, cfg.SampleRate)
		p.denoiser = ia.NewSpectralDenoiser(cfg.SampleRate / 50) // ~20ms frame
	}
	return p
}

// ProcessChunk feeds one PCM chunk through the endpoint detector. onPartial
// and onFinal may be nil. It may block briefly on the ASR engine call when a
// segment closes or a partial is due.
func (p *Pipeline) ProcessChunk(ctx context.Context, pcm []byte, now time.Time, onPartial PartialFunc, onFinal FinalFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.highpass != nil {
		pcm = p.highpass.Apply(append([]byte(nil), pcm...))
	}

	rms := ia.RMSEnergy(pcm)
	inSpeech := p.state == StateActive
	voiced := p.gate.update(rms, inSpeech)

	if p.denoiser != nil {
		if !voiced {
			p.denoiser.UpdateNoiseFloor(pcm)
		}
		pcm = p.denoiser.Apply(pcm)
	}

	chunkDuration := p.durationOf(pcm)

	if voiced {
		p.lastActive = now
		if p.state == StateIdle {
			p.state = StateActive
			p.speechStart = now.Add(-p.preSpeechPadding)
			p.segmentBuffer = p.preRollBuffer
			p.preRollBuffer = nil
			p.preRollDuration = 0
		}
		p.segmentBuffer = append(p.segmentBuffer, pcm)

		if !p.speechStart.IsZero() && now.Sub(p.speechStart) >= p.maxSegment {
			p.lastTrailingSilence = true
			p.closeSegment(ctx, onFinal)
			p.lastActive = now
		} else if onPartial != nil && now.Sub(p.lastPartialTime) >= p.partialInterval {
			p.emitPartial(ctx, now, onPartial)
			p.lastPartialTime = now
		}
		return
	}

	// Unvoiced frame.
	if p.state == StateActive {
		silenceDuration := now.Sub(p.lastActive)
		if silenceDuration >= p.endSilence {
			p.lastTrailingSilence = true
			p.closeSegment(ctx, onFinal)
		} else {
			p.segmentBuffer = append(p.segmentBuffer, pcm)
		}
		return
	}

	// Idle: accumulate pre-roll, trimming from the front once it exceeds
	// the configured padding duration.
	p.preRollBuffer = append(p.preRollBuffer, pcm)
	p.preRollDuration += chunkDuration
	for p.preRollDuration > p.preSpeechPadding && len(p.preRollBuffer) > 0 {
		p.preRollDuration -= p.durationOf(p.preRollBuffer[0])
		p.preRollBuffer = p.preRollBuffer[1:]
	}
}

// Flush closes any open segment, used when a session disconnects with
// speech still in progress.
func (p *Pipeline) Flush(ctx context.Context, onFinal FinalFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateActive && len(p.segmentBuffer) > 0 {
		p.closeSegment(ctx, onFinal)
	}
}

// Reset clears all per-segment and streaming-decoder state, used when a
// session's dialogue history is reset.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segmentBuffer = nil
	p.preRollBuffer = nil
	p.preRollDuration = 0
	p.state = StateIdle
	p.speechStart = time.Time{}
	p.lastPartialTime = time.Time{}
	p.partialText = ""
	p.cache = nil
	p.dedup.Reset()
}

func (p *Pipeline) durationOf(pcm []byte) time.Duration {
	samples := len(pcm) / 2
	return time.Duration(float64(samples) / float64(p.sampleRate) * float64(time.Second))
}

func (p *Pipeline) emitPartial(ctx context.Context, now time.Time, onPartial PartialFunc) {
	if len(p.segmentBuffer) == 0 {
		return
	}
	segment := joinChunks(p.segmentBuffer)
	segDuration := p.durationOf(segment)

	timeout := clampDuration(segDuration*3/2, 500*time.Millisecond, 1500*time.Millisecond)
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := p.engine.Recognize(reqCtx, segment, p.sampleRate, p.cache, false)
	if err != nil {
		slog.Debug("asr: partial recognition failed", "session_id", p.sessionID, "error", err)
		return
	}
	if result.Text == "" {
		return
	}

	p.cache = result.Cache

	text := p.post.CleanOralSpeech(result.Text)
	if text != "" && text != p.partialText {
		p.partialText = text
		onPartial(text, now)
	}
}

func (p *Pipeline) closeSegment(ctx context.Context, onFinal FinalFunc) {
	defer func() {
		p.segmentBuffer = nil
		p.preRollBuffer = nil
		p.preRollDuration = 0
		p.state = StateIdle
		p.speechStart = time.Time{}
		p.partialText = ""
		p.lastTrailingSilence = false
		p.cache = nil
	}()

	if len(p.segmentBuffer) == 0 {
		return
	}
	segment := joinChunks(p.segmentBuffer)
	if len(segment) == 0 {
		return
	}

	start := p.speechStart
	if start.IsZero() {
		start = time.Now()
	}

	segStart := time.Now()
	segDuration := p.durationOf(segment)
	timeout := clampDuration(segDuration*2, 2*time.Second, 6*time.Second)
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := p.engine.Recognize(reqCtx, segment, p.sampleRate, nil, true)
	end := time.Now()
	if p.metrics != nil {
		p.metrics.SegmentDuration.Record(ctx, end.Sub(start).Seconds())
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordASRError(ctx, p.sessionID)
		}
		slog.Warn("asr: final recognition failed", "session_id", p.sessionID, "error", err, "elapsed", time.Since(segStart))
		return
	}

	if result.Text == "" {
		return
	}

	text := p.post.Process(result.Text, p.lastTrailingSilence)
	if text == "" {
		return
	}

	if p.dedup.IsDuplicate(text, end) {
		if p.metrics != nil {
			p.metrics.RecordSuppressedDuplicate(ctx, p.sessionID)
		}
		return
	}
	p.dedup.Accept(text, end)

	if onFinal != nil {
		onFinal(text, start, end)
	}
}

func joinChunks(chunks [][]byte) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
