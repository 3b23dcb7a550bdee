package asr

import "time"

// State is the voice-activity-detection state for a session: IDLE while
// accumulating pre-roll audio waiting for onset, ACTIVE while a speech
// segment is open.
type State int

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// VADConfig holds the dual-state energy-gated voice-activity constants from
// spec §4.1. Field names mirror [config.VADConfig], but the two types are
// distinct (the config type also carries DuplicateWindow), so callers copy
// the fields across one by one.
type VADConfig struct {
	PreSpeechPadding     time.Duration
	EndSilence           time.Duration
	MaxSegment           time.Duration
	PartialInterval      time.Duration
	NoiseDecay           float64
	ThresholdMultiplier  float64
	MinThreshold         float64
	ActiveThresholdRatio float64
}

// vadGate tracks the exponentially-smoothed noise floor and applies the
// dynamic, hysteresis-adjusted voicing threshold. It holds no segment
// buffers of its own — those live in [Pipeline] alongside the rest of the
// per-session streaming state.
type vadGate struct {
	cfg        VADConfig
	noiseLevel float64
}

func newVADGate(cfg VADConfig) *vadGate {
	return &vadGate{cfg: cfg}
}

// update folds rms into the smoothed noise estimate and reports whether the
// frame has enough energy to count as voiced, given the current state.
func (g *vadGate) update(rms float64, inSpeech bool) bool {
	g.noiseLevel = g.cfg.NoiseDecay*g.noiseLevel + (1-g.cfg.NoiseDecay)*rms

	threshold := g.cfg.MinThreshold
	if dynamic := g.noiseLevel * g.cfg.ThresholdMultiplier; dynamic > threshold {
		threshold = dynamic
	}

	if inSpeech {
		return rms > threshold*g.cfg.ActiveThresholdRatio
	}
	return rms > threshold
}
