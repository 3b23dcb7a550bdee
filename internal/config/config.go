// Package config provides the configuration schema, loader, and validation
// for the interview-assistant audio/ASR/dialogue server.
package config

import "time"

// Config is the root configuration structure for the server.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Audio  AudioConfig  `yaml:"audio"`
	VAD    VADConfig    `yaml:"vad"`
	ASR    ASRConfig    `yaml:"asr"`
	Text   TextConfig   `yaml:"text"`
	Memory MemoryConfig `yaml:"memory"`
	LLM    LLMConfig    `yaml:"llm"`
	Agent  AgentConfig  `yaml:"agent"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// AudioConfig holds the fixed audio-pipeline parameters shared by every
// session: sample rate, queue sizing, and the backpressure policy.
type AudioConfig struct {
	// SampleRate is the fixed sample rate in Hz for the ASR path (16000).
	SampleRate int `yaml:"sample_rate"`

	// QueueCapacity is Q_MAX, the bounded audio_q capacity in frames.
	QueueCapacity int `yaml:"queue_capacity"`

	// DropOldest selects the backpressure policy on a full queue: true drops
	// the oldest buffered frame to make room for the new one; false blocks
	// the producer until a slot frees.
	DropOldest bool `yaml:"drop_oldest"`
}

// VADConfig holds the voice-activity-detection state machine constants from
// spec §4.1.
type VADConfig struct {
	// PreSpeechPadding is the pre-roll duration kept before detected speech onset.
	PreSpeechPadding time.Duration `yaml:"pre_speech_padding"`

	// EndSilence is the minimum trailing unvoiced duration that closes a segment.
	EndSilence time.Duration `yaml:"end_silence"`

	// MaxSegment forces a segment close after this much continuous speech.
	MaxSegment time.Duration `yaml:"max_segment"`

	// PartialInterval is the minimum spacing between partial-result emissions.
	PartialInterval time.Duration `yaml:"partial_interval"`

	// NoiseDecay is the exponential smoothing factor alpha for the noise estimate.
	NoiseDecay float64 `yaml:"noise_decay"`

	// ThresholdMultiplier is MULT in theta = max(MinThreshold, noise*MULT).
	ThresholdMultiplier float64 `yaml:"threshold_multiplier"`

	// MinThreshold is the floor on the dynamic voicing threshold.
	MinThreshold float64 `yaml:"min_threshold"`

	// ActiveThresholdRatio is the 0.7 factor applied to theta while ACTIVE.
	ActiveThresholdRatio float64 `yaml:"active_threshold_ratio"`

	// DuplicateWindow bounds how recently a prior final may have occurred for
	// the near-duplicate suppression rule to apply.
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
}

// ASRConfig configures the ASR engine adapter and its worker pool.
type ASRConfig struct {
	// InferenceURL is the HTTP endpoint of the streaming acoustic model.
	InferenceURL string `yaml:"inference_url"`

	// Language is an optional language hint passed to the recognizer.
	Language string `yaml:"language"`

	// Workers is the size of the shared blocking-recognition worker pool.
	Workers int `yaml:"workers"`

	// PartialTimeout is loaded from configuration but not read by the ASR
	// pipeline: a partial recognition's timeout is 1.5× the buffered segment
	// duration, clamped to 500ms–1.5s.
	PartialTimeout time.Duration `yaml:"partial_timeout"`
}

// TextConfig toggles the post-processor's feature set and length floor.
type TextConfig struct {
	// MinSentenceLen is the minimum character length a transcript must meet
	// to survive the pre/post filters (unless it is an allow-listed
	// acknowledgement).
	MinSentenceLen int `yaml:"min_sentence_len"`

	// EnableOralCleanup toggles filler/repeat collapsing.
	EnableOralCleanup bool `yaml:"enable_oral_cleanup"`

	// EnableNumberNormalization toggles numeral-plus-measure-word normalization.
	EnableNumberNormalization bool `yaml:"enable_number_normalization"`

	// EnablePunctuationCorrection toggles terminal-punctuation fix-up.
	EnablePunctuationCorrection bool `yaml:"enable_punctuation_correction"`

	// EnableDenoise toggles the optional high-pass + spectral-subtraction
	// denoise stage in the audio utilities.
	EnableDenoise bool `yaml:"enable_denoise"`
}

// MemoryConfig holds session-dialogue-history sizing and the optional
// external CV/JD/history store.
type MemoryConfig struct {
	// HistoryMax is H_MAX, the bounded dialogue-history length per session.
	HistoryMax int `yaml:"history_max"`

	// PostgresDSN, when set, backs the CV/JD/history accessor with a
	// Postgres store instead of the in-memory default. Best-effort: failures
	// never escalate to the caller (see internal/external.Guard).
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LLMConfig configures the chat-completion client (C8).
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible chat-completions base URL.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests via "Authorization: Bearer <key>".
	APIKey string `yaml:"api_key"`

	// Model is the default model id. Parameter negotiation (§4.5) inspects
	// this (and BaseURL) to decide max_tokens-vs-max_completion_tokens and
	// temperature support.
	Model string `yaml:"model"`

	// Temperature is the default sampling temperature for models that
	// support a custom value.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens is the default completion token budget before any
	// length-limit retry growth.
	MaxTokens int `yaml:"max_tokens"`

	// MaxConcurrency bounds in-flight chat-completion calls.
	MaxConcurrency int `yaml:"max_concurrency"`

	// RequestTimeout bounds a single HTTP round trip (not the whole stream).
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// AgentConfig configures the answer agent's prompt assembly and timeout.
type AgentConfig struct {
	// Timeout bounds a single answer-generation call end to end.
	Timeout time.Duration `yaml:"timeout"`

	// CVMaxChars truncates the CV block in the assembled prompt.
	CVMaxChars int `yaml:"cv_max_chars"`

	// JDMaxChars truncates the JD block (title, description and
	// requirements together) in the assembled prompt.
	JDMaxChars int `yaml:"jd_max_chars"`

	// HistoryWindow is the number of recent dialogue entries included in
	// the assembled prompt (spec: "last up-to-10 entries").
	HistoryWindow int `yaml:"history_window"`
}

// Defaults returns a [Config] populated with the spec's documented default
// values, suitable as a base before applying a YAML overlay.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   "info",
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			QueueCapacity: 16,
			DropOldest:    true,
		},
		VAD: VADConfig{
			PreSpeechPadding:     175 * time.Millisecond,
			EndSilence:           1000 * time.Millisecond,
			MaxSegment:           9 * time.Second,
			PartialInterval:      350 * time.Millisecond,
			NoiseDecay:           0.997,
			ThresholdMultiplier:  2.5,
			MinThreshold:         0.008,
			ActiveThresholdRatio: 0.7,
			DuplicateWindow:      2 * time.Second,
		},
		ASR: ASRConfig{
			Workers:        8,
			PartialTimeout: 1500 * time.Millisecond,
		},
		Text: TextConfig{
			MinSentenceLen:              2,
			EnableOralCleanup:           true,
			EnableNumberNormalization:   true,
			EnablePunctuationCorrection: true,
			EnableDenoise:               true,
		},
		Memory: MemoryConfig{
			HistoryMax: 200,
		},
		LLM: LLMConfig{
			Temperature:    0.7,
			MaxTokens:      800,
			MaxConcurrency: 8,
			RequestTimeout: 60 * time.Second,
		},
		Agent: AgentConfig{
			Timeout:       30 * time.Second,
			CVMaxChars:    2000,
			JDMaxChars:    300,
			HistoryWindow: 10,
		},
	}
}
