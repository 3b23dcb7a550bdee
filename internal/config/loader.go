package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, overlays it onto
// [Defaults], and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Defaults] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Server.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, errors.New("audio.sample_rate must be positive"))
	}
	if cfg.Audio.QueueCapacity <= 0 {
		errs = append(errs, errors.New("audio.queue_capacity must be positive"))
	}

	if cfg.VAD.PreSpeechPadding <= 0 {
		errs = append(errs, errors.New("vad.pre_speech_padding must be positive"))
	}
	if cfg.VAD.EndSilence <= 0 {
		errs = append(errs, errors.New("vad.end_silence must be positive"))
	}
	if cfg.VAD.MaxSegment <= cfg.VAD.EndSilence {
		errs = append(errs, errors.New("vad.max_segment must be greater than vad.end_silence"))
	}
	if cfg.VAD.NoiseDecay <= 0 || cfg.VAD.NoiseDecay >= 1 {
		errs = append(errs, errors.New("vad.noise_decay must be in (0, 1)"))
	}
	if cfg.VAD.ThresholdMultiplier <= 0 {
		errs = append(errs, errors.New("vad.threshold_multiplier must be positive"))
	}

	if cfg.ASR.Workers <= 0 {
		errs = append(errs, errors.New("asr.workers must be positive"))
	}
	if cfg.ASR.InferenceURL == "" {
		errs = append(errs, errors.New("asr.inference_url is required"))
	}

	if cfg.Memory.HistoryMax <= 0 {
		errs = append(errs, errors.New("memory.history_max must be positive"))
	}

	if cfg.LLM.BaseURL == "" {
		errs = append(errs, errors.New("llm.base_url is required"))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if cfg.LLM.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("llm.max_concurrency must be positive"))
	}

	if cfg.Agent.HistoryWindow <= 0 {
		errs = append(errs, errors.New("agent.history_window must be positive"))
	}

	return errors.Join(errs...)
}
