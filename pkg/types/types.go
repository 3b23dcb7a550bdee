// Package types defines the shared data types used across the interview
// assistant's packages: the audio frame that flows from the WebSocket
// gateway through conversion, VAD, and the ASR engine, and the chat
// message shape shared by the answer agent and the LLM client.
//
// They are intentionally minimal — each package defines its own
// domain-specific types, but cross-cutting data structures live here to
// avoid circular imports between internal/audio, internal/asr,
// internal/agent, and internal/llm.
package types

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline: captured from a WebSocket binary frame, converted to the
// session's target format, measured for voicing energy, and handed to the
// ASR engine.
type AudioFrame struct {
	// Data is little-endian PCM audio. Sample rate and channel count are
	// determined by SampleRate and Channels.
	Data []byte

	// SampleRate in Hz (16000 for the ASR path).
	SampleRate int

	// Channels: 1 for mono (the fixed ASR input format).
	Channels int

	// Timestamp marks when this frame was captured, relative to session start.
	Timestamp time.Duration
}

// Message is a single message in an LLM chat-completion request, shared
// between the answer agent's prompt assembly and the LLM client's request
// encoding.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}
