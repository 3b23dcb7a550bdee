// Package audio provides PCM format conversion, energy measurement, and
// optional denoising for the mono 16kHz audio path shared by every session.
package audio

import "github.com/interviewd/interviewd/pkg/types"

// AudioFrame is an alias for [types.AudioFrame], kept so this package's
// existing unqualified references continue to work while the canonical
// definition lives in the shared types package.
type AudioFrame = types.AudioFrame
