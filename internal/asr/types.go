// Package asr implements the ASR Engine Adapter (C2) and VAD segmenter (C4):
// a worker-pool-backed HTTP client for a streaming acoustic model, and the
// energy-based dual-state voice-activity segmenter that feeds it.
package asr

import "encoding/json"

// Cache is the opaque per-session streaming-decoder state returned by the
// inference server. Within one open segment each partial recognize call
// passes back the cache returned by the previous partial, so successive
// partials share streaming context; finals are sent with no cache and a
// cache reset, and the cache is dropped when the segment closes. It must
// never be shared across sessions or goroutines — each session owns
// exactly one.
type Cache = json.RawMessage
