// Package gateway implements the WebSocket and SSE network surface (C6 + C9):
// the audio ingestion socket, the answer-agent SSE and WebSocket endpoints,
// and the JSON event framing shared by all three.
package gateway

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/interviewd/interviewd/internal/audio"
	"github.com/interviewd/interviewd/internal/observe"
	"github.com/interviewd/interviewd/internal/session"
)

// frameHeaderLen is the minimum number of bytes a binary frame must carry
// before it is interpreted as a struct-packed header (seq, t0, sr, channels,
// frameCount, rms — 25 bytes of real fields). Any shorter frame is treated
// as raw PCM. There is no further discriminating check: the header is
// read-only metadata for logging, so a false-positive parse costs nothing
// beyond a misleading log line, never a misread of the PCM payload.
const frameHeaderLen = 25

// framePayloadOffset is where PCM audio starts in a header-prefixed frame
// once the full 32-byte header (25 real bytes + 7 bytes padding) is present.
const framePayloadOffset = 32

// consumePollTimeout bounds how long the consumer goroutine waits on an
// empty queue before checking whether the session has been asked to stop.
const consumePollTimeout = 150 * time.Millisecond

// backpressurePauseDuration is how long the consumer pauses after three or
// more consecutive overloaded-queue drains, per spec §4.2's anti-starvation
// rule, giving the producer side a moment to catch up.
const backpressurePauseDuration = 50 * time.Millisecond

// frameHeader is the optional metadata prefix on a binary audio frame, per
// spec §4.2. It carries no control information the pipeline itself needs —
// only figures useful for logging and diagnostics.
type frameHeader struct {
	Seq        uint32
	T0         float64
	SampleRate uint32
	Channels   uint8
	FrameCount uint32
	RMS        float32
}

// parseBinaryFrame splits an incoming binary WebSocket payload into its
// optional header and PCM payload. Frames shorter than [frameHeaderLen]
// bytes are pure PCM; anything at least that long is parsed as a header,
// and the PCM payload starts at [framePayloadOffset] if the frame is long
// enough to carry the header's trailing padding, or right after the header
// fields otherwise.
func parseBinaryFrame(b []byte) (hdr *frameHeader, pcm []byte) {
	if len(b) < frameHeaderLen {
		return nil, trimOddByte(b)
	}

	h := frameHeader{
		Seq:        binary.LittleEndian.Uint32(b[0:4]),
		T0:         asFloat64(b[4:12]),
		SampleRate: binary.LittleEndian.Uint32(b[12:16]),
		Channels:   b[16],
		FrameCount: binary.LittleEndian.Uint32(b[17:21]),
		RMS:        asFloat32(b[21:25]),
	}

	if len(b) >= framePayloadOffset {
		return &h, trimOddByte(b[framePayloadOffset:])
	}
	return &h, trimOddByte(b[frameHeaderLen:])
}

func asFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func asFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// trimOddByte drops a dangling odd trailing byte so the payload divides
// evenly into int16 PCM samples.
func trimOddByte(b []byte) []byte {
	if len(b)%2 != 0 {
		return b[:len(b)-1]
	}
	return b
}

// outEvent is the shared envelope for every server-to-client JSON message
// on the audio socket (info, error, partial, final).
type outEvent struct {
	Type      string  `json:"type"`
	Seq       uint64  `json:"seq"`
	Text      string  `json:"text,omitempty"`
	Timestamp any     `json:"timestamp,omitempty"`
	Speaker   string  `json:"speaker,omitempty"`
	StartTime float64 `json:"start_time,omitempty"`
	EndTime   float64 `json:"end_time,omitempty"`
}

// controlMessage is a client-to-server text-frame control message on the
// audio socket.
type controlMessage struct {
	Type string `json:"type"`
}

// AudioHandler serves the per-session audio ingestion WebSocket (spec §4.2,
// §4.3): binary PCM frames in, partial/final transcript events out.
type AudioHandler struct {
	registry *session.Registry
	metrics  *observe.Metrics
}

// NewAudioHandler returns an [AudioHandler] backed by registry.
func NewAudioHandler(registry *session.Registry, metrics *observe.Metrics) *AudioHandler {
	return &AudioHandler{registry: registry, metrics: metrics}
}

// Register adds the audio WebSocket route to mux.
func (h *AudioHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/audio/{session_id}/{source}", h.handle)
}

func (h *AudioHandler) handle(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("session_id")
	src := session.Source(r.PathValue("source"))

	if src != session.SourceMic && src != session.SourceSystem {
		http.Error(w, "source must be \"mic\" or \"sys\"", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("audio ws: accept failed", "session_id", sid, "error", err)
		return
	}

	sess, err := h.registry.GetOrCreate(sid, src)
	if err != nil {
		slog.Warn("audio ws: rejected", "session_id", sid, "error", err)
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	ctx := r.Context()
	if err := writeEvent(ctx, conn, outEvent{Type: "info", Seq: 0, Text: "connected"}); err != nil {
		conn.CloseNow()
		return
	}

	sock := &audioSocket{
		conn:    conn,
		session: sess,
		source:  src,
		metrics: h.metrics,
	}
	sock.run(ctx)

	h.registry.Remove(context.WithoutCancel(ctx), sid, sock.finalizeToClient)
	conn.Close(websocket.StatusNormalClosure, "session closed")
	slog.Info("audio ws: closed", "session_id", sid, "source", src)
}

// audioSocket runs one connection's Receiver/Consumer pair (spec §5): two
// cooperating goroutines that communicate only through the session's
// bounded audio queue, torn down together via an [errgroup.Group].
type audioSocket struct {
	conn    *websocket.Conn
	session *session.Session
	source  session.Source
	metrics *observe.Metrics

	systemAudioEnabled bool
}

func (s *audioSocket) run(ctx context.Context) {
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(gctx)
	g.Go(func() error {
		defer cancel()
		return s.receive(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return s.consume(gctx)
	})
	_ = g.Wait()

	s.session.Pipeline().Flush(context.WithoutCancel(ctx), s.onFinal)
}

// receive reads frames off the wire and pushes them onto the session's
// audio queue, handling text-frame control messages inline.
func (s *audioSocket) receive(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			s.session.Stop()
			return nil
		}

		switch typ {
		case websocket.MessageText:
			if s.handleControl(ctx, data) {
				s.session.Stop()
				return nil
			}
		case websocket.MessageBinary:
			hdr, pcm := parseBinaryFrame(data)
			if hdr != nil {
				slog.Debug("audio ws: frame header", "session_id", s.session.ID,
					"seq", hdr.Seq, "t0", hdr.T0, "sample_rate", hdr.SampleRate,
					"frame_count", hdr.FrameCount, "rms", hdr.RMS)
			}
			if len(pcm) == 0 {
				continue
			}
			s.session.IncrementStat("audio_chunks_received", 1)
			dropped, err := s.session.AudioQueue.Push(ctx, audio.AudioFrame{
				Data:       pcm,
				SampleRate: s.session.SampleRate,
				Channels:   1,
				Timestamp:  time.Since(time.Time{}),
			})
			if err != nil {
				return nil
			}
			if dropped && s.metrics != nil {
				s.metrics.RecordDroppedFrame(ctx, s.session.ID)
			}
		}
	}
}

// handleControl processes a client text-frame control message. It returns
// true if the connection should be torn down (a "stop" request).
func (s *audioSocket) handleControl(ctx context.Context, data []byte) bool {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("audio ws: malformed control message", "session_id", s.session.ID, "error", err)
		return false
	}

	switch msg.Type {
	case "start_system_audio":
		if s.source != session.SourceSystem || s.systemAudioEnabled {
			return false
		}
		s.systemAudioEnabled = true
		_ = writeEvent(ctx, s.conn, outEvent{Type: "info", Seq: 0, Text: "system audio started"})
	case "stop_system_audio":
		if s.source != session.SourceSystem || !s.systemAudioEnabled {
			return false
		}
		s.systemAudioEnabled = false
		_ = writeEvent(ctx, s.conn, outEvent{Type: "info", Seq: 0, Text: "system audio stopped"})
	case "stop":
		return true
	}
	return false
}

// consume drains the session's audio queue through its VAD/ASR pipeline
// and emits partial/final transcript events to the client.
func (s *audioSocket) consume(ctx context.Context) error {
	for {
		if s.session.Stopped() {
			return nil
		}

		pollCtx, cancel := context.WithTimeout(ctx, consumePollTimeout)
		frame, ok, err := s.session.AudioQueue.Pop(pollCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue // poll timeout, re-check Stopped
		}
		if !ok {
			return nil // queue closed
		}

		if dropped, shouldPause := s.session.AudioQueue.DrainIfOverloaded(); dropped > 0 {
			slog.Warn("audio ws: draining overloaded queue", "session_id", s.session.ID, "dropped", dropped)
			if s.metrics != nil {
				for i := 0; i < dropped; i++ {
					s.metrics.RecordDroppedFrame(ctx, s.session.ID)
				}
			}
			if shouldPause {
				select {
				case <-time.After(backpressurePauseDuration):
				case <-ctx.Done():
					return nil
				}
			}
		}

		s.session.Pipeline().ProcessChunk(ctx, frame.Data, time.Now(), s.onPartial, s.onFinal)
	}
}

func (s *audioSocket) speaker() string {
	if s.source == session.SourceSystem {
		return "interviewer"
	}
	return "candidate"
}

func (s *audioSocket) onPartial(text string, at time.Time) {
	_ = writeEvent(context.Background(), s.conn, outEvent{
		Type:      "partial",
		Seq:       s.session.NextSeq(),
		Text:      text,
		Timestamp: epochSeconds(at),
	})
}

func (s *audioSocket) onFinal(text string, start, end time.Time) {
	s.session.IncrementStat("transcripts_generated", 1)
	s.session.AddHistory(text, s.speaker(), nil)

	_ = writeEvent(context.Background(), s.conn, outEvent{
		Type:      "final",
		Seq:       s.session.NextSeq(),
		Text:      text,
		Speaker:   s.speaker(),
		StartTime: epochSeconds(start),
		EndTime:   epochSeconds(end),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// finalizeToClient is the onFinal callback used during registry teardown,
// after the connection's own goroutines have exited: a best-effort write,
// since the socket may already be half-closed.
func (s *audioSocket) finalizeToClient(text string, start, end time.Time) {
	s.onFinal(text, start, end)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev outEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
