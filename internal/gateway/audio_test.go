package gateway_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/interviewd/interviewd/internal/asr"
	"github.com/interviewd/interviewd/internal/config"
	"github.com/interviewd/interviewd/internal/gateway"
	"github.com/interviewd/interviewd/internal/observe"
	"github.com/interviewd/interviewd/internal/session"
	"github.com/interviewd/interviewd/internal/transcript"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	asrSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"hello world"}`))
	}))
	t.Cleanup(asrSrv.Close)

	cfg := config.Defaults()
	cfg.VAD.MinThreshold = 0 // any audio counts as voiced, for a deterministic test
	cfg.VAD.EndSilence = 10 * time.Millisecond
	engine := asr.NewEngine(asrSrv.URL, 2)
	post := transcript.New(transcript.Options{
		MinSentenceLen:              1,
		EnableOralCleanup:           true,
		EnableNumberNormalization:   true,
		EnablePunctuationCorrection: true,
	})
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	reg := session.NewRegistry(cfg, engine, post, metrics)
	h := gateway.NewAudioHandler(reg, metrics)
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAudioHandler_RejectsUnknownSource(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + srv.URL[len("http"):] + "/ws/audio/sid-1/bogus"
	_, _, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected dial to fail for an invalid source")
	}
}

func TestAudioHandler_ConnectEventAndStop(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + srv.URL[len("http"):] + "/ws/audio/sid-2/mic"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read connect event: %v", err)
	}
	var ev map[string]any
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal connect event: %v", err)
	}
	if ev["type"] != "info" || ev["text"] != "connected" {
		t.Fatalf("unexpected connect event: %v", ev)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"stop"}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestAudioHandler_EmitsFinalForLoudSegment(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + srv.URL[len("http"):] + "/ws/audio/sid-3/mic"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("read connect event: %v", err)
	}

	// 20ms @ 16kHz mono of a ±20000 square wave. A constant level would be
	// removed by the default denoise stage's high-pass filter.
	loudPCM := make([]byte, 640)
	for i := 0; i+1 < len(loudPCM); i += 2 {
		v := int16(20000)
		if (i/2)%2 == 1 {
			v = -20000
		}
		binary.LittleEndian.PutUint16(loudPCM[i:i+2], uint16(v))
	}
	for i := 0; i < 20; i++ {
		if err := conn.Write(ctx, websocket.MessageBinary, loudPCM); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}
	// A stretch of silence long enough to close the segment. Paced with a
	// small sleep so wall-clock time, not just frame count, passes the
	// configured end-silence duration.
	silence := make([]byte, 640)
	for i := 0; i < 10; i++ {
		if err := conn.Write(ctx, websocket.MessageBinary, silence); err != nil {
			t.Fatalf("write silence: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		readCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev["type"] == "final" {
			return
		}
	}
	t.Fatal("expected a final transcript event before the deadline")
}
