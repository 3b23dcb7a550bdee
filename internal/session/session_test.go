package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/interviewd/interviewd/internal/asr"
	"github.com/interviewd/interviewd/internal/config"
	"github.com/interviewd/interviewd/internal/observe"
	"github.com/interviewd/interviewd/internal/session"
	"github.com/interviewd/interviewd/internal/transcript"
)

func testDeps(t *testing.T) (config.Config, *asr.Engine, *transcript.Processor, *observe.Metrics) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":""}`))
	}))
	t.Cleanup(srv.Close)

	cfg := config.Defaults()
	cfg.ASR.InferenceURL = srv.URL
	engine := asr.NewEngine(srv.URL, 2)
	post := transcript.New(transcript.Options{
		MinSentenceLen:              cfg.Text.MinSentenceLen,
		EnableOralCleanup:           cfg.Text.EnableOralCleanup,
		EnableNumberNormalization:   cfg.Text.EnableNumberNormalization,
		EnablePunctuationCorrection: cfg.Text.EnablePunctuationCorrection,
	})
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	return cfg, engine, post, metrics
}

func TestSession_NewHasPipelineAndQueue(t *testing.T) {
	cfg, engine, post, metrics := testDeps(t)
	s := session.New("sid-1", session.SourceMic, cfg, engine, post, metrics)

	if s.Pipeline() == nil {
		t.Fatal("expected a non-nil pipeline")
	}
	if s.AudioQueue == nil {
		t.Fatal("expected a non-nil audio queue")
	}
}

func TestSession_HistoryBoundedAtMax(t *testing.T) {
	cfg, engine, post, metrics := testDeps(t)
	cfg.Memory.HistoryMax = 3
	s := session.New("sid-2", session.SourceMic, cfg, engine, post, metrics)

	for i := 0; i < 5; i++ {
		s.AddHistory("turn", "candidate", nil)
	}

	h := s.History(0)
	if len(h) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(h))
	}
}

func TestSession_AddHistory_IgnoresBlank(t *testing.T) {
	cfg, engine, post, metrics := testDeps(t)
	s := session.New("sid-3", session.SourceMic, cfg, engine, post, metrics)
	s.AddHistory("", "candidate", nil)
	if len(s.History(0)) != 0 {
		t.Fatal("expected blank content to be ignored")
	}
}

func TestSession_ContextGetSet(t *testing.T) {
	cfg, engine, post, metrics := testDeps(t)
	s := session.New("sid-4", session.SourceMic, cfg, engine, post, metrics)
	s.SetContext("cv text", "jd text")
	cv, jd := s.Context()
	if cv != "cv text" || jd != "jd text" {
		t.Fatalf("unexpected context: cv=%q jd=%q", cv, jd)
	}
}

func TestSession_Reset_ClearsHistoryAndStats(t *testing.T) {
	cfg, engine, post, metrics := testDeps(t)
	s := session.New("sid-5", session.SourceMic, cfg, engine, post, metrics)
	s.AddHistory("hello", "candidate", nil)
	s.SetContext("cv", "jd")
	s.IncrementStat("segments_processed", 5)

	s.Reset()

	if len(s.History(0)) != 0 {
		t.Fatal("expected history cleared after reset")
	}
	cv, jd := s.Context()
	if cv != "" || jd != "" {
		t.Fatal("expected cv/jd cleared after reset")
	}
	if s.Stats().SegmentsProcessed != 0 {
		t.Fatal("expected stats cleared after reset")
	}
}

func TestSession_StopIdempotent(t *testing.T) {
	cfg, engine, post, metrics := testDeps(t)
	s := session.New("sid-6", session.SourceMic, cfg, engine, post, metrics)
	if s.Stopped() {
		t.Fatal("expected not stopped initially")
	}
	s.Stop()
	s.Stop()
	if !s.Stopped() {
		t.Fatal("expected stopped after Stop")
	}
}

func TestSession_NextSeqMonotonic(t *testing.T) {
	cfg, engine, post, metrics := testDeps(t)
	s := session.New("sid-7", session.SourceMic, cfg, engine, post, metrics)
	prev := uint64(0)
	for i := 0; i < 5; i++ {
		got := s.NextSeq()
		if got <= prev {
			t.Fatalf("expected strictly increasing sequence, got %d after %d", got, prev)
		}
		prev = got
	}
}
