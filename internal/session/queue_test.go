package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/interviewd/interviewd/internal/audio"
	"github.com/interviewd/interviewd/internal/session"
)

func frame(n byte) audio.AudioFrame {
	return audio.AudioFrame{Data: []byte{n}, SampleRate: 16000, Channels: 1}
}

func TestQueue_PushPop_FIFO(t *testing.T) {
	q := session.NewQueue(4, true)
	ctx := context.Background()

	for i := byte(0); i < 3; i++ {
		if _, err := q.Push(ctx, frame(i)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	for i := byte(0); i < 3; i++ {
		f, ok, err := q.Pop(ctx)
		if err != nil || !ok {
			t.Fatalf("pop %d: ok=%v err=%v", i, ok, err)
		}
		if f.Data[0] != i {
			t.Fatalf("pop %d: got frame %v", i, f.Data)
		}
	}
}

func TestQueue_DropOldest_WhenFull(t *testing.T) {
	q := session.NewQueue(2, true)
	ctx := context.Background()

	q.Push(ctx, frame(0))
	q.Push(ctx, frame(1))
	dropped, err := q.Push(ctx, frame(2))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !dropped {
		t.Fatal("expected a drop to occur when pushing into a full queue")
	}
	if q.DroppedCount() == 0 {
		t.Fatal("expected DroppedCount to reflect the drop")
	}

	f, ok, _ := q.Pop(ctx)
	if !ok || f.Data[0] != 1 {
		t.Fatalf("expected oldest (frame 0) to have been dropped, got %v", f.Data)
	}
}

func TestQueue_DrainIfOverloaded_BelowThresholdNoOp(t *testing.T) {
	q := session.NewQueue(10, true)
	ctx := context.Background()
	for i := byte(0); i < 7; i++ {
		q.Push(ctx, frame(i))
	}

	dropped, shouldPause := q.DrainIfOverloaded()
	if dropped != 0 || shouldPause {
		t.Fatalf("expected no drain below 80%% fill, got dropped=%d shouldPause=%v", dropped, shouldPause)
	}
	if q.Len() != 7 {
		t.Fatalf("expected length unchanged at 7, got %d", q.Len())
	}
}

func TestQueue_DrainIfOverloaded_DrainsToHalf(t *testing.T) {
	q := session.NewQueue(10, true)
	ctx := context.Background()
	for i := byte(0); i < 8; i++ {
		q.Push(ctx, frame(i))
	}

	dropped, _ := q.DrainIfOverloaded()
	if dropped != 3 {
		t.Fatalf("expected draining from 8 down to 5 (capacity/2) to drop 3 frames, got %d", dropped)
	}
	if q.Len() != 5 {
		t.Fatalf("expected length 5 after drain, got %d", q.Len())
	}

	f, ok, _ := q.Pop(ctx)
	if !ok || f.Data[0] != 3 {
		t.Fatalf("expected the oldest surviving frame to be frame 3, got %v", f.Data)
	}
}

func TestQueue_DrainIfOverloaded_PausesAfterThreeConsecutiveDrains(t *testing.T) {
	q := session.NewQueue(10, true)
	ctx := context.Background()

	refill := func(n int) {
		for i := 0; i < n; i++ {
			q.Push(ctx, frame(0))
		}
	}

	refill(9) // 0 -> 9, at/above 80%
	for i := 0; i < 2; i++ {
		dropped, shouldPause := q.DrainIfOverloaded()
		if dropped == 0 {
			t.Fatalf("expected a drain on call %d", i)
		}
		if shouldPause {
			t.Fatalf("did not expect shouldPause before the third consecutive drain (call %d)", i)
		}
		refill(4) // 5 -> 9, back at/above 80%
	}

	_, shouldPause := q.DrainIfOverloaded()
	if !shouldPause {
		t.Fatal("expected shouldPause on the third consecutive drain")
	}
}

func TestQueue_Close_UnblocksPop(t *testing.T) {
	q := session.NewQueue(2, true)
	done := make(chan struct{})
	go func() {
		_, ok, err := q.Pop(context.Background())
		if ok || err != nil {
			t.Errorf("expected (false, nil) after close, got ok=%v err=%v", ok, err)
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}

func TestQueue_Pop_CancelViaContext(t *testing.T) {
	q := session.NewQueue(2, false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := q.Pop(ctx)
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}
