package audio_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/invoicevox/pkg/audio"
	"github.com/MrWong99/invoicevox/pkg/audio/mock"
)

func testBuffer(frames int) *audio.SampleBuffer {
	return audio.NewSampleBuffer([][]float32{make([]float32, frames)}, 24000)
}

func waitDone(t *testing.T, pb *audio.Playback) {
	t.Helper()
	select {
	case <-pb.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not finish within timeout")
	}
}

func TestScheduler_PlaysToEnd(t *testing.T) {
	t.Parallel()

	out := &mock.Output{}
	s := audio.NewScheduler(out)
	defer s.Close()

	buf := testBuffer(2400)
	pb, err := s.Schedule(context.Background(), buf)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitDone(t, pb)

	if pb.Err() != nil {
		t.Errorf("Err = %v, want nil", pb.Err())
	}
	if pb.ID() == "" {
		t.Error("playback ID is empty")
	}
	if pb.Duration() != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", pb.Duration())
	}
	if pb.Format() != buf.Format() {
		t.Errorf("Format = %v, want %v", pb.Format(), buf.Format())
	}
	if pb.Started().IsZero() {
		t.Error("Started is zero")
	}
	calls := out.Calls()
	if len(calls) != 1 || calls[0].Buffer != buf {
		t.Errorf("Play calls = %+v, want one call with the buffer", calls)
	}
}

func TestScheduler_ConcurrentPlaybacksAreIndependent(t *testing.T) {
	t.Parallel()

	out := &mock.Output{Hold: true}
	s := audio.NewScheduler(out)
	defer s.Close()

	first, err := s.Schedule(context.Background(), testBuffer(10))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Schedule(context.Background(), testBuffer(10))
	if err != nil {
		t.Fatal(err)
	}
	if first.ID() == second.ID() {
		t.Error("playback IDs must be unique")
	}
	if s.Active() != 2 {
		t.Errorf("Active = %d, want 2", s.Active())
	}

	out.Finish(1)
	waitDone(t, second)

	select {
	case <-first.Done():
		t.Fatal("finishing the second stream ended the first")
	default:
	}
	if s.Active() != 1 {
		t.Errorf("Active = %d, want 1", s.Active())
	}

	out.Finish(0)
	waitDone(t, first)
	if s.Active() != 0 {
		t.Errorf("Active = %d, want 0", s.Active())
	}
}

func TestScheduler_Cancel(t *testing.T) {
	t.Parallel()

	out := &mock.Output{Hold: true}
	s := audio.NewScheduler(out)
	defer s.Close()

	pb, err := s.Schedule(context.Background(), testBuffer(10))
	if err != nil {
		t.Fatal(err)
	}
	pb.Cancel()
	waitDone(t, pb)
	if !errors.Is(pb.Err(), context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", pb.Err())
	}
	pb.Cancel()
}

func TestScheduler_ContextCancelStopsPlayback(t *testing.T) {
	t.Parallel()

	out := &mock.Output{Hold: true}
	s := audio.NewScheduler(out)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	pb, err := s.Schedule(ctx, testBuffer(10))
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	waitDone(t, pb)
	if !errors.Is(pb.Err(), context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", pb.Err())
	}
}

func TestScheduler_Wait(t *testing.T) {
	t.Parallel()

	out := &mock.Output{Hold: true}
	s := audio.NewScheduler(out)
	defer s.Close()

	pb, err := s.Schedule(context.Background(), testBuffer(10))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pb.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want DeadlineExceeded", err)
	}
	select {
	case <-pb.Done():
		t.Fatal("Wait timing out must not cancel the playback")
	default:
	}

	out.Finish(0)
	if err := pb.Wait(context.Background()); err != nil {
		t.Errorf("Wait after finish = %v, want nil", err)
	}
}

func TestScheduler_PlayError(t *testing.T) {
	t.Parallel()

	playErr := errors.New("device busy")
	out := &mock.Output{PlayErr: playErr}
	s := audio.NewScheduler(out)
	defer s.Close()

	pb, err := s.Schedule(context.Background(), testBuffer(10))
	if !errors.Is(err, playErr) {
		t.Fatalf("err = %v, want wrapped %v", err, playErr)
	}
	if pb != nil {
		t.Error("expected nil playback on error")
	}
	if s.Active() != 0 {
		t.Errorf("Active = %d, want 0", s.Active())
	}
}

func TestScheduler_Close(t *testing.T) {
	t.Parallel()

	closeErr := errors.New("close failed")
	out := &mock.Output{Hold: true, CloseErr: closeErr}
	s := audio.NewScheduler(out)

	pb, err := s.Schedule(context.Background(), testBuffer(10))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); !errors.Is(err, closeErr) {
		t.Errorf("Close = %v, want %v", err, closeErr)
	}
	waitDone(t, pb)
	if !s.Closed() {
		t.Error("Closed() = false after Close")
	}

	if err := s.Close(); !errors.Is(err, closeErr) {
		t.Errorf("second Close = %v, want first result", err)
	}
	if out.CloseCalls != 1 {
		t.Errorf("output CloseCalls = %d, want 1", out.CloseCalls)
	}

	if _, err := s.Schedule(context.Background(), testBuffer(10)); !errors.Is(err, audio.ErrSchedulerClosed) {
		t.Errorf("Schedule after Close = %v, want ErrSchedulerClosed", err)
	}
}

func TestScheduler_FinishHook(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		finished []string
	)
	hookDone := make(chan struct{})
	s := audio.NewScheduler(&mock.Output{}, audio.WithFinishHook(func(pb *audio.Playback) {
		mu.Lock()
		finished = append(finished, pb.ID())
		mu.Unlock()
		close(hookDone)
	}))
	defer s.Close()

	pb, err := s.Schedule(context.Background(), testBuffer(10))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-hookDone:
	case <-time.After(2 * time.Second):
		t.Fatal("finish hook not called")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(finished) != 1 || finished[0] != pb.ID() {
		t.Errorf("finished = %v, want [%s]", finished, pb.ID())
	}
}
