package device_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/celestial/pkg/audio"
	"github.com/MrWong99/celestial/pkg/audio/device"
)

const testRate = 1000

func constBuffer(n int, v float32) *audio.Buffer {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return &audio.Buffer{Samples: s, SampleRate: testRate}
}

func running(t *testing.T) *device.Timeline {
	t.Helper()
	tl := device.NewTimeline(testRate)
	if err := tl.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	return tl
}

func TestTimeline_SuspendedHoldsClock(t *testing.T) {
	t.Parallel()

	tl := device.NewTimeline(testRate)
	if tl.State() != device.StateSuspended {
		t.Fatalf("State() = %v, want suspended", tl.State())
	}
	tl.Advance(time.Second)
	if got := tl.CurrentTime(); got != 0 {
		t.Errorf("CurrentTime() = %v, want 0 while suspended", got)
	}
	_ = tl.Resume(context.Background())
	tl.Advance(500 * time.Millisecond)
	if got := tl.CurrentTime(); got != 0.5 {
		t.Errorf("CurrentTime() = %v, want 0.5", got)
	}
}

func TestTimeline_SchedulesAtAbsoluteTime(t *testing.T) {
	t.Parallel()

	tl := running(t)
	if _, err := tl.Start(constBuffer(4, 0.25), 0.002, device.SourceOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	out := make([]float32, 8)
	tl.Render(out)
	want := []float32{0, 0, 0.25, 0.25, 0.25, 0.25, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
}

func TestTimeline_PastStartPlaysImmediately(t *testing.T) {
	t.Parallel()

	tl := running(t)
	tl.Advance(10 * time.Millisecond)
	if _, err := tl.Start(constBuffer(2, 0.5), 0, device.SourceOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	out := make([]float32, 2)
	tl.Render(out)
	if out[0] != 0.5 || out[1] != 0.5 {
		t.Errorf("out = %v, want [0.5 0.5]", out)
	}
}

func TestTimeline_OnEndedAndTap(t *testing.T) {
	t.Parallel()

	tl := running(t)
	meter := audio.NewLevelMeter(8)
	ended := 0
	_, err := tl.Start(constBuffer(5, 0.5), 0, device.SourceOptions{
		Tap:     meter,
		OnEnded: func() { ended++ },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	tl.Render(make([]float32, 3))
	if ended != 0 {
		t.Fatalf("ended = %d after partial render, want 0", ended)
	}
	tl.Render(make([]float32, 3))
	if ended != 1 {
		t.Fatalf("ended = %d, want 1", ended)
	}
	if tl.Active() != 0 {
		t.Errorf("Active() = %d, want 0", tl.Active())
	}
	if _, peak := meter.Level(); peak != 0.5 {
		t.Errorf("tap peak = %v, want 0.5", peak)
	}
}

func TestTimeline_StopSilencesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	tl := running(t)
	ended := false
	src, err := tl.Start(constBuffer(10, 0.5), 0, device.SourceOptions{OnEnded: func() { ended = true }})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := src.Stop(); !errors.Is(err, device.ErrAlreadyStopped) {
		t.Fatalf("second Stop err = %v, want ErrAlreadyStopped", err)
	}

	out := make([]float32, 10)
	tl.Render(out)
	for _, s := range out {
		if s != 0 {
			t.Fatalf("stopped source still rendered: %v", out)
		}
	}
	if ended {
		t.Error("OnEnded fired for a stopped source")
	}
}

func TestTimeline_StopAfterNaturalEnd(t *testing.T) {
	t.Parallel()

	tl := running(t)
	src, _ := tl.Start(constBuffer(2, 0.1), 0, device.SourceOptions{})
	tl.Render(make([]float32, 4))
	if err := src.Stop(); !device.IsAlreadyStopped(err) {
		t.Errorf("Stop after end err = %v, want ErrAlreadyStopped", err)
	}
}

func TestTimeline_MixesAndClamps(t *testing.T) {
	t.Parallel()

	tl := running(t)
	_, _ = tl.Start(constBuffer(2, 0.75), 0, device.SourceOptions{})
	_, _ = tl.Start(constBuffer(2, 0.75), 0, device.SourceOptions{})
	out := make([]float32, 2)
	tl.Render(out)
	if out[0] != 1 {
		t.Errorf("mixed sample = %v, want clamped 1", out[0])
	}
}

func TestTimeline_Close(t *testing.T) {
	t.Parallel()

	tl := running(t)
	src, _ := tl.Start(constBuffer(4, 0.5), 0, device.SourceOptions{})
	if err := tl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if tl.State() != device.StateClosed {
		t.Errorf("State() = %v, want closed", tl.State())
	}
	if err := src.Stop(); !device.IsAlreadyStopped(err) {
		t.Errorf("Stop after Close err = %v, want ErrAlreadyStopped", err)
	}
	if _, err := tl.Start(constBuffer(1, 0), 0, device.SourceOptions{}); !errors.Is(err, device.ErrClosed) {
		t.Errorf("Start after Close err = %v, want ErrClosed", err)
	}
	if err := tl.Resume(context.Background()); !errors.Is(err, device.ErrClosed) {
		t.Errorf("Resume after Close err = %v, want ErrClosed", err)
	}
}

func TestTimeline_ResamplesForeignRate(t *testing.T) {
	t.Parallel()

	tl := running(t)
	buf := &audio.Buffer{Samples: make([]float32, 500), SampleRate: 500}
	_, _ = tl.Start(buf, 0, device.SourceOptions{})
	tl.Advance(999 * time.Millisecond)
	if tl.Active() != 1 {
		t.Fatalf("source ended early")
	}
	tl.Advance(time.Millisecond)
	if tl.Active() != 0 {
		t.Errorf("Active() = %d after 1s, want 0", tl.Active())
	}
}
