package playback_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/celestial/internal/playback"
	"github.com/MrWong99/celestial/pkg/audio"
	audiomock "github.com/MrWong99/celestial/pkg/audio/mock"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

type harness struct {
	out   *audiomock.Output
	ended chan playback.SourceID
	s     *playback.Scheduler
}

func newHarness(t *testing.T, opts ...playback.Option) *harness {
	t.Helper()
	p := audiomock.NewPlatform()
	if _, err := p.OpenOutput(context.Background(), audio.OutputSampleRate); err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	h := &harness{out: p.Output(), ended: make(chan playback.SourceID, 64)}
	h.s = playback.New(h.out, func(id playback.SourceID) { h.ended <- id }, opts...)
	return h
}

// drain hands every pending completion back to the scheduler, the way the
// call's event loop does.
func (h *harness) drain() {
	for {
		select {
		case id := <-h.ended:
			h.s.Ended(id)
		default:
			return
		}
	}
}

// speech returns a 24 kHz chunk of the given length filled with a constant
// non-zero level.
func speech(d time.Duration) audio.Chunk {
	n := audio.FrameSize(audio.OutputSampleRate, d)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	return audio.EncodeFrame(samples, audio.OutputSampleRate)
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestEnqueue_BackToBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.out.Advance(250 * time.Millisecond)
	t0 := h.out.CurrentTime()

	var starts []float64
	for range 3 {
		start, err := h.s.Enqueue(speech(500 * time.Millisecond))
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		starts = append(starts, start)
		// The clock keeps running between arrivals.
		h.out.Advance(100 * time.Millisecond)
	}

	want := []float64{t0, t0 + 0.5, t0 + 1.0}
	for i := range want {
		if !near(starts[i], want[i]) {
			t.Errorf("start[%d] = %v, want %v", i, starts[i], want[i])
		}
	}
	if got := h.out.StartTimes(); len(got) != 3 || !near(got[2], t0+1.0) {
		t.Errorf("device start times = %v", got)
	}
	if !near(h.s.Cursor(), t0+1.5) {
		t.Errorf("cursor = %v, want %v", h.s.Cursor(), t0+1.5)
	}
}

func TestEnqueue_LateChunkStartsAtClock(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if _, err := h.s.Enqueue(speech(100 * time.Millisecond)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.out.Advance(time.Second)
	h.drain()

	start, err := h.s.Enqueue(speech(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !near(start, 1.0) {
		t.Errorf("start = %v, want 1.0 (device clock)", start)
	}
}

func TestSpeaking_FollowsActiveSet(t *testing.T) {
	t.Parallel()
	var changes []bool
	h := newHarness(t, playback.WithSpeakingChange(func(v bool) { changes = append(changes, v) }))

	if h.s.Speaking() {
		t.Fatal("speaking before any audio")
	}
	_, _ = h.s.Enqueue(speech(200 * time.Millisecond))
	_, _ = h.s.Enqueue(speech(200 * time.Millisecond))
	if !h.s.Speaking() || h.s.Active() != 2 {
		t.Fatalf("speaking=%v active=%d after enqueue", h.s.Speaking(), h.s.Active())
	}

	h.out.Advance(250 * time.Millisecond)
	h.drain()
	if !h.s.Speaking() || h.s.Active() != 1 {
		t.Errorf("speaking=%v active=%d after first ended", h.s.Speaking(), h.s.Active())
	}

	h.out.Advance(250 * time.Millisecond)
	h.drain()
	if h.s.Speaking() || h.s.Active() != 0 {
		t.Errorf("speaking=%v active=%d after both ended", h.s.Speaking(), h.s.Active())
	}
	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Errorf("speaking changes = %v, want [true false]", changes)
	}
}

func TestFlush_StopsEverything(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for range 3 {
		_, _ = h.s.Enqueue(speech(500 * time.Millisecond))
	}
	h.out.Advance(100 * time.Millisecond)

	h.s.Flush()
	if h.s.Active() != 0 || h.s.Speaking() || h.s.Cursor() != 0 {
		t.Errorf("after flush: active=%d speaking=%v cursor=%v", h.s.Active(), h.s.Speaking(), h.s.Cursor())
	}
	if n := h.out.Timeline.Active(); n != 0 {
		t.Errorf("device still has %d sources", n)
	}

	// Nothing plays after the flush.
	buf := make([]float32, 2400)
	h.out.Render(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("sample %d = %v after flush", i, v)
		}
	}

	// Repeated flushes are harmless.
	h.s.Flush()
	if got := h.s.Stats().Flushes; got != 2 {
		t.Errorf("flushes = %d, want 2", got)
	}
}

func TestFlush_AlreadyEndedSource(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, _ = h.s.Enqueue(speech(50 * time.Millisecond))
	h.out.Advance(100 * time.Millisecond)
	// The completion is still queued when the flush happens.
	h.s.Flush()
	h.drain()

	if h.s.Active() != 0 || h.s.Speaking() {
		t.Errorf("active=%d speaking=%v", h.s.Active(), h.s.Speaking())
	}
}

func TestEnqueue_DecodeErrorSkipsChunk(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.s.Enqueue(audio.Chunk{Encoding: audio.EncodingPCM16, SampleRate: 24000, Payload: []byte{1, 2, 3}})
	if !errors.Is(err, audio.ErrMalformedPCM) {
		t.Fatalf("err = %v, want ErrMalformedPCM", err)
	}
	if _, err := h.s.Enqueue(audio.Chunk{}); !errors.Is(err, audio.ErrEmptyChunk) {
		t.Errorf("empty chunk err = %v, want ErrEmptyChunk", err)
	}
	if h.s.Speaking() || h.s.Cursor() != 0 {
		t.Errorf("speaking=%v cursor=%v after bad chunks", h.s.Speaking(), h.s.Cursor())
	}
	if got := h.s.Stats().DecodeErrors; got != 2 {
		t.Errorf("decode errors = %d, want 2", got)
	}

	// Streaming continues.
	if _, err := h.s.Enqueue(speech(100 * time.Millisecond)); err != nil {
		t.Errorf("Enqueue after error: %v", err)
	}
}

func TestEnqueue_StartError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.out.StartErr = errors.New("device lost")

	if _, err := h.s.Enqueue(speech(100 * time.Millisecond)); err == nil {
		t.Fatal("expected error")
	}
	if h.s.Active() != 0 || h.s.Cursor() != 0 {
		t.Errorf("active=%d cursor=%v", h.s.Active(), h.s.Cursor())
	}
}

func TestEnqueue_ResamplesOtherRates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// 16 kHz chunk of 0.5s still occupies 0.5s of output time.
	in := audio.EncodeFrame(make([]float32, 8000), 16000)
	if _, err := h.s.Enqueue(in); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !near(h.s.Cursor(), 0.5) {
		t.Errorf("cursor = %v, want 0.5", h.s.Cursor())
	}
}

func TestTap_ObservesAndResets(t *testing.T) {
	t.Parallel()
	meter := audio.NewLevelMeter(0)
	h := newHarness(t, playback.WithTap(meter))

	_, _ = h.s.Enqueue(speech(200 * time.Millisecond))
	h.out.Advance(50 * time.Millisecond)
	if rms, _ := meter.Level(); rms == 0 {
		t.Error("meter saw no signal while playing")
	}

	h.s.Flush()
	if rms, peak := meter.Level(); rms != 0 || peak != 0 {
		t.Errorf("meter after flush = %v/%v, want 0/0", rms, peak)
	}
}
