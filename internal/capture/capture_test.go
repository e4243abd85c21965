package capture_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/celestial/internal/capture"
	"github.com/MrWong99/celestial/pkg/audio"
	audiomock "github.com/MrWong99/celestial/pkg/audio/mock"
	s2smock "github.com/MrWong99/celestial/pkg/provider/s2s/mock"
)

func startCapture(t *testing.T, opts ...capture.Option) (*capture.Capture, *audiomock.Microphone) {
	t.Helper()
	mic := &audiomock.Microphone{}
	c := capture.New(audio.InputSampleRate, opts...)
	if err := c.Start(mic); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c, mic
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// stalledSender blocks every SendAudio until release is closed.
type stalledSender struct {
	release chan struct{}
	calls   atomic.Int32
}

func (s *stalledSender) SendAudio(audio.Chunk) error {
	s.calls.Add(1)
	<-s.release
	return nil
}

func frame(n int, v float32) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestCapture_RequestsConfiguredFrameSize(t *testing.T) {
	t.Parallel()

	_, mic := startCapture(t)
	if got := mic.FrameSize(); got != capture.DefaultFrameSize {
		t.Errorf("default frame size = %d, want %d", got, capture.DefaultFrameSize)
	}

	_, mic = startCapture(t, capture.WithFrameSize(4096))
	if got := mic.FrameSize(); got != 4096 {
		t.Errorf("frame size = %d, want 4096", got)
	}
}

func TestCapture_DropsUntilAttached(t *testing.T) {
	t.Parallel()

	c, mic := startCapture(t)
	sess := s2smock.NewSession()

	mic.Emit(frame(4, 0.5))
	c.Attach(sess)
	mic.Emit(frame(4, 0.5))

	eventually(t, "one chunk sent", func() bool { return c.Stats().Sent == 1 })
	sent := sess.SentChunks()
	if len(sent) != 1 {
		t.Fatalf("sent %d chunks, want 1", len(sent))
	}
	if sent[0].SampleRate != audio.InputSampleRate || sent[0].Encoding != audio.EncodingPCM16 {
		t.Errorf("chunk = %+v", sent[0])
	}
	if len(sent[0].Payload) != 8 {
		t.Errorf("payload = %d bytes, want 8", len(sent[0].Payload))
	}
	st := c.Stats()
	if st.Captured != 2 || st.DroppedNotOpen != 1 || st.Sent != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCapture_MuteDropsFramesMidStream(t *testing.T) {
	t.Parallel()

	c, mic := startCapture(t)
	sess := s2smock.NewSession()
	c.Attach(sess)

	const total = 10
	for i := range total {
		switch i {
		case 3:
			c.SetMuted(true)
		case 7:
			c.SetMuted(false)
		}
		mic.Emit(frame(160, 0.1))
	}

	// Frames 3..6 are emitted while muted.
	eventually(t, "unmuted frames sent", func() bool { return c.Stats().Sent == total-4 })
	if got := len(sess.SentChunks()); got != total-4 {
		t.Errorf("sent %d chunks, want %d", got, total-4)
	}
	if st := c.Stats(); st.DroppedMuted != 4 {
		t.Errorf("dropped muted = %d, want 4", st.DroppedMuted)
	}
}

func TestCapture_ToggleMute(t *testing.T) {
	t.Parallel()

	c := capture.New(audio.InputSampleRate)
	if c.Muted() {
		t.Fatal("new capture is muted")
	}
	if !c.ToggleMute() || !c.Muted() {
		t.Error("first toggle should mute")
	}
	if c.ToggleMute() || c.Muted() {
		t.Error("second toggle should unmute")
	}
}

func TestCapture_SendErrorsDoNotStopStream(t *testing.T) {
	t.Parallel()

	c, mic := startCapture(t)
	sess := s2smock.NewSession()
	sess.SendAudioErr = errors.New("socket hiccup")
	c.Attach(sess)

	for range 3 {
		mic.Emit(frame(8, 0))
	}
	eventually(t, "three failures", func() bool { return c.Stats().Failed == 3 })
	sess.SendAudioErr = nil
	mic.Emit(frame(8, 0))

	eventually(t, "one success", func() bool { return c.Stats().Sent == 1 })
	st := c.Stats()
	if st.Failed != 3 || st.Sent != 1 {
		t.Errorf("stats = %+v, want 3 failed 1 sent", st)
	}
}

func TestCapture_DetachAndStop(t *testing.T) {
	t.Parallel()

	c, mic := startCapture(t)
	sess := s2smock.NewSession()
	c.Attach(sess)
	mic.Emit(frame(8, 0))
	eventually(t, "first chunk sent", func() bool { return c.Stats().Sent == 1 })

	c.Stop()
	c.Stop()

	if got := mic.Stops(); got != 1 {
		t.Errorf("microphone stopped %d times, want 1", got)
	}
	if mic.Emit(frame(8, 0)) {
		t.Error("frame delivered after Stop")
	}
	// Direct delivery after stop is dropped as not open.
	c.HandleFrame(frame(8, 0))
	if got := len(sess.SentChunks()); got != 1 {
		t.Errorf("sent %d chunks, want 1", got)
	}
}

func TestCapture_StartTwice(t *testing.T) {
	t.Parallel()

	c, _ := startCapture(t)
	if err := c.Start(&audiomock.Microphone{}); err == nil {
		t.Error("expected error on second Start")
	}
}

func TestCapture_ConcurrentMuteAndFrames(t *testing.T) {
	t.Parallel()

	c, mic := startCapture(t)
	c.Attach(s2smock.NewSession())

	var wg sync.WaitGroup
	wg.Go(func() {
		for range 200 {
			mic.Emit(frame(16, 0.2))
		}
	})
	wg.Go(func() {
		for range 200 {
			c.ToggleMute()
		}
	})
	wg.Wait()

	eventually(t, "every frame accounted for", func() bool {
		st := c.Stats()
		return st.Sent+st.DroppedMuted+st.DroppedBusy == 200
	})
	if st := c.Stats(); st.Captured != 200 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCapture_StalledSenderDoesNotBlockFrames(t *testing.T) {
	t.Parallel()

	c, mic := startCapture(t, capture.WithQueueSize(2))
	s := &stalledSender{release: make(chan struct{})}
	t.Cleanup(func() { c.Stop() })
	c.Attach(s)

	mic.Emit(frame(16, 0.1))
	eventually(t, "send in flight", func() bool { return s.calls.Load() == 1 })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 9 {
			mic.Emit(frame(16, 0.1))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("frame delivery blocked on a stalled sender")
	}

	// One frame is in flight, two are queued, the rest are dropped.
	if st := c.Stats(); st.DroppedBusy != 7 {
		t.Errorf("dropped busy = %d, want 7 (stats %+v)", st.DroppedBusy, st)
	}

	close(s.release)
	eventually(t, "queue drained", func() bool { return c.Stats().Sent == 3 })
}

func TestCapture_DetachDiscardsQueuedFrames(t *testing.T) {
	t.Parallel()

	c, mic := startCapture(t, capture.WithQueueSize(4))
	s := &stalledSender{release: make(chan struct{})}
	c.Attach(s)

	for range 3 {
		mic.Emit(frame(16, 0.1))
	}
	eventually(t, "send in flight", func() bool { return s.calls.Load() == 1 })

	c.Detach()
	close(s.release)
	eventually(t, "in-flight send finished", func() bool { return c.Stats().Sent == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := s.calls.Load(); n != 1 {
		t.Errorf("SendAudio called %d times after detach, want 1", n)
	}

	mic.Emit(frame(16, 0.1))
	if st := c.Stats(); st.DroppedNotOpen != 1 {
		t.Errorf("dropped not open = %d, want 1", st.DroppedNotOpen)
	}
}

func TestCapture_AttachReplacesSender(t *testing.T) {
	t.Parallel()

	c, mic := startCapture(t)
	first, second := s2smock.NewSession(), s2smock.NewSession()
	c.Attach(first)
	mic.Emit(frame(8, 0))
	eventually(t, "first sender used", func() bool { return len(first.SentChunks()) == 1 })

	c.Attach(second)
	mic.Emit(frame(8, 0))
	eventually(t, "second sender used", func() bool { return len(second.SentChunks()) == 1 })
	if n := len(first.SentChunks()); n != 1 {
		t.Errorf("first sender got %d chunks, want 1", n)
	}
	c.Stop()
}
