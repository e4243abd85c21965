package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/celestial/internal/capture"
	"github.com/MrWong99/celestial/internal/observe"
	"github.com/MrWong99/celestial/internal/playback"
	"github.com/MrWong99/celestial/pkg/audio"
	"github.com/MrWong99/celestial/pkg/audio/device"
	"github.com/MrWong99/celestial/pkg/profile"
	"github.com/MrWong99/celestial/pkg/provider/s2s"
)

const (
	endedBuffer   = 256
	historyBuffer = 64
	storeTimeout  = 10 * time.Second
)

// run holds the resources of one call. Everything except the channels and
// the once-guards is owned by the event loop goroutine.
type run struct {
	c    *Controller
	req  Request
	prof *profile.Profile
	set  Settings

	// log carries the trace and span id of the connect span; link lets the
	// background summary span point back at it.
	log  *slog.Logger
	link trace.SpanContext

	in      device.Input
	out     device.Output
	mic     device.Microphone
	sess    s2s.SessionHandle
	capture *capture.Capture
	sched   *playback.Scheduler

	ended  chan playback.SourceID
	stop   chan struct{}
	opened chan struct{}
	done   chan struct{}

	stopOnce     sync.Once
	openOnce     sync.Once
	teardownOnce sync.Once
	summaryClaim atomic.Bool

	isOpen    bool
	feedback  *time.Timer
	feedbackC <-chan time.Time
	tr        transcript
	turns     int

	history     chan string
	historyDone chan struct{}
	bg          sync.WaitGroup

	// Set by the loop before done is closed.
	err   error
	final string
}

func newRun(ctx context.Context, c *Controller, req Request, prof *profile.Profile, set Settings) *run {
	return &run{
		c:      c,
		req:    req,
		prof:   prof,
		set:    set,
		log:    observe.Logger(ctx),
		link:   trace.SpanContextFromContext(ctx),
		ended:  make(chan playback.SourceID, endedBuffer),
		stop:   make(chan struct{}),
		opened: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// acquire opens both device contexts, resumes them if suspended and takes
// the microphone. On error the caller tears down whatever was acquired.
func (r *run) acquire(ctx context.Context) error {
	c := r.c
	in, err := c.platform.OpenInput(ctx, audio.InputSampleRate)
	if err != nil {
		return deviceError(err)
	}
	r.in = in
	out, err := c.platform.OpenOutput(ctx, audio.OutputSampleRate)
	if err != nil {
		return deviceError(err)
	}
	r.out = out

	if in.State() == device.StateSuspended {
		if err := in.Resume(ctx); err != nil {
			return newError(KindDevice, err)
		}
	}
	if out.State() == device.StateSuspended {
		if err := out.Resume(ctx); err != nil {
			return newError(KindDevice, err)
		}
	}

	mic, err := in.Microphone(ctx)
	if err != nil {
		return deviceError(err)
	}
	r.mic = mic

	cp := capture.New(in.SampleRate(),
		capture.WithFrameSize(r.set.FrameSize),
		capture.WithMetrics(c.metrics),
	)
	if err := cp.Start(mic); err != nil {
		return newError(KindDevice, err)
	}
	r.capture = cp

	r.sched = playback.New(out, r.notifyEnded,
		playback.WithTap(c.tap),
		playback.WithMetrics(c.metrics),
		playback.WithSpeakingChange(func(v bool) {
			r.update(func(s *Status) { s.Speaking = v })
		}),
	)
	return nil
}

func deviceError(err error) *Error {
	if errors.Is(err, device.ErrPermissionDenied) {
		return newError(KindPermission, err)
	}
	return newError(KindDevice, err)
}

// notifyEnded runs on the render goroutine.
func (r *run) notifyEnded(id playback.SourceID) {
	select {
	case r.ended <- id:
	default:
		go func() {
			select {
			case r.ended <- id:
			case <-r.done:
			}
		}()
	}
}

func (r *run) stopLoop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// claimSummary reports whether the caller is the first to take
// responsibility for summarising this call.
func (r *run) claimSummary() bool {
	return r.summaryClaim.CompareAndSwap(false, true)
}

// update applies fn to the controller status unless a newer call has
// replaced this one.
func (r *run) update(fn func(*Status)) {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil && c.cur != r {
		return
	}
	c.setStatusLocked(fn)
}

func (r *run) loop() {
	defer close(r.done)
	defer r.finish()

	r.startHistoryWriter()
	events := r.sess.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				r.remoteClosed()
				return
			}
			r.handle(ev)
		case id := <-r.ended:
			r.sched.Ended(id)
		case <-r.feedbackC:
			r.feedbackC = nil
			r.update(func(s *Status) { s.InterruptionFeedback = false })
		case <-r.stop:
			r.drainTranscripts(events)
			return
		}
	}
}

// drainTranscripts picks up transcript fragments that already arrived when
// the call is stopped locally. Other queued events are discarded.
func (r *run) drainTranscripts(events <-chan s2s.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case s2s.EventInputTranscript, s2s.EventOutputTranscript:
				r.handle(ev)
			}
		default:
			return
		}
	}
}

func (r *run) handle(ev s2s.Event) {
	switch ev.Type {
	case s2s.EventSetupComplete:
		r.onOpen()
	case s2s.EventAudio:
		if _, err := r.sched.Enqueue(ev.Audio); err != nil {
			r.log.Warn("call: dropping inbound audio", "err", err)
		}
	case s2s.EventInputTranscript:
		r.tr.addInput(ev.Text)
	case s2s.EventOutputTranscript:
		r.tr.addOutput(ev.Text)
	case s2s.EventTurnComplete:
		r.completeTurn()
	case s2s.EventInterrupted:
		r.interrupt()
	case s2s.EventGoAway:
		r.log.Info("call: server will close the session", "time_left", ev.TimeLeft)
		r.update(func(s *Status) { s.Message = "The session will end shortly." })
	}
}

func (r *run) onOpen() {
	if r.isOpen {
		return
	}
	r.isOpen = true
	r.capture.Attach(r.sess)
	r.c.metrics.ActiveCalls.Add(context.Background(), 1)
	r.update(func(s *Status) {
		s.State = StateOpen
		s.Message = ""
		s.Paywall = false
	})

	if !r.prof.IsPremium {
		store, prof := r.c.profiles, *r.prof
		r.bg.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if _, err := profile.IncrementUsage(ctx, store, &prof); err != nil {
				r.log.Warn("call: increment usage", "profile", prof.ID, "err", err)
			}
		})
	}
	r.openOnce.Do(func() { close(r.opened) })
}

func (r *run) completeTurn() {
	entry, ok := r.tr.completeTurn()
	if !ok {
		return
	}
	r.history <- entry
	r.turns++
	r.c.metrics.Turns.Add(context.Background(), 1)
	turns := r.turns
	r.update(func(s *Status) { s.Turns = turns })
}

// interrupt discards queued speech after a barge-in and lights the
// feedback indicator. Repeated signals re-arm the indicator timer.
func (r *run) interrupt() {
	r.sched.Flush()
	r.c.metrics.Interruptions.Add(context.Background(), 1)
	if r.feedback == nil {
		r.feedback = time.NewTimer(r.set.InterruptionFeedback)
	} else {
		r.feedback.Reset(r.set.InterruptionFeedback)
	}
	r.feedbackC = r.feedback.C
	r.update(func(s *Status) {
		s.Speaking = false
		s.InterruptionFeedback = true
	})
}

func (r *run) remoteClosed() {
	err := r.sess.Err()
	switch {
	case err != nil:
		r.err = newError(KindSession, err)
		r.log.Warn("call: session ended with error", "profile", r.prof.ID, "err", err)
	case !r.isOpen:
		r.err = newError(KindTransport, s2s.ErrSessionClosed)
	default:
		r.log.Info("call: session closed by server", "profile", r.prof.ID)
	}
}

// startHistoryWriter appends finished turns to the profile history in
// order, off the loop goroutine.
func (r *run) startHistoryWriter() {
	r.history = make(chan string, historyBuffer)
	r.historyDone = make(chan struct{})
	store, id := r.c.profiles, r.prof.ID
	go func() {
		defer close(r.historyDone)
		for entry := range r.history {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			if err := store.AppendHistory(ctx, id, entry); err != nil {
				r.log.Warn("call: append history", "profile", id, "err", err)
			}
			cancel()
		}
	}()
}

// finish runs on the loop goroutine after the loop exits.
func (r *run) finish() {
	r.teardown()

	var ce *Error
	errors.As(r.err, &ce)
	r.update(func(s *Status) {
		if ce != nil && r.isOpen {
			s.State = StateErrored
			s.Message = ce.Msg
		} else if r.isOpen {
			s.State = StateClosed
			s.Message = "Call ended."
		}
		s.Muted = false
		s.Speaking = false
		s.InterruptionFeedback = false
	})

	if r.claimSummary() {
		r.c.storeInBackground(r)
	}
}

// teardown releases every resource of the call. It is idempotent and never
// fails; best-effort steps are logged.
func (r *run) teardown() {
	r.teardownOnce.Do(func() {
		if r.capture != nil {
			r.capture.Detach()
		}
		if r.sched != nil {
			r.sched.Flush()
		}
		if r.sess != nil {
			if err := r.sess.Close(); err != nil {
				r.log.Warn("call: close session", "err", err)
			}
		}
		switch {
		case r.capture != nil:
			r.capture.Stop()
		case r.mic != nil:
			if err := r.mic.Stop(); err != nil {
				r.log.Warn("call: stop microphone", "err", err)
			}
		}
		if r.out != nil && r.out.State() != device.StateClosed {
			if err := r.out.Close(); err != nil {
				r.log.Warn("call: close output", "err", err)
			}
		}
		if r.in != nil && r.in.State() != device.StateClosed {
			if err := r.in.Close(); err != nil {
				r.log.Warn("call: close input", "err", err)
			}
		}

		r.tr.flush()
		r.final = r.tr.text()

		if r.feedback != nil {
			r.feedback.Stop()
			r.feedbackC = nil
		}
		if r.history != nil {
			close(r.history)
			<-r.historyDone
		}
		r.bg.Wait()
		if r.capture != nil {
			r.capture.SetMuted(false)
		}
		if r.isOpen {
			r.c.metrics.ActiveCalls.Add(context.Background(), -1)
		}
	})
}
