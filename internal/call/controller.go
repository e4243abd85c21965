// Package call runs one voice consultation at a time.
//
// A [Controller] owns the lifecycle of a call: entitlement check, device
// acquisition, session open, the event loop that feeds playback and the
// transcript, interruption handling, and teardown. Each call gets a fresh
// set of resources; nothing survives from one call to the next except the
// profile store and the providers handed to [New].
//
// All exported methods are safe for concurrent use.
package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/celestial/internal/observe"
	"github.com/MrWong99/celestial/pkg/audio"
	"github.com/MrWong99/celestial/pkg/audio/device"
	"github.com/MrWong99/celestial/pkg/profile"
	"github.com/MrWong99/celestial/pkg/provider/s2s"
)

const (
	// DefaultVoice is the prebuilt voice requested from the speech model.
	DefaultVoice = "Kore"

	// DefaultInterruptionFeedback is how long the barge-in indicator stays
	// lit after an interruption.
	DefaultInterruptionFeedback = 2 * time.Second

	// NoConversation is the summary shown when nothing was said.
	NoConversation = "The stars were silent. No conversation was recorded."

	// SummaryFailed is the summary shown when the reading could not be
	// generated.
	SummaryFailed = "Failed to consult the archives of fate."

	summaryTimeout = 45 * time.Second
)

// Summarizer turns a finished call transcript into a written reading.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string, lang Language) (string, error)
}

// Request starts a call.
type Request struct {
	ProfileID string
	Language  Language
}

// Status is a snapshot of the controller for the UI.
type Status struct {
	State     State
	ProfileID string
	Language  Language

	Muted                bool
	Speaking             bool
	InterruptionFeedback bool
	Turns                int

	// Message is a user-facing line for the current state, e.g. an error or
	// a reconnect prompt.
	Message string

	// Paywall is set when the last connect was refused for lack of credit.
	Paywall bool

	// Summary is the reading of the most recently finished call.
	Summary string
}

// Result is returned by [Controller.HangUp].
type Result struct {
	Transcript string
	Summary    string

	// Record is the stored conversation record, nil when nothing was said
	// or no reading could be generated or stored.
	Record *profile.Record
}

// Settings are the per-call tunables. Zero fields take their defaults.
// A call keeps the settings it was started with.
type Settings struct {
	FreeCallLimit        int
	HistoryLimit         int
	FrameSize            int
	InterruptionFeedback time.Duration
	Voice                string
	Persona              string
}

func (s Settings) withDefaults() Settings {
	if s.FreeCallLimit <= 0 {
		s.FreeCallLimit = profile.FreeCallLimit
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = DefaultHistoryLimit
	}
	if s.InterruptionFeedback <= 0 {
		s.InterruptionFeedback = DefaultInterruptionFeedback
	}
	if s.Voice == "" {
		s.Voice = DefaultVoice
	}
	return s
}

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithSummarizer sets the end-of-call summarizer. Without one, calls end
// with [SummaryFailed] and nothing is stored.
func WithSummarizer(s Summarizer) Option {
	return func(c *Controller) { c.summarizer = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithFreeCallLimit sets how many calls a non-premium profile may start.
func WithFreeCallLimit(n int) Option {
	return func(c *Controller) { c.set.FreeCallLimit = n }
}

// WithHistoryLimit sets how many trailing history characters are sent with
// the session instructions.
func WithHistoryLimit(n int) Option {
	return func(c *Controller) { c.set.HistoryLimit = n }
}

// WithFrameSize sets the capture frame size in samples.
func WithFrameSize(n int) Option {
	return func(c *Controller) { c.set.FrameSize = n }
}

// WithInterruptionFeedback sets how long the barge-in indicator stays lit.
func WithInterruptionFeedback(d time.Duration) Option {
	return func(c *Controller) { c.set.InterruptionFeedback = d }
}

// WithVoice sets the prebuilt voice name.
func WithVoice(v string) Option {
	return func(c *Controller) { c.set.Voice = v }
}

// WithPersona replaces [DefaultPersona].
func WithPersona(p string) Option {
	return func(c *Controller) { c.set.Persona = p }
}

// WithSettings replaces all per-call settings at once.
func WithSettings(set Settings) Option {
	return func(c *Controller) { c.set = set }
}

// WithPreflight sets a check run before any device or session is opened.
// A failure ends the connect attempt with a [KindConfig] error.
func WithPreflight(check func(ctx context.Context) error) Option {
	return func(c *Controller) { c.preflight = check }
}

// WithTap attaches a visualization tap to synthesized speech.
func WithTap(t audio.Tap) Option {
	return func(c *Controller) { c.tap = t }
}

// Controller is the session lifecycle controller.
type Controller struct {
	provider s2s.Provider
	profiles profile.Store
	platform device.Platform

	summarizer Summarizer
	metrics    *observe.Metrics
	tap        audio.Tap
	preflight  func(ctx context.Context) error

	// connectMu serialises Connect.
	connectMu sync.Mutex

	mu      sync.Mutex
	set     Settings
	status  Status
	cur     *run
	updates chan Status

	// bg tracks summaries of calls that ended without a HangUp.
	bg sync.WaitGroup
}

// New returns an idle Controller.
func New(provider s2s.Provider, profiles profile.Store, platform device.Platform, opts ...Option) *Controller {
	c := &Controller{
		provider: provider,
		profiles: profiles,
		platform: platform,
		updates:  make(chan Status, 1),
	}
	for _, o := range opts {
		o(c)
	}
	c.set = c.set.withDefaults()
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Reconfigure replaces the per-call settings. A live call keeps its
// settings; the next Connect uses the new ones.
func (c *Controller) Reconfigure(set Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = set.withDefaults()
}

// Settings returns the settings the next call will use.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set
}

// Updates delivers the latest status after every change. Slow readers only
// see the most recent value.
func (c *Controller) Updates() <-chan Status { return c.updates }

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) setStatus(fn func(*Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStatusLocked(fn)
}

func (c *Controller) setStatusLocked(fn func(*Status)) {
	fn(&c.status)
	st := c.status
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- st:
	default:
	}
}

// Connect starts a call for req. It returns once the remote session has
// acknowledged its configuration, or with [ErrPaywall], [ErrBusy], or an
// [*Error] describing the failure. Any previous call is torn down first.
func (c *Controller) Connect(ctx context.Context, req Request) error {
	if !c.connectMu.TryLock() {
		return ErrBusy
	}
	defer c.connectMu.Unlock()

	if req.Language == "" {
		req.Language = English
	}
	ctx, span := observe.StartSpan(ctx, "call.connect", trace.WithAttributes(
		attribute.String("call.profile", req.ProfileID),
		attribute.String("call.language", string(req.Language)),
	))
	defer span.End()
	log := observe.Logger(ctx)

	started := time.Now()
	set := c.Settings()

	prof, err := c.profiles.GetProfile(ctx, req.ProfileID)
	if err != nil {
		return c.connectFailed(ctx, req, newError(KindProfile, err))
	}
	if !prof.Entitled(set.FreeCallLimit) {
		c.metrics.RecordCall(ctx, observe.OutcomePaywall)
		c.setStatus(func(s *Status) {
			s.ProfileID = req.ProfileID
			s.Language = req.Language
			s.Paywall = true
			s.Message = "You have used your free consultations. Upgrade to continue."
		})
		span.SetAttributes(attribute.Bool("call.paywall", true))
		log.Info("call: refused by paywall", "profile", prof.ID, "usage", prof.UsageCount)
		return ErrPaywall
	}

	if c.preflight != nil {
		if err := c.preflight(ctx); err != nil {
			return c.connectFailed(ctx, req, newError(KindConfig, err))
		}
	}

	c.stopCurrent()

	c.setStatus(func(s *Status) {
		*s = Status{State: StateConnecting, ProfileID: req.ProfileID, Language: req.Language, Summary: s.Summary}
	})

	r := newRun(ctx, c, req, prof, set)
	if err := r.acquire(ctx); err != nil {
		r.teardown()
		return c.connectFailed(ctx, req, err)
	}

	cfg := c.sessionConfig(ctx, req, prof, set)
	sess, err := c.provider.Connect(ctx, cfg)
	if err != nil {
		r.teardown()
		return c.connectFailed(ctx, req, newError(KindTransport, err))
	}
	r.sess = sess

	c.mu.Lock()
	c.cur = r
	c.mu.Unlock()
	go r.loop()

	select {
	case <-r.opened:
		c.metrics.ConnectDuration.Record(ctx, time.Since(started).Seconds())
		c.metrics.RecordCall(ctx, observe.OutcomeOpen)
		log.Info("call: open", "profile", prof.ID, "language", req.Language)
		return nil
	case <-r.done:
		err := r.err
		if err == nil {
			err = newError(KindTransport, s2s.ErrSessionClosed)
		}
		return c.connectFailed(ctx, req, err)
	case <-ctx.Done():
		r.stopLoop()
		<-r.done
		return c.connectFailed(ctx, req, newError(KindTransport, ctx.Err()))
	}
}

func (c *Controller) connectFailed(ctx context.Context, req Request, err error) error {
	c.metrics.RecordCall(ctx, observe.OutcomeError)
	msg := err.Error()
	var ce *Error
	if errors.As(err, &ce) {
		msg = ce.Msg
	}
	c.setStatus(func(s *Status) {
		s.State = StateErrored
		s.ProfileID = req.ProfileID
		s.Language = req.Language
		s.Speaking = false
		s.Muted = false
		s.InterruptionFeedback = false
		s.Message = msg
	})
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	observe.Logger(ctx).Warn("call: connect failed", "profile", req.ProfileID, "err", err)
	return err
}

func (c *Controller) sessionConfig(ctx context.Context, req Request, prof *profile.Profile, set Settings) s2s.SessionConfig {
	history, err := c.profiles.History(ctx, prof.ID)
	if err != nil {
		observe.Logger(ctx).Warn("call: load history", "profile", prof.ID, "err", err)
		history = ""
	}
	return s2s.SessionConfig{
		LanguageCode: req.Language.Code(),
		Instructions: BuildInstructions(InstructionParams{
			Language: req.Language,
			UserName: prof.Name,
			Persona:  set.Persona,
			History:  TruncateHistory(history, set.HistoryLimit),
		}),
		Voice:               set.Voice,
		Modality:            s2s.ModalityAudio,
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

// stopCurrent ends the current call, if any, and waits for its teardown.
func (c *Controller) stopCurrent() {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return
	}
	r.stopLoop()
	<-r.done
}

// ToggleMute flips the microphone mute flag of the live call and returns the
// new value.
func (c *Controller) ToggleMute() (bool, error) {
	r, err := c.live()
	if err != nil {
		return false, err
	}
	muted := r.capture.ToggleMute()
	c.setStatus(func(s *Status) { s.Muted = muted })
	return muted, nil
}

// SetMuted sets the microphone mute flag of the live call.
func (c *Controller) SetMuted(muted bool) error {
	r, err := c.live()
	if err != nil {
		return err
	}
	r.capture.SetMuted(muted)
	c.setStatus(func(s *Status) { s.Muted = muted })
	return nil
}

func (c *Controller) live() (*run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil || !c.status.State.Live() {
		return nil, ErrNotOpen
	}
	return c.cur, nil
}

// HangUp ends the live call, summarises its transcript and stores the
// conversation record. It returns [ErrNotOpen] when there is no call to end
// or another HangUp already claimed it.
func (c *Controller) HangUp(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil || !r.claimSummary() {
		return nil, ErrNotOpen
	}
	ctx, span := observe.StartSpan(ctx, "call.hangup", trace.WithAttributes(
		attribute.String("call.profile", r.prof.ID),
	), trace.WithLinks(trace.Link{SpanContext: r.link}))
	defer span.End()

	r.stopLoop()
	<-r.done

	res := &Result{Transcript: r.final}
	summary, ok := c.summarize(ctx, r.final, r.req.Language)
	res.Summary = summary
	c.setStatus(func(s *Status) { s.Summary = summary })
	if !ok {
		return res, nil
	}
	rec, err := c.profiles.AppendConversationRecord(ctx, r.prof.ID, profile.Record{
		Transcript: r.final,
		Summary:    res.Summary,
		Language:   string(r.req.Language),
		Timestamp:  time.Now(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store conversation record")
		return res, fmt.Errorf("call: store conversation record: %w", err)
	}
	res.Record = rec
	observe.Logger(ctx).Info("call: reading stored", "profile", r.prof.ID, "record", rec.ID)
	return res, nil
}

// summarize returns the text to show for a finished call and whether it is
// a reading worth storing.
func (c *Controller) summarize(ctx context.Context, transcript string, lang Language) (string, bool) {
	if strings.TrimSpace(transcript) == "" {
		return NoConversation, false
	}
	if c.summarizer == nil {
		return SummaryFailed, false
	}
	ctx, span := observe.StartSpan(ctx, "call.summarize", trace.WithAttributes(
		attribute.String("call.language", string(lang)),
		attribute.Int("call.transcript_bytes", len(transcript)),
	))
	defer span.End()

	start := time.Now()
	text, err := c.summarizer.Summarize(ctx, transcript, lang)
	c.metrics.SummaryDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summarize")
		observe.Logger(ctx).Warn("call: summarize", "err", err)
		return SummaryFailed, false
	}
	return text, true
}

// storeInBackground summarises and stores a call that ended without an
// explicit HangUp.
func (c *Controller) storeInBackground(r *run) {
	if strings.TrimSpace(r.final) == "" {
		return
	}
	c.bg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
		defer cancel()
		ctx, span := observe.StartSpan(ctx, "call.store_reading", trace.WithAttributes(
			attribute.String("call.profile", r.prof.ID),
		), trace.WithLinks(trace.Link{SpanContext: r.link}))
		defer span.End()

		summary, ok := c.summarize(ctx, r.final, r.req.Language)
		if ok {
			if _, err := c.profiles.AppendConversationRecord(ctx, r.prof.ID, profile.Record{
				Transcript: r.final,
				Summary:    summary,
				Language:   string(r.req.Language),
				Timestamp:  time.Now(),
			}); err != nil {
				span.RecordError(err)
				observe.Logger(ctx).Warn("call: store conversation record", "profile", r.prof.ID, "err", err)
			}
		}
		c.mu.Lock()
		if c.cur == r {
			c.setStatusLocked(func(s *Status) { s.Summary = summary })
		}
		c.mu.Unlock()
	})
}

// Close ends any live call and waits for background summaries to be
// stored.
func (c *Controller) Close() error {
	c.stopCurrent()
	c.bg.Wait()
	return nil
}
