package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/MrWong99/celestial/internal/app"
	"github.com/MrWong99/celestial/internal/call"
	"github.com/MrWong99/celestial/pkg/audio"
	"github.com/MrWong99/celestial/pkg/profile"
)

const (
	meterRefresh = 100 * time.Millisecond
	meterWidth   = 24

	// pastReadings is how many stored readings [r] lists.
	pastReadings = 3
)

const helpLine = "[c] connect  [m] mute  [h] hang up  [s] subscribe  [r] past readings  [q] quit"

// console drives the controller from single key presses and renders its
// status to the terminal.
type console struct {
	app   *app.App
	meter *audio.LevelMeter
	req   call.Request
	out   *crlfWriter
}

func newConsole(a *app.App, meter *audio.LevelMeter, req call.Request, out *crlfWriter) *console {
	return &console{app: a, meter: meter, req: req, out: out}
}

// Run puts stdin into raw mode when it is a terminal and processes keys
// until q is pressed, stdin ends or ctx is cancelled.
func (c *console) Run(ctx context.Context) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		prev, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		c.out.setRaw(true)
		defer func() {
			_ = term.Restore(fd, prev)
			c.out.setRaw(false)
		}()
	}

	c.println(helpLine)

	keys := make(chan byte)
	go readKeys(os.Stdin, keys)

	ticker := time.NewTicker(meterRefresh)
	defer ticker.Stop()

	updates := c.app.Controller().Updates()
	var last call.Status
	for {
		select {
		case <-ctx.Done():
			return nil
		case k, ok := <-keys:
			if !ok {
				return nil
			}
			if quit := c.handleKey(ctx, k); quit {
				return nil
			}
		case st := <-updates:
			c.renderStatus(last, st)
			last = st
		case <-ticker.C:
			if last.Speaking {
				c.renderMeter()
			}
		}
	}
}

// handleKey performs the action bound to k and reports whether to quit.
// 0x03 is Ctrl+C, which raw mode delivers as a byte instead of a signal.
func (c *console) handleKey(ctx context.Context, k byte) bool {
	switch k {
	case 'q', 'Q', 0x03:
		return true
	case 'c', 'C':
		go func() {
			err := c.app.Controller().Connect(ctx, c.req)
			switch {
			case errors.Is(err, call.ErrPaywall):
				c.println("Your free consultations are used up. Press [s] to subscribe.")
			case err != nil:
				slog.Debug("connect failed", "err", err)
			}
		}()
	case 'm', 'M':
		muted, err := c.app.Controller().ToggleMute()
		if err != nil {
			c.println("No active call.")
			return false
		}
		if muted {
			c.println("Microphone muted.")
		} else {
			c.println("Microphone live.")
		}
	case 'h', 'H':
		go func() {
			res, err := c.app.Controller().HangUp(ctx)
			if errors.Is(err, call.ErrNotOpen) {
				c.println("No active call.")
				return
			}
			if err != nil {
				slog.Warn("storing the reading failed", "err", err)
			}
			if res != nil {
				c.println("")
				c.println("── Your reading ──")
				c.println(res.Summary)
				c.println("")
			}
		}()
	case 's', 'S':
		p, err := c.app.Subscribe(ctx, c.req.ProfileID)
		if err != nil {
			slog.Error("subscribe failed", "err", err)
			return false
		}
		c.println(fmt.Sprintf("Premium unlocked for %s. Unlimited consultations.", p.Name))
	case 'r', 'R':
		recs, err := c.app.Readings(ctx, c.req.ProfileID, pastReadings)
		if err != nil {
			slog.Error("listing readings failed", "err", err)
			return false
		}
		c.printReadings(recs)
	default:
		c.println(helpLine)
	}
	return false
}

func (c *console) printReadings(recs []profile.Record) {
	if len(recs) == 0 {
		c.println("No past readings yet.")
		return
	}
	for _, r := range recs {
		c.println("")
		c.println(fmt.Sprintf("── %s (%s) ──", r.Timestamp.Local().Format("2 Jan 2006 15:04"), r.Language))
		c.println(r.Summary)
	}
	c.println("")
}

func (c *console) renderStatus(prev, st call.Status) {
	if st.State != prev.State || st.Message != prev.Message {
		line := "● " + st.State.String()
		if st.Message != "" {
			line += ": " + st.Message
		}
		c.println(line)
	}
	if st.InterruptionFeedback && !prev.InterruptionFeedback {
		c.println("(listening…)")
	}
	if st.Paywall && !prev.Paywall {
		c.println("Free consultations used up. Press [s] to subscribe.")
	}
	if prev.Speaking && !st.Speaking {
		c.meter.Reset()
	}
}

func (c *console) renderMeter() {
	rms, _ := c.meter.Level()
	n := min(int(rms*4*meterWidth), meterWidth)
	c.out.printf("\r%s%s\r", strings.Repeat("▮", n), strings.Repeat(" ", meterWidth-n))
}

func (c *console) println(s string) {
	c.out.printf("\r%s\n", s)
}

// readKeys forwards single bytes from r until it fails, then closes out.
func readKeys(r io.Reader, out chan<- byte) {
	defer close(out)
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if err != nil {
			return
		}
		if n == 1 && buf[0] != '\n' && buf[0] != '\r' {
			out <- buf[0]
		}
	}
}

// crlfWriter translates "\n" to "\r\n" while the terminal is in raw mode,
// where the line discipline no longer does it. It serialises writes from the
// logger and the console.
type crlfWriter struct {
	mu  sync.Mutex
	w   io.Writer
	raw bool
}

func (c *crlfWriter) setRaw(raw bool) {
	c.mu.Lock()
	c.raw = raw
	c.mu.Unlock()
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := p
	if c.raw {
		out = bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	}
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *crlfWriter) printf(format string, args ...any) {
	fmt.Fprintf(c, format, args...)
}
