package call

import "strings"

// Speaker labels used in history lines.
const (
	UserLabel       = "User"
	AstrologerLabel = "Astrologer"
)

// transcript accumulates per-turn fragments and the full call transcript.
// Owned by the event loop.
type transcript struct {
	input  strings.Builder
	output strings.Builder
	lines  []string
}

func (t *transcript) addInput(s string)  { t.input.WriteString(s) }
func (t *transcript) addOutput(s string) { t.output.WriteString(s) }

// completeTurn closes the current turn. It returns the history entry and
// true when either side said something; the accumulators are reset either
// way.
func (t *transcript) completeTurn() (string, bool) {
	entry := t.pending()
	t.input.Reset()
	t.output.Reset()
	if entry == "" {
		return "", false
	}
	t.lines = append(t.lines, entry)
	return entry, true
}

// pending renders the current accumulators as a history entry, or "".
func (t *transcript) pending() string {
	in := strings.TrimSpace(t.input.String())
	out := strings.TrimSpace(t.output.String())
	var lines []string
	if in != "" {
		lines = append(lines, UserLabel+": "+in)
	}
	if out != "" {
		lines = append(lines, AstrologerLabel+": "+out)
	}
	return strings.Join(lines, "\n")
}

// flush moves any unfinished turn into the transcript and resets the
// accumulators.
func (t *transcript) flush() {
	_, _ = t.completeTurn()
}

// text returns the full call transcript.
func (t *transcript) text() string {
	return strings.Join(t.lines, "\n")
}

// accumulators returns the current per-turn buffers.
func (t *transcript) accumulators() (input, output string) {
	return t.input.String(), t.output.String()
}
