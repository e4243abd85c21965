package call

import "testing"

func TestTranscript_CompleteTurn(t *testing.T) {
	t.Parallel()
	var tr transcript

	tr.addInput("  Namaste ")
	tr.addOutput("Jai ")
	tr.addOutput("Shri Krishna")
	entry, ok := tr.completeTurn()
	if !ok || entry != "User: Namaste\nAstrologer: Jai Shri Krishna" {
		t.Errorf("completeTurn = %q, %v", entry, ok)
	}
	if in, out := tr.accumulators(); in != "" || out != "" {
		t.Errorf("accumulators = %q/%q after turn", in, out)
	}

	if _, ok := tr.completeTurn(); ok {
		t.Error("empty turn produced an entry")
	}
	tr.addInput("   ")
	if _, ok := tr.completeTurn(); ok {
		t.Error("whitespace turn produced an entry")
	}
}

func TestTranscript_FlushPending(t *testing.T) {
	t.Parallel()
	var tr transcript

	tr.addInput("first")
	tr.completeTurn()
	tr.addOutput("cut off mid")
	tr.flush()

	if got := tr.text(); got != "User: first\nAstrologer: cut off mid" {
		t.Errorf("text = %q", got)
	}
	if in, out := tr.accumulators(); in != "" || out != "" {
		t.Error("accumulators not reset by flush")
	}
}
