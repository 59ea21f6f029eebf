package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards a bytes.Buffer; the spinner renders from its own
// goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewIndicator_Quiet(t *testing.T) {
	if _, ok := NewIndicator(true).(*NullIndicator); !ok {
		t.Error("quiet mode should select the null indicator")
	}
}

func TestBar_UpdateNeverRegresses(t *testing.T) {
	b := NewBar()
	b.Start("restoring db1")
	defer b.Stop()

	b.Update(40, "step 1/3")
	b.Update(12, "step 1/3") // percent_complete wobble between polls
	if b.last != 40 {
		t.Errorf("last = %d, want 40 (regressions ignored)", b.last)
	}

	b.Update(250, "step 3/3")
	if b.last != 100 {
		t.Errorf("last = %d, want clamp at 100", b.last)
	}
}

func TestSpinner_RendersLabel(t *testing.T) {
	buf := &syncBuffer{}
	s := NewSpinner()
	s.writer = buf
	s.interval = time.Millisecond

	s.Start("Preparing db1")
	time.Sleep(25 * time.Millisecond)
	s.Stop()

	if !strings.Contains(buf.String(), "Preparing db1") {
		t.Errorf("spinner never rendered its label:\n%q", buf.String())
	}
}

func TestSpinner_CompleteAndDoubleStop(t *testing.T) {
	buf := &syncBuffer{}
	s := NewSpinner()
	s.writer = buf
	s.interval = time.Hour // never tick; only the completion line writes

	s.Start("clearing locks")
	s.Update(0, "killing sessions")
	s.Complete("locks cleared")
	s.Stop() // second stop must be a no-op

	if !strings.Contains(buf.String(), "locks cleared") {
		t.Errorf("completion line missing:\n%q", buf.String())
	}
}

func TestNullIndicator_NoPanic(t *testing.T) {
	n := NewNullIndicator()
	n.Start("x")
	n.Update(50, "y")
	n.Complete("done")
	n.Fail("oops")
	n.Stop()
}
