// Package progress provides progress indication for restore stages: a
// spinner for indeterminate work (killing sessions, clearing locks) and
// a percent bar fed by the engine's percent_complete counter.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

// Indicator is the progress surface the executor drives. Update carries
// the engine-reported percent complete plus a short detail line.
type Indicator interface {
	Start(label string)
	Update(percent float64, detail string)
	Complete(message string)
	Fail(message string)
	Stop()
}

// Spinner is an indeterminate indicator for stages with no measurable
// percentage.
type Spinner struct {
	writer   io.Writer
	interval time.Duration
	frames   []string

	mu      sync.Mutex
	label   string
	detail  string
	active  bool
	stopCh  chan struct{}
	stopped sync.Once
}

// NewSpinner creates a spinner writing to stdout.
func NewSpinner() *Spinner {
	return &Spinner{
		writer:   os.Stdout,
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		interval: 80 * time.Millisecond,
	}
}

// Start begins spinning with a label.
func (s *Spinner) Start(label string) {
	s.mu.Lock()
	s.label = label
	s.detail = ""
	s.active = true
	s.stopCh = make(chan struct{})
	s.stopped = sync.Once{}
	stopCh := s.stopCh
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.mu.Lock()
				line := s.label
				if s.detail != "" {
					line += " — " + s.detail
				}
				frame := s.frames[i%len(s.frames)]
				s.mu.Unlock()
				fmt.Fprintf(s.writer, "\r%s %s", frame, line)
				i++
			}
		}
	}()
}

// Update replaces the detail line; the percent is ignored by a spinner.
func (s *Spinner) Update(percent float64, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if percent > 0 {
		s.detail = fmt.Sprintf("%.0f%% %s", percent, detail)
	} else {
		s.detail = detail
	}
}

// Complete stops the spinner with a success line.
func (s *Spinner) Complete(message string) {
	s.Stop()
	okColor.Fprint(s.writer, "\r[OK] ")
	fmt.Fprintln(s.writer, message)
}

// Fail stops the spinner with a failure line.
func (s *Spinner) Fail(message string) {
	s.Stop()
	failColor.Fprint(s.writer, "\r[FAIL] ")
	fmt.Fprintln(s.writer, message)
}

// Stop halts the spinner goroutine; safe to call more than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	s.stopped.Do(func() { close(s.stopCh) })
	fmt.Fprint(s.writer, "\r")
}

// Bar renders engine percent_complete on a progressbar. Restores report
// progress in whole percents, so the bar is 100 units wide.
type Bar struct {
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	label string
	last  int
}

// NewBar creates a percent bar writing to stderr; stdout stays clean
// for data.
func NewBar() *Bar {
	return &Bar{}
}

func (b *Bar) Start(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.label = label
	b.last = 0
	b.bar = progressbar.NewOptions(100,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer: "=", SaucerHead: ">", SaucerPadding: " ",
			BarStart: "[", BarEnd: "]",
		}),
	)
}

func (b *Bar) Update(percent float64, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil {
		return
	}
	p := int(percent)
	if p < b.last {
		return // percent_complete can wobble between polls
	}
	if p > 100 {
		p = 100
	}
	if detail != "" {
		b.bar.Describe(fmt.Sprintf("%s — %s", b.label, detail))
	}
	_ = b.bar.Set(p)
	b.last = p
}

func (b *Bar) Complete(message string) {
	b.mu.Lock()
	if b.bar != nil {
		_ = b.bar.Finish()
		b.bar = nil
	}
	b.mu.Unlock()
	okColor.Print("[OK] ")
	fmt.Println(message)
}

func (b *Bar) Fail(message string) {
	b.mu.Lock()
	if b.bar != nil {
		_ = b.bar.Clear()
		b.bar = nil
	}
	b.mu.Unlock()
	failColor.Print("[FAIL] ")
	fmt.Println(message)
}

func (b *Bar) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		_ = b.bar.Clear()
		b.bar = nil
	}
}

// NullIndicator discards all progress (tests, --quiet, script output).
type NullIndicator struct{}

// NewNullIndicator creates an indicator that does nothing.
func NewNullIndicator() *NullIndicator { return &NullIndicator{} }

func (n *NullIndicator) Start(string)           {}
func (n *NullIndicator) Update(float64, string) {}
func (n *NullIndicator) Complete(string)        {}
func (n *NullIndicator) Fail(string)            {}
func (n *NullIndicator) Stop()                  {}

// NewIndicator picks the indicator for the run: a percent bar on a
// terminal, null when quiet.
func NewIndicator(quiet bool) Indicator {
	if quiet {
		return NewNullIndicator()
	}
	return NewBar()
}
