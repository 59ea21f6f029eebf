package restore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prompter gates mutating stages behind a confirmation. Implementations
// must be safe for sequential reuse across stages.
type Prompter interface {
	// Confirm asks whether the named stage may proceed. An error means
	// the answer could not be read, not a "no".
	Confirm(stage, detail string) (bool, error)
}

// StdinPrompter asks on the terminal. Answering "a" accepts the current
// stage and every later one in this run.
type StdinPrompter struct {
	in  *bufio.Reader
	out io.Writer
	all bool
}

// NewStdinPrompter creates a prompter reading from stdin.
func NewStdinPrompter() *StdinPrompter {
	return &StdinPrompter{in: bufio.NewReader(os.Stdin), out: os.Stderr}
}

func (p *StdinPrompter) Confirm(stage, detail string) (bool, error) {
	if p.all {
		return true, nil
	}

	fmt.Fprintf(p.out, "%s: %s\nProceed? [y/N/a] ", stage, detail)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("could not read confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	case "a", "all":
		p.all = true
		return true, nil
	default:
		return false, nil
	}
}

// AutoPrompter answers every confirmation the same way (tests, --force
// wiring).
type AutoPrompter struct {
	Answer bool

	// Asked records each stage for assertions.
	Asked []string
}

func (p *AutoPrompter) Confirm(stage, detail string) (bool, error) {
	p.Asked = append(p.Asked, stage)
	return p.Answer, nil
}
