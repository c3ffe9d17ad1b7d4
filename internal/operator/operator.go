// Package operator holds the blocking enter-to-continue gates shown to the
// person running a batch: start confirmation, incident recovery and locked
// output file.
package operator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrAborted is returned when the operator closes input instead of
// confirming.
var ErrAborted = eris.New("operator: aborted")

// Kind identifies which gate is being shown.
type Kind int

const (
	// KindStart asks before workers are launched.
	KindStart Kind = iota
	// KindIncidentRecovery asks to resume after a connection incident.
	KindIncidentRecovery
	// KindLockReleased asks to retry after the output store was locked.
	KindLockReleased
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindIncidentRecovery:
		return "incident"
	case KindLockReleased:
		return "lock"
	default:
		return "unknown"
	}
}

// Prompt is one gate.
type Prompt struct {
	Kind  Kind
	Title string
	Lines []string
}

// Prompter blocks until the operator confirms p or ctx is done.
type Prompter interface {
	Confirm(ctx context.Context, p Prompt) error
}

var (
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorInfo    = lipgloss.Color("#20B9B4")
	colorMuted   = lipgloss.Color("#2C4A54")

	titleStyle = lipgloss.NewStyle().Bold(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	hintStyle  = lipgloss.NewStyle().Foreground(colorMuted)
)

func borderColor(k Kind) lipgloss.Color {
	switch k {
	case KindIncidentRecovery:
		return colorError
	case KindLockReleased:
		return colorWarning
	default:
		return colorInfo
	}
}

// Render formats p as a bordered banner.
func Render(p Prompt) string {
	c := borderColor(p.Kind)
	var b strings.Builder
	b.WriteString(titleStyle.Foreground(c).Render(p.Title))
	for _, l := range p.Lines {
		b.WriteString("\n")
		b.WriteString(l)
	}
	return boxStyle.BorderForeground(c).Render(b.String())
}

// Console reads confirmations from a line-oriented input. Lines typed while
// no prompt is showing are discarded so a stray ENTER never answers the
// next prompt.
type Console struct {
	out io.Writer

	in    *bufio.Reader
	once  sync.Once
	lines chan error

	mu        sync.Mutex
	waiting   bool
	discarded int
}

// NewConsole returns a Console reading from in and drawing on out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{
		out:   out,
		in:    bufio.NewReader(in),
		lines: make(chan error),
	}
}

// read delivers one result per line read; it runs for the life of the
// process so abandoned prompts never leave two readers on stdin.
func (c *Console) read() {
	for {
		_, err := c.in.ReadString('\n')
		if err != nil {
			c.lines <- ErrAborted
			return
		}
		if !c.accept() {
			continue
		}
		c.lines <- nil
	}
}

func (c *Console) accept() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.waiting {
		c.discarded++
	}
	return c.waiting
}

func (c *Console) setWaiting(v bool) {
	c.mu.Lock()
	c.waiting = v
	c.mu.Unlock()
}

// Confirm implements Prompter.
func (c *Console) Confirm(ctx context.Context, p Prompt) error {
	// A line accepted for an abandoned prompt may still be pending.
	for drained := false; !drained; {
		select {
		case err := <-c.lines:
			if err != nil {
				return err
			}
		default:
			drained = true
		}
	}

	c.setWaiting(true)
	defer c.setWaiting(false)
	c.once.Do(func() { go c.read() })

	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, Render(p))
	fmt.Fprint(c.out, hintStyle.Render("Press ENTER to continue (Ctrl+C to stop)... "))

	select {
	case err := <-c.lines:
		return err
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return eris.Wrap(ctx.Err(), "operator: wait for confirmation")
	}
}

// Auto confirms every prompt without input, for unattended runs. Incident
// and lock prompts wait Delay first so a dead network is not hammered.
type Auto struct {
	Out   io.Writer
	Delay time.Duration
}

// Confirm implements Prompter.
func (a Auto) Confirm(ctx context.Context, p Prompt) error {
	if a.Out != nil {
		fmt.Fprintln(a.Out, Render(p))
	}
	zap.L().Info("operator: auto-confirming",
		zap.Stringer("kind", p.Kind),
		zap.Duration("delay", a.Delay),
	)
	if p.Kind == KindStart || a.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(a.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "operator: auto-confirm")
	}
}

// ForTerminal picks a Console when in is an interactive terminal and
// assumeYes is false, otherwise an Auto prompter.
func ForTerminal(in *os.File, out io.Writer, assumeYes bool, delay time.Duration) Prompter {
	interactive := isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd())
	if assumeYes || !interactive {
		return Auto{Out: out, Delay: delay}
	}
	return NewConsole(in, out)
}
