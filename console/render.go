// Package console is the terminal surface of echogent: a renderer that turns
// session events into streamed text and dimmed trace lines, and a driver
// that runs the read-eval-print loop.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/sragss/echogent/agentloop"
)

// Banner is printed once at startup.
const Banner = `
          _                            _
  ___ ___| |__   ___   __ _  ___ _ __ | |_
 / _ / __| '_ \ / _ \ / _' |/ _ \ '_ \| __|
|  __\__ \ | | | (_) | (_| |  __/ | | | |_
 \___|___/_| |_|\___/ \__, |\___|_| |_|\__|
                      |___/
`

// Prompt asks for the next request.
const Prompt = "What would you like to do?"

// Renderer writes assistant text and trace lines to a terminal. It
// implements agentloop.EventSink.
type Renderer struct {
	out   io.Writer
	dim   lipgloss.Style
	green lipgloss.Style
	red   lipgloss.Style
	mu    sync.Mutex
	// midLine is set while streamed text has not ended with a newline.
	midLine bool
}

var _ agentloop.EventSink = (*Renderer)(nil)

// NewRenderer creates a renderer for out. Styling is dropped automatically
// when out is not a color terminal.
func NewRenderer(out io.Writer) *Renderer {
	r := lipgloss.NewRenderer(out)
	return &Renderer{
		out:   out,
		dim:   r.NewStyle().Faint(true),
		green: r.NewStyle().Foreground(lipgloss.Color("2")),
		red:   r.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// Banner prints the startup banner.
func (r *Renderer) Banner() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, Banner)
}

// Prompt prints the input prompt on its own line.
func (r *Renderer) Prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	fmt.Fprintln(r.out, r.green.Render(Prompt))
}

// Trace prints a dimmed line.
func (r *Renderer) Trace(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace(text)
}

// Error prints a turn-level failure.
func (r *Renderer) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	fmt.Fprintln(r.out, r.red.Render("Error: "+err.Error()))
}

// HandleEvent renders one session event.
func (r *Renderer) HandleEvent(ev agentloop.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case agentloop.EventAssistantTextDelta:
		delta, _ := ev.Data["delta"].(string)
		if delta == "" {
			return
		}
		io.WriteString(r.out, delta)
		r.midLine = delta[len(delta)-1] != '\n'
	case agentloop.EventAssistantTextEnd:
		r.endLine()
	case agentloop.EventToolCallStart:
		r.trace("Calling " + stringField(ev, "tool_name"))
	case agentloop.EventToolCallEnd:
		r.trace(stringField(ev, "trace"))
	case agentloop.EventTurnLimit:
		r.trace(fmt.Sprintf("Step limit reached (%v steps); send another message to continue.", ev.Data["max_steps"]))
	case agentloop.EventLoopDetection, agentloop.EventWarning:
		r.trace("Warning: " + stringField(ev, "message"))
	case agentloop.EventTurnEnd:
		delta, _ := ev.Data["char_delta"].(int)
		r.trace("Context char-count delta: " + humanize.Comma(int64(delta)))
		if cost, ok := ev.Data["cost_usd"].(float64); ok {
			r.trace(fmt.Sprintf("Estimated cost: $%.4f", cost))
		}
	}
}

func (r *Renderer) trace(text string) {
	r.endLine()
	fmt.Fprintln(r.out, r.dim.Render(text))
}

func (r *Renderer) endLine() {
	if r.midLine {
		io.WriteString(r.out, "\n")
		r.midLine = false
	}
}

func stringField(ev agentloop.SessionEvent, key string) string {
	s, _ := ev.Data[key].(string)
	return s
}
