// Package prompt is the terminal side of a played guide. It shows notices
// that need an answer in a modal and everything else in a log view.
package prompt

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/jakopako/goguide/internal/sequencer"
	"github.com/jakopako/goguide/internal/utils"
	"github.com/rivo/tview"
)

const noticePage = "notice"

// Prompt implements sequencer.Notifier on a tview application.
type Prompt struct {
	app    *tview.Application
	pages  *tview.Pages
	log    *tview.TextView
	choose func(sequencer.Choice)
	quit   func()
}

// New returns a prompt that passes answers to choose and calls quit when the
// user leaves. Both are called on the ui goroutine.
func New(choose func(sequencer.Choice), quit func()) *Prompt {
	p := &Prompt{
		app:    tview.NewApplication(),
		pages:  tview.NewPages(),
		choose: choose,
		quit:   quit,
	}
	p.log = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	p.log.SetBorder(true).SetTitle(" goguide  [n]ext [r]etry [s]kip [q]uit ")
	p.log.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			p.leave()
			return nil
		}
		switch event.Rune() {
		case 'n':
			p.choose(sequencer.ChoiceNext)
		case 'r':
			p.choose(sequencer.ChoiceRetry)
		case 's':
			p.choose(sequencer.ChoiceSkip)
		case 'q':
			p.leave()
		default:
			return event
		}
		return nil
	})
	p.pages.AddPage("log", p.log, true, true)
	return p
}

// SetScreen replaces the terminal, for tests.
func (p *Prompt) SetScreen(s tcell.Screen) *Prompt {
	p.app.SetScreen(s)
	return p
}

// Run blocks until the prompt is stopped.
func (p *Prompt) Run() error {
	return p.app.SetRoot(p.pages, true).SetFocus(p.log).Run()
}

func (p *Prompt) Stop() {
	p.app.Stop()
}

func (p *Prompt) leave() {
	if p.quit != nil {
		p.quit()
	}
}

// Printf appends a line to the log view. It is safe to call from any
// goroutine.
func (p *Prompt) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	p.app.QueueUpdateDraw(func() {
		fmt.Fprintln(p.log, tview.Escape(line))
		p.log.ScrollToEnd()
	})
}

// Write appends p to the log view, so the prompt can receive log output.
func (p *Prompt) Write(b []byte) (int, error) {
	p.Printf("%s", strings.TrimRight(string(b), "\n"))
	return len(b), nil
}

// Notify shows n. It does not block.
func (p *Prompt) Notify(n sequencer.Notice) {
	text := describe(n)
	if len(n.Choices) == 0 {
		p.Printf("%s", text)
		return
	}
	p.app.QueueUpdateDraw(func() {
		modal := tview.NewModal().
			SetText(text).
			AddButtons(labels(n.Choices)).
			SetDoneFunc(func(_ int, label string) {
				p.pages.RemovePage(noticePage)
				p.app.SetFocus(p.log)
				if c, ok := choiceFor(label); ok {
					p.choose(c)
				}
			})
		p.pages.RemovePage(noticePage)
		p.pages.AddPage(noticePage, modal, false, true)
		p.app.SetFocus(modal)
	})
}

// describe renders a notice for the terminal.
func describe(n sequencer.Notice) string {
	var b strings.Builder
	if n.Step.ID != "" {
		fmt.Fprintf(&b, "Step %s", n.Step.ID)
		if t := n.Step.Interaction.Title; t != "" {
			fmt.Fprintf(&b, " (%s)", utils.ShortenString(t, 40))
		}
		b.WriteString(": ")
	}
	b.WriteString(n.Message)
	if len(n.Hints) > 0 {
		b.WriteString("\nSimilar elements:")
		for _, h := range n.Hints {
			fmt.Fprintf(&b, "\n  <%s> %s", h.Tag, h.Text)
		}
	}
	return b.String()
}

func labels(choices []sequencer.Choice) []string {
	out := make([]string, len(choices))
	for i, c := range choices {
		s := string(c)
		out[i] = strings.ToUpper(s[:1]) + s[1:]
	}
	return out
}

func choiceFor(label string) (sequencer.Choice, bool) {
	switch c := sequencer.Choice(strings.ToLower(label)); c {
	case sequencer.ChoiceRetry, sequencer.ChoiceSkip, sequencer.ChoiceStop, sequencer.ChoiceNext:
		return c, true
	}
	return "", false
}
