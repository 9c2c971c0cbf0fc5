// Package tui is the terminal editor over the bitquill App facade: type a
// paragraph, press enter to commit it against the VDF clock, save and verify
// without leaving the screen. It holds no document state of its own — every
// mutation goes through the App.
package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/ciphernom/bitquill"
)

// pollInterval paces the UI's tick drain; the clock itself runs freely in
// the background.
const pollInterval = 250 * time.Millisecond

// Run starts the editor over an existing App. path may be empty for an
// unsaved document. Blocks until the user quits.
func Run(app *bitquill.App, path string) error {
	program := tea.NewProgram(newModel(app, path), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

type tickMsg time.Time

func pollTicks() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	app  *bitquill.App
	path string

	buffer string // paragraph being typed, not yet committed
	status string

	report     *bitquill.Report
	showReport bool

	width  int
	height int
}

func newModel(app *bitquill.App, path string) model {
	return model{
		app:    app,
		path:   path,
		status: "waiting for first VDF tick...",
	}
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	return pollTicks()
}

// Update implements tea.Model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.app.ProcessTicks() > 0 && strings.HasPrefix(m.status, "waiting") {
			m.status = "clock running"
		}
		return m, pollTicks()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showReport {
		// Any key dismisses the verification overlay.
		m.showReport = false
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlQ:
		return m, tea.Quit

	case tea.KeyCtrlS:
		m.save()
		return m, nil

	case tea.KeyCtrlV:
		report := m.app.Verify(bitquill.Standard)
		m.report = &report
		m.showReport = true
		return m, nil

	case tea.KeyEnter:
		m.commit()
		return m, nil

	case tea.KeyBackspace:
		if len(m.buffer) > 0 {
			m.buffer = m.buffer[:len(m.buffer)-1]
		}
		return m, nil

	case tea.KeySpace:
		m.buffer += " "
		return m, nil

	case tea.KeyRunes:
		m.buffer += string(msg.Runes)
		return m, nil
	}
	return m, nil
}

func (m *model) commit() {
	if strings.TrimSpace(m.buffer) == "" {
		m.status = "nothing to commit"
		return
	}
	err := m.app.CommitParagraph(m.buffer)
	switch {
	case errors.Is(err, bitquill.ErrPendingTick):
		m.status = "clock warming up - paragraph held, press enter again shortly"
	case err != nil:
		m.status = fmt.Sprintf("commit failed: %v", err)
	default:
		m.status = fmt.Sprintf("paragraph #%d committed", len(m.app.Leaves()))
		m.buffer = ""
	}
}

func (m *model) save() {
	if m.path == "" {
		m.status = "no file path - start the editor with a .bq filename"
		return
	}
	if err := m.app.Save(m.path); err != nil {
		m.status = fmt.Sprintf("save failed: %v", err)
		return
	}
	m.status = fmt.Sprintf("saved %s", m.path)
}

// View implements tea.Model.
func (m model) View() string {
	if m.showReport && m.report != nil {
		return m.reportView()
	}

	var b strings.Builder

	title := m.app.Metadata().Title
	if m.app.IsDirty() {
		title += " *"
	}
	fmt.Fprintf(&b, "BitQuill - %s\n", title)
	b.WriteString(strings.Repeat("-", max(20, m.width)) + "\n")

	// Tail of committed paragraphs, capped to the visible region.
	leaves := m.app.Leaves()
	visible := len(leaves)
	if m.height > 10 && visible > m.height-8 {
		visible = m.height - 8
	}
	for _, leaf := range leaves[len(leaves)-visible:] {
		fmt.Fprintf(&b, "%3d| %s\n", leaf.LeafNumber, leaf.Content)
	}

	fmt.Fprintf(&b, "   > %s_\n", m.buffer)
	b.WriteString(strings.Repeat("-", max(20, m.width)) + "\n")

	b.WriteString(m.statusLine() + "\n")
	b.WriteString("enter commit - ctrl+s save - ctrl+v verify - ctrl+q quit\n")
	return b.String()
}

func (m model) statusLine() string {
	tick := m.app.LatestTick()
	if tick == nil {
		return m.status
	}
	root := m.app.RootHash()
	if len(root) > 8 {
		root = root[:8]
	}
	line := fmt.Sprintf("tick #%d - difficulty %s - root %s",
		tick.SequenceNumber, humanize.Comma(int64(tick.Iterations)), root)
	if avg := m.app.AverageTickInterval(); avg > 0 {
		line += fmt.Sprintf(" - %.2fs/tick", avg.Seconds())
	}
	if m.status != "" {
		line += " | " + m.status
	}
	return line
}

func (m model) reportView() string {
	var b strings.Builder

	verdict := "PASS"
	if !m.report.Valid {
		verdict = "FAIL"
	}
	ok, warnings, fatals := m.report.Counts()
	fmt.Fprintf(&b, "Verification (%s): %s - %d ok, %d warnings, %d fatal\n",
		m.report.Level, verdict, ok, warnings, fatals)
	b.WriteString(strings.Repeat("-", max(20, m.width)) + "\n")

	// Show problems first; cap the listing to the screen.
	shown := 0
	limit := max(10, m.height-5)
	for _, severity := range []bitquill.Severity{bitquill.Fatal, bitquill.Warning, bitquill.OK} {
		for _, d := range m.report.Details {
			if d.Severity != severity || shown >= limit {
				continue
			}
			fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(d.Severity.String()), d.Description)
			shown++
		}
	}
	if shown < len(m.report.Details) {
		fmt.Fprintf(&b, "... %d more\n", len(m.report.Details)-shown)
	}
	b.WriteString("\npress any key to close\n")
	return b.String()
}
