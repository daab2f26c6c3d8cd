// Package preview is a terminal view that follows a pipeline file on disk
// and shows every representation regenerated from it.
package preview

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tandem/internal/controller"
	"github.com/mattjoyce/tandem/internal/diag"
	"github.com/mattjoyce/tandem/internal/events"
)

const (
	DefaultInterval = 500 * time.Millisecond
	eventLogSize    = 50
	tableHeight     = 6
)

type (
	tickMsg time.Time
	fileMsg struct {
		text    string
		modTime time.Time
	}
	errMsg error
)

// pane shows one representation of the pipeline.
type pane struct {
	rep  controller.Representation
	view viewport.Model
}

// Model is the BubbleTea model for the preview.
type Model struct {
	path     string
	interval time.Duration

	ctrl     *controller.Controller
	turns    *controller.TurnQueue
	hub      *events.Hub
	editable controller.Representation

	width  int
	height int

	modTime time.Time
	loaded  bool

	panes  []pane
	active int // len(panes) selects the node table
	nodes  table.Model

	result    *controller.Result
	warnings  []diag.Warning
	eventLog  []events.Event
	lastEvent int64
	activity  Activity

	theme     Theme
	lastError string
}

// New returns a preview of the file at path. opts configures the
// controller; its Deferrer is replaced by one the model drains itself.
func New(path string, opts controller.Options) Model {
	turns := controller.NewTurnQueue()
	hub := events.NewHub(eventLogSize)
	opts.Deferrer = turns
	ctrl := controller.New(opts, hub, nil)

	reps := ctrl.Flavor().Representations()
	panes := make([]pane, 0, len(reps))
	for _, rep := range reps {
		panes = append(panes, pane{rep: rep, view: viewport.New(0, 0)})
	}

	t := table.New(
		table.WithColumns(nodeColumns(40)),
		table.WithHeight(tableHeight),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	m := Model{
		path:     path,
		interval: DefaultInterval,
		ctrl:     ctrl,
		turns:    turns,
		hub:      hub,
		editable: reps[0],
		panes:    panes,
		nodes:    t,
		theme:    NewDefaultTheme(),
	}
	m.refresh()
	return m
}

// WithInterval sets how often the file is checked for changes.
func (m Model) WithInterval(d time.Duration) Model {
	if d > 0 {
		m.interval = d
	}
	return m
}

// Run starts the preview in the alternate screen and blocks until quit.
func Run(path string, opts controller.Options, interval time.Duration) error {
	p := tea.NewProgram(New(path, opts).WithInterval(interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		checkFile(m.path, time.Time{}, false),
		tick(m.interval),
	)
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// checkFile reads path when its modification time differs from seen.
func checkFile(path string, seen time.Time, loaded bool) tea.Cmd {
	return func() tea.Msg {
		info, err := os.Stat(path)
		if err != nil {
			return errMsg(err)
		}
		if loaded && info.ModTime().Equal(seen) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return errMsg(err)
		}
		return fileMsg{text: string(data), modTime: info.ModTime()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.focus((m.active + 1) % (len(m.panes) + 1))
			return m, nil
		case "shift+tab":
			m.focus((m.active + len(m.panes)) % (len(m.panes) + 1))
			return m, nil
		}
		return m.forward(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.MouseMsg:
		return m.forward(msg)

	case tickMsg:
		m.activity.Decay(time.Time(msg))
		return m, tea.Batch(checkFile(m.path, m.modTime, m.loaded), tick(m.interval))

	case fileMsg:
		m.apply(msg)
		return m, nil

	case errMsg:
		m.lastError = msg.Error()
		return m, nil
	}

	return m, nil
}

// apply feeds the file content to the controller as an editor would.
func (m *Model) apply(msg fileMsg) {
	m.modTime = msg.modTime
	m.loaded = true

	res, err := m.ctrl.ApplyEdit(controller.TextEdit(m.editable, msg.text))
	m.turns.Flush()
	if err != nil {
		m.lastError = err.Error()
		return
	}
	m.lastError = ""
	m.result = res
	m.warnings = res.Warnings
	if res.Changed {
		m.activity.OnChange(msg.modTime)
	}
	m.collectEvents()
	m.refresh()
}

// collectEvents moves new hub events into the log, newest first.
func (m *Model) collectEvents() {
	for _, ev := range m.hub.SnapshotSince("", m.lastEvent) {
		m.lastEvent = ev.ID
		m.eventLog = append([]events.Event{ev}, m.eventLog...)
	}
	if len(m.eventLog) > eventLogSize {
		m.eventLog = m.eventLog[:eventLogSize]
	}
}

func (m *Model) focus(i int) {
	m.active = i
	if i == len(m.panes) {
		m.nodes.Focus()
	} else {
		m.nodes.Blur()
	}
}

func (m Model) forward(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if m.active == len(m.panes) {
		m.nodes, cmd = m.nodes.Update(msg)
		return m, cmd
	}
	p := &m.panes[m.active]
	p.view, cmd = p.view.Update(msg)
	return m, cmd
}

// refresh copies the controller's current texts and graph into the widgets.
func (m *Model) refresh() {
	for i := range m.panes {
		m.panes[i].view.SetContent(m.ctrl.Text(m.panes[i].rep))
	}

	g := m.ctrl.Graph()
	rows := make([]table.Row, 0, g.Len())
	for _, n := range g.Nodes() {
		var deps []string
		for _, e := range g.IncomingEdges(n.ID) {
			deps = append(deps, e.Source)
		}
		rows = append(rows, table.Row{n.ID, string(n.Kind), n.Label(), strings.Join(deps, ", ")})
	}
	m.nodes.SetRows(rows)
}

// resize splits the width evenly between the panes, below the header and
// node table.
func (m *Model) resize() {
	inner := m.width - 4
	if inner < 20 {
		inner = 20
	}
	m.nodes.SetColumns(nodeColumns(inner - 4))
	m.nodes.SetWidth(inner)

	paneWidth := inner / len(m.panes)
	paneHeight := m.height - headerHeight - tableHeight - 10
	if paneHeight < 3 {
		paneHeight = 3
	}
	for i := range m.panes {
		m.panes[i].view.Width = paneWidth - 4
		m.panes[i].view.Height = paneHeight
	}
}

func nodeColumns(width int) []table.Column {
	id, kind := 10, 12
	rest := width - id - kind
	if rest < 20 {
		rest = 20
	}
	return []table.Column{
		{Title: "ID", Width: id},
		{Title: "Kind", Width: kind},
		{Title: "Label", Width: rest / 2},
		{Title: "After", Width: rest - rest/2},
	}
}

func title(rep controller.Representation) string {
	return strings.ToUpper(string(rep))
}

func (m Model) status() string {
	switch {
	case m.lastError != "":
		return m.theme.Failed.Render(fmt.Sprintf("⚠ %s", m.lastError))
	case !m.loaded:
		return m.theme.Dim.Render("waiting for file")
	case len(m.warnings) > 0:
		return m.theme.Warning.Render(m.warnings[0].String())
	default:
		return m.theme.OK.Render("in sync")
	}
}
