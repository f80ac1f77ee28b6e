// internal/tui/app.go
//
// Progress view for component setup. Each component's stages are listed in
// execution order and updated as stage events arrive from the pipeline.
// The setup itself runs in a goroutine started by RunSetup; this model only
// renders what it is told.

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/gtpipe/internal/stage"
)

var (
	labelStyleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStylePending = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	titleStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
)

// Plan lists the stages of one component.
type Plan struct {
	Component string
	Stages    []string
}

type rowState int

const (
	rowPending rowState = iota
	rowRunning
	rowDone
	rowSkipped
	rowFailed
)

type row struct {
	component string
	stage     string
	state     rowState
	detail    string
	elapsed   time.Duration
}

// StageStartedMsg reports a stage that began running.
type StageStartedMsg stage.Event

// StageFinishedMsg reports a stage that ended.
type StageFinishedMsg stage.Event

// DoneMsg ends the view.
type DoneMsg struct {
	Err error
}

// Model is the bubbletea model of the progress view.
type Model struct {
	title    string
	rows     []row
	index    map[string]int
	spinner  spinner.Model
	done     bool
	aborted  bool
	err      error
	started  time.Time
	finished time.Time
	now      func() time.Time
}

// NewModel builds the view for the given plan.
func NewModel(title string, plan []Plan) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = labelStyleRunning
	m := Model{
		title:   title,
		index:   map[string]int{},
		spinner: sp,
		now:     time.Now,
	}
	for _, p := range plan {
		for _, id := range p.Stages {
			m.index[rowKey(p.Component, id)] = len(m.rows)
			m.rows = append(m.rows, row{component: p.Component, stage: id})
		}
	}
	m.started = m.now()
	return m
}

func rowKey(component, stageID string) string {
	return component + "/" + stageID
}

// Err returns the error the setup ended with.
func (m Model) Err() error {
	return m.err
}

// Aborted reports whether the user quit before the setup finished.
func (m Model) Aborted() bool {
	return m.aborted
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.done {
				m.aborted = true
			}
			return m, tea.Quit
		}
	case StageStartedMsg:
		m.update(stage.Event(msg), rowRunning)
	case StageFinishedMsg:
		ev := stage.Event(msg)
		state := rowDone
		switch {
		case ev.Err != nil || ev.Result.Status == stage.StatusFailed:
			state = rowFailed
		case ev.Result.Status == stage.StatusSkipped:
			state = rowSkipped
		}
		m.update(ev, state)
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		m.finished = m.now()
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) update(ev stage.Event, state rowState) {
	key := rowKey(ev.Component, ev.Stage.ID)
	idx, ok := m.index[key]
	if !ok {
		idx = len(m.rows)
		m.index[key] = idx
		m.rows = append(m.rows, row{component: ev.Component, stage: ev.Stage.ID})
	}
	r := &m.rows[idx]
	r.state = state
	r.elapsed = ev.Elapsed
	switch {
	case ev.Err != nil:
		r.detail = ev.Err.Error()
	case ev.Result.Message != "":
		r.detail = ev.Result.Message
	}
}

func (m Model) View() string {
	lines := []string{titleStyle.Render(m.title), ""}
	current := ""
	for _, r := range m.rows {
		if r.component != current {
			current = r.component
			lines = append(lines, fmt.Sprintf("Component %s", current))
		}
		lines = append(lines, m.renderRow(r))
	}
	lines = append(lines, "")
	switch {
	case m.done && m.err != nil:
		lines = append(lines, labelStyleFailed.Render(fmt.Sprintf("Setup failed: %v", m.err)))
	case m.done:
		lines = append(lines, labelStyleDone.Render(fmt.Sprintf("Setup finished in %s", m.finished.Sub(m.started).Round(time.Second))))
	default:
		lines = append(lines, detailTextStyle.Render("q=abort"))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m Model) renderRow(r row) string {
	var label string
	switch r.state {
	case rowRunning:
		label = m.spinner.View() + " " + labelStyleRunning.Render("Running")
	case rowDone:
		label = labelStyleDone.Render(fmt.Sprintf("Done (%s)", r.elapsed.Round(time.Millisecond)))
	case rowSkipped:
		label = labelStyleSkipped.Render("Skipped")
	case rowFailed:
		label = labelStyleFailed.Render("Failed")
	default:
		label = labelStylePending.Render("Pending")
	}
	line := fmt.Sprintf("  %-11s %s", r.stage, label)
	if r.detail != "" && r.state != rowRunning {
		line += " " + detailTextStyle.Render(r.detail)
	}
	return line
}

// Observer forwards stage events to a running program. Events arriving
// before the program is bound are dropped.
type Observer struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

// NewObserver returns an unbound observer.
func NewObserver() *Observer {
	return &Observer{}
}

func (o *Observer) bind(send func(tea.Msg)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.send = send
}

func (o *Observer) emit(msg tea.Msg) {
	o.mu.Lock()
	send := o.send
	o.mu.Unlock()
	if send != nil {
		send(msg)
	}
}

// StageStarted implements stage.Observer.
func (o *Observer) StageStarted(ev stage.Event) {
	o.emit(StageStartedMsg(ev))
}

// StageFinished implements stage.Observer.
func (o *Observer) StageFinished(ev stage.Event) {
	o.emit(StageFinishedMsg(ev))
}

// ErrAborted is returned by RunSetup when the user quits early.
var ErrAborted = errors.New("tui: aborted")

// RunSetup shows the progress view while run executes. Quitting the view
// cancels the context given to run.
func RunSetup(ctx context.Context, title string, plan []Plan, obs *Observer, run func(context.Context) error, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	program := tea.NewProgram(NewModel(title, plan), append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	obs.bind(program.Send)
	defer obs.bind(nil)

	result := make(chan error, 1)
	go func() {
		err := run(ctx)
		result <- err
		program.Send(DoneMsg{Err: err})
	}()

	final, err := program.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	if m, ok := final.(Model); ok && m.Aborted() {
		cancel()
		<-result
		return ErrAborted
	}
	return <-result
}
