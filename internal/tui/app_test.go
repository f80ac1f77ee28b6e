package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/gtpipe/internal/stage"
)

func testPlan() []Plan {
	return []Plan{
		{Component: "back", Stages: []string{"gtselect", "gtbin"}},
		{Component: "front", Stages: []string{"gtselect", "gtbin"}},
	}
}

func apply(t *testing.T, m Model, msgs ...tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, msg := range msgs {
		var next tea.Model
		next, cmd = m.Update(msg)
		var ok bool
		m, ok = next.(Model)
		if !ok {
			t.Fatalf("update returned %T", next)
		}
	}
	return m, cmd
}

func TestModelTracksStageEvents(t *testing.T) {
	m := NewModel("Setup crab", testPlan())
	selectInfo := stage.Info{ID: "gtselect", Name: "Select Events", Version: "1"}
	binInfo := stage.Info{ID: "gtbin", Name: "Bin Counts", Version: "1"}
	m, _ = apply(t, m,
		StageStartedMsg{Component: "back", Stage: selectInfo},
		StageFinishedMsg{Component: "back", Stage: selectInfo, Result: stage.Result{Status: stage.StatusSkipped}},
		StageStartedMsg{Component: "back", Stage: binInfo},
		StageFinishedMsg{Component: "back", Stage: binInfo, Result: stage.Result{Status: stage.StatusCompleted}, Elapsed: 2 * time.Second},
		StageFinishedMsg{Component: "front", Stage: selectInfo, Err: errors.New("gtselect exited 1")},
	)
	view := m.View()
	for _, want := range []string{"Setup crab", "Component back", "Component front", "Skipped", "Done (2s)", "Failed", "gtselect exited 1", "Pending"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
	if m.rows[0].state != rowSkipped || m.rows[2].state != rowFailed || m.rows[3].state != rowPending {
		t.Fatalf("unexpected row states %+v", m.rows)
	}
}

func TestModelAddsUnplannedStages(t *testing.T) {
	m := NewModel("Setup", nil)
	m, _ = apply(t, m, StageStartedMsg{Component: "00", Stage: stage.Info{ID: "gtmodel"}})
	if len(m.rows) != 1 || m.rows[0].state != rowRunning {
		t.Fatalf("expected one running row, got %+v", m.rows)
	}
}

func TestDoneQuits(t *testing.T) {
	m := NewModel("Setup", testPlan())
	m, cmd := apply(t, m, DoneMsg{Err: errors.New("boom")})
	if cmd == nil {
		t.Fatalf("done should quit the program")
	}
	if m.Err() == nil || m.Aborted() {
		t.Fatalf("unexpected state err=%v aborted=%v", m.Err(), m.Aborted())
	}
	if !strings.Contains(m.View(), "Setup failed: boom") {
		t.Fatalf("view should report the failure:\n%s", m.View())
	}
}

func TestQuitBeforeDoneAborts(t *testing.T) {
	m := NewModel("Setup", testPlan())
	m, cmd := apply(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil || !m.Aborted() {
		t.Fatalf("q should abort, aborted=%v", m.Aborted())
	}
}

func TestObserverForwardsOnceBound(t *testing.T) {
	obs := NewObserver()
	obs.StageStarted(stage.Event{Component: "00"})

	var got []tea.Msg
	obs.bind(func(msg tea.Msg) { got = append(got, msg) })
	ev := stage.Event{Component: "00", Stage: stage.Info{ID: "gtbin"}}
	obs.StageStarted(ev)
	obs.StageFinished(ev)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if _, ok := got[1].(StageFinishedMsg); !ok {
		t.Fatalf("second message is %T", got[1])
	}
}
